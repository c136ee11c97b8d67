package gateway

import (
	"encoding/json"
	"testing"
)

func TestEncode_EnvelopeShape(t *testing.T) {
	t.Parallel()
	raw, err := Encode(EventTypingUpdated, map[string]any{"conversationId": "chn_1"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != EventTypingUpdated {
		t.Errorf("type = %q", env.Type)
	}
	if len(env.Payload) == 0 {
		t.Error("payload missing")
	}
}

func TestEncode_NilPayloadOmitted(t *testing.T) {
	t.Parallel()
	raw, err := Encode(EventPong, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(raw) != `{"type":"pong"}` {
		t.Errorf("frame = %s", raw)
	}
}

func TestClientFrame_Decode(t *testing.T) {
	t.Parallel()
	var frame ClientFrame
	if err := json.Unmarshal([]byte(`{"type":"subscribe","conversationId":"thr_9"}`), &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != FrameSubscribe || frame.ConversationID != "thr_9" {
		t.Errorf("frame = %+v", frame)
	}
}
