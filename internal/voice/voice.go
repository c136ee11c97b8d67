// Package voice proxies voice endpoints to the external signaling service and
// relays its session updates back through the gateway. The gateway never
// terminates media; it only forwards identity-stamped requests and fans out
// the resulting session state.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mango-chat/mango-server/internal/model"
)

// Target kinds forwarded to the signaling service.
const (
	TargetChannel = "channel"
	TargetThread  = "thread"
)

// ErrUpstreamUnavailable is returned when the signaling service cannot be
// reached or times out; handlers map it to 503.
var ErrUpstreamUnavailable = errors.New("voice signaling service unavailable")

// Identity headers stamped on every forwarded request.
const (
	HeaderUserID      = "X-Voice-User-Id"
	HeaderTargetKind  = "X-Voice-Target-Kind"
	HeaderTargetID    = "X-Voice-Target-Id"
	HeaderServerID    = "X-Voice-Server-Id"
	HeaderScreenShare = "X-Voice-Screen-Share"
)

// Request describes one forwarded voice call.
type Request struct {
	Action      string // join, leave, state, heartbeat, screen-share
	UserID      string
	TargetKind  string
	TargetID    string
	ServerID    string
	ScreenShare bool
	Body        []byte
}

// Client forwards voice requests to the signaling upstream with a bounded
// deadline.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a voice client. An empty baseURL means no upstream is
// configured; every call then fails with ErrUpstreamUnavailable.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Configured reports whether an upstream URL is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Forward sends the request upstream and parses the returned VoiceSession.
// Transport failures and timeouts surface as ErrUpstreamUnavailable; upstream
// error statuses are returned with their status code for the handler to
// relay.
func (c *Client) Forward(ctx context.Context, req Request) (*model.VoiceSession, int, error) {
	if !c.Configured() {
		return nil, 0, ErrUpstreamUnavailable
	}

	url := c.baseURL + "/voice/" + req.Action
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, 0, fmt.Errorf("build voice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderUserID, req.UserID)
	httpReq.Header.Set(HeaderTargetKind, req.TargetKind)
	httpReq.Header.Set(HeaderTargetID, req.TargetID)
	if req.ServerID != "" {
		httpReq.Header.Set(HeaderServerID, req.ServerID)
	}
	if req.ScreenShare {
		httpReq.Header.Set(HeaderScreenShare, "1")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, ErrUpstreamUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, ErrUpstreamUnavailable
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("voice upstream returned %d", resp.StatusCode)
	}

	var session model.VoiceSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode voice session: %w", err)
	}
	return &session, resp.StatusCode, nil
}
