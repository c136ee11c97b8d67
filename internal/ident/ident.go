// Package ident provides the opaque prefixed identifiers and the fixed-format
// timestamps used throughout the data model. Identifiers look like
// "usr_6f1c…" — a short entity prefix, an underscore, and 32 hex characters of
// UUID entropy. Timestamps are fixed-width RFC-3339 UTC strings, so comparing
// two of them lexicographically is the same as comparing them chronologically.
package ident

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entity prefixes. One per entity type from the data model.
const (
	PrefixUser       = "usr"
	PrefixServer     = "srv"
	PrefixChannel    = "chn"
	PrefixMessage    = "msg"
	PrefixThread     = "thr"
	PrefixRole       = "rol"
	PrefixOverwrite  = "ovr"
	PrefixInvite     = "inv"
	PrefixFriendReq  = "frq"
	PrefixModeration = "mod"
	PrefixToken      = "tok"
	PrefixPush       = "psh"
	PrefixAttachment = "att"
	PrefixReport     = "rpt"
	PrefixAppeal     = "apl"
	PrefixWebhook    = "whk"
	PrefixAudit      = "adt"
)

// timeLayout is fixed-width (nanosecond precision, zero-padded) so that
// lexicographic ordering of encoded timestamps matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// New returns a fresh identifier with the given entity prefix.
func New(prefix string) string {
	u := uuid.New()
	return prefix + "_" + strings.ReplaceAll(u.String(), "-", "")
}

// HasPrefix reports whether id carries the given entity prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_")
}

var (
	clockMu sync.Mutex
	lastNow time.Time
)

// Now returns the current UTC time, guaranteed to be strictly after any time
// previously returned by Now in this process. The guarantee makes createdAt a
// usable total order even when two entities are created within the same
// wall-clock nanosecond.
func Now() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()
	now := time.Now().UTC()
	if !now.After(lastNow) {
		now = lastNow.Add(time.Nanosecond)
	}
	lastNow = now
	return now
}

// Timestamp encodes t in the fixed-width UTC layout used on the wire and in
// the store.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NowString returns Now() already encoded as a timestamp string.
func NowString() string {
	return Timestamp(Now())
}

// ParseTimestamp decodes a timestamp produced by Timestamp. It also accepts
// plain RFC-3339 input so values written by other tooling still load.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
