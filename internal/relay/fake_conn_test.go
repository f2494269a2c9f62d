package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn records every frame the relay enqueues for it.
type fakeConn struct {
	mu           sync.Mutex
	frames       [][]byte
	fail         bool
	disconnected bool
	closeCode    int
	closeReason  string
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ErrSendBufferFull
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Disconnect(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// decoded returns the sent frames as generic JSON objects.
func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range c.sent() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m), "frame %s", f)
		out = append(out, m)
	}
	return out
}

// types returns the "type" field of each sent frame.
func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range c.decoded(t) {
		typ, _ := m["type"].(string)
		out = append(out, typ)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(policy Policy) (*Registry, *manualClock) {
	clock := newManualClock()
	g := NewRegistry(policy, testLogger())
	g.now = clock.Now
	return g, clock
}

func presenceMember(id ConnID, conn Conn, username string) Member {
	return Member{
		ID:       id,
		Conn:     conn,
		Presence: Presence{Username: username, UserID: "uid-" + username},
		Mode:     ModePresence,
	}
}
