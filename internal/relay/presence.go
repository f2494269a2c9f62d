package relay

import "time"

// ConnID identifies one live connection. The transport layer mints it at
// accept time; zero is never minted and means "no connection".
type ConnID uint64

// Close codes for server-initiated disconnects (RFC 6455 section 7.4.1).
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// ReasonDeletedByAdmin is the close reason sent to members of a room that an
// administrator deleted.
const ReasonDeletedByAdmin = "deleted by admin"

// Conn is the outbound half of a member's transport. Send must not block:
// it enqueues onto the connection's own ordered queue and reports
// ErrSendBufferFull or ErrConnectionClosed on failure. Disconnect asks the
// transport to close with the given code and reason; it is idempotent.
type Conn interface {
	Send(payload []byte) error
	Disconnect(code int, reason string)
}

// Mode selects the wire protocol a member speaks.
type Mode int

const (
	// ModePresence members run the join handshake and receive presence
	// events and activity.
	ModePresence Mode = iota
	// ModeLegacy members exchange bare state documents only.
	ModeLegacy
)

func (m Mode) String() string {
	if m == ModeLegacy {
		return "legacy"
	}
	return "presence"
}

// Presence is the identity a connection shows to the rest of its room.
type Presence struct {
	Username       string    `json:"username"`
	UserID         string    `json:"user_id"`
	Color          string    `json:"color"`
	LastActivityAt time.Time `json:"-"`
}

// Member is a connection being attached to a room.
type Member struct {
	ID       ConnID
	Conn     Conn
	Presence Presence
	Mode     Mode
}

// member is the room-owned record of an attached connection. seq preserves
// join order for users_list snapshots.
type member struct {
	Member
	seq uint64
}

var palette = []string{
	"#ef4444",
	"#f97316",
	"#eab308",
	"#22c55e",
	"#06b6d4",
	"#3b82f6",
	"#8b5cf6",
	"#ec4899",
}

// Palette returns the user colors in assignment order.
func Palette() []string {
	return append([]string(nil), palette...)
}

// pickColor returns the first palette color not in used, wrapping to the
// first color once the palette is exhausted.
func pickColor(used map[string]bool) string {
	for _, c := range palette {
		if !used[c] {
			return c
		}
	}
	return palette[0]
}
