package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var defaultState = json.RawMessage(`{"items":[],"connections":[]}`)

// RosterEntry records a user that joined the room over HTTP. The roster is
// ordered by join time and holds one entry per username.
type RosterEntry struct {
	Username string    `json:"username"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
	Color    string    `json:"color"`
}

// JoinResult is what a successful HTTP join hands back to the client.
type JoinResult struct {
	UserID string
	Color  string
	State  json.RawMessage
}

// Summary is the admin overview of a single room.
type Summary struct {
	RoomID            string        `json:"room_id"`
	Name              string        `json:"name"`
	CreatedAt         time.Time     `json:"created_at"`
	Creator           string        `json:"creator"`
	ActiveConnections int           `json:"active_connections"`
	TotalUsers        int           `json:"total_users"`
	ItemsCount        int           `json:"items_count"`
	ConnectionsCount  int           `json:"connections_count"`
	Locked            bool          `json:"locked"`
	Users             []RosterEntry `json:"users"`
}

// Room is one broadcast domain. All fields behind mu are mutated only with
// mu held; members, state and metadata change together.
type Room struct {
	id  string
	log *slog.Logger
	now func() time.Time

	mu             sync.RWMutex
	name           string
	createdAt      time.Time
	creator        string
	locked         bool
	roster         []RosterEntry
	members        map[ConnID]*member
	nextSeq        uint64
	state          json.RawMessage
	stateUpdatedAt time.Time
	lastActive     time.Time
	removed        bool
}

func newRoom(id, name, creator string, now func() time.Time, logger *slog.Logger) *Room {
	created := now()
	return &Room{
		id:         id,
		log:        logger.With("room_id", id),
		now:        now,
		name:       name,
		createdAt:  created,
		creator:    creator,
		members:    make(map[ConnID]*member),
		state:      append(json.RawMessage(nil), defaultState...),
		lastActive: created,
	}
}

// ID returns the immutable room identifier.
func (r *Room) ID() string { return r.id }

// Name returns the display name given at creation.
func (r *Room) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Creator returns the first user that joined, or "" if nobody has.
func (r *Room) Creator() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creator
}

// Locked reports whether new joins are currently refused.
func (r *Room) Locked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked
}

// Lock blocks new joins. Existing members stay connected.
func (r *Room) Lock() {
	r.mu.Lock()
	r.locked = true
	r.mu.Unlock()
}

// Unlock allows new joins again.
func (r *Room) Unlock() {
	r.mu.Lock()
	r.locked = false
	r.mu.Unlock()
}

// State returns a copy of the last shared state.
func (r *Room) State() json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateCopyLocked()
}

// MemberCount returns the number of attached connections.
func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Roster returns a copy of the HTTP-level user roster.
func (r *Room) Roster() []RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RosterEntry(nil), r.roster...)
}

// Presences returns the presence-mode members in join order.
func (r *Room) Presences() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presencesLocked()
}

// Presence returns the presence record of one attached connection.
func (r *Room) Presence(id ConnID) (Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return Presence{}, false
	}
	return m.Presence, true
}

// Join registers username in the roster and returns its color and the
// current state. Joining again under the same name returns the first roster
// entry's user id and color.
func (r *Room) Join(username string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed {
		return JoinResult{}, fmt.Errorf("%w: %s", ErrNotFound, r.id)
	}
	if r.locked {
		return JoinResult{}, fmt.Errorf("%w: %s", ErrRoomLocked, r.id)
	}

	now := r.now()
	r.lastActive = now
	if r.creator == "" {
		r.creator = username
	}

	result := JoinResult{State: r.stateCopyLocked()}
	if entry, ok := r.rosterEntryLocked(username); ok {
		result.UserID = entry.UserID
		result.Color = entry.Color
		return result, nil
	}

	result.UserID = uuid.NewString()
	result.Color = pickColor(r.usedColorsLocked())
	r.roster = append(r.roster, RosterEntry{
		Username: username,
		UserID:   result.UserID,
		JoinedAt: now,
		Color:    result.Color,
	})
	r.log.Info("user joined roster", "username", username, "color", result.Color)
	return result, nil
}

// Touch records inbound activity for a member.
func (r *Room) Touch(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.lastActive = now
	if m, ok := r.members[id]; ok {
		m.Presence.LastActivityAt = now
	}
}

// UpdateState replaces the shared state and relays it to every other member.
// Presence members get envelope verbatim (or a fresh state_update wrapping
// state when envelope is nil); legacy members get the bare state.
func (r *Room) UpdateState(from ConnID, state json.RawMessage, envelope []byte) Delivery {
	if envelope == nil {
		envelope = WrapState(state)
	}
	bare := append([]byte(nil), state...)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.state = append(json.RawMessage(nil), state...)
	r.stateUpdatedAt = now
	r.lastActive = now
	return r.fanOutLocked(from, func(m *member) []byte {
		if m.Mode == ModeLegacy {
			return bare
		}
		return envelope
	})
}

// Relay forwards a transient frame, such as activity, to every other
// presence member. Nothing is stored.
func (r *Room) Relay(from ConnID, frame []byte) Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fanOutLocked(from, presenceOnly(frame))
}

// Broadcast sends payload to every member except exclude. Pass zero to
// reach everybody.
func (r *Room) Broadcast(payload []byte, exclude ConnID) Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fanOutLocked(exclude, toEveryone(payload))
}

// Summary returns the admin overview of the room.
func (r *Room) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, conns := countStateItems(r.state)
	return Summary{
		RoomID:            r.id,
		Name:              r.name,
		CreatedAt:         r.createdAt,
		Creator:           r.creator,
		ActiveConnections: len(r.members),
		TotalUsers:        len(r.roster),
		ItemsCount:        items,
		ConnectionsCount:  conns,
		Locked:            r.locked,
		Users:             append([]RosterEntry{}, r.roster...),
	}
}

// addMemberLocked attaches m, re-checking the lock flag at the moment of the
// attempt. Presence members get a users_list snapshot and the others get
// user_joined; legacy members get the current state if anyone has set one.
func (r *Room) addMemberLocked(m Member) error {
	if r.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, r.id)
	}
	if r.locked {
		return fmt.Errorf("%w: %s", ErrRoomLocked, r.id)
	}
	if _, dup := r.members[m.ID]; dup {
		return fmt.Errorf("connection %d already attached to room %s", m.ID, r.id)
	}

	now := r.now()
	r.lastActive = now
	m.Presence.LastActivityAt = now
	if m.Mode == ModePresence {
		if m.Presence.Color == "" {
			m.Presence.Color = r.colorForLocked(m.Presence.Username)
		}
		if r.creator == "" {
			r.creator = m.Presence.Username
		}
	}

	r.nextSeq++
	r.members[m.ID] = &member{Member: m, seq: r.nextSeq}

	switch m.Mode {
	case ModePresence:
		r.fanOutLocked(m.ID, presenceOnly(encodeUserJoined(m.Presence)))
		if err := m.Conn.Send(encodeUsersList(r.presencesLocked())); err != nil {
			r.log.Warn("users_list not delivered", "conn_id", m.ID, "err", err)
		}
	case ModeLegacy:
		if !r.stateUpdatedAt.IsZero() {
			if err := m.Conn.Send(r.stateCopyLocked()); err != nil {
				r.log.Warn("initial state not delivered", "conn_id", m.ID, "err", err)
			}
		}
	}

	r.log.Info("member attached",
		"conn_id", m.ID,
		"mode", m.Mode.String(),
		"username", m.Presence.Username,
		"members", len(r.members))
	return nil
}

// removeMemberLocked detaches id. Remaining presence members learn about it
// through user_left unless the room itself is already gone.
func (r *Room) removeMemberLocked(id ConnID) (Presence, bool) {
	m, ok := r.members[id]
	if !ok {
		return Presence{}, false
	}
	delete(r.members, id)
	r.lastActive = r.now()

	if m.Mode == ModePresence && !r.removed {
		r.fanOutLocked(id, presenceOnly(encodeUserLeft(m.Presence.UserID)))
	}

	r.log.Info("member detached",
		"conn_id", id,
		"mode", m.Mode.String(),
		"username", m.Presence.Username,
		"members", len(r.members))
	return m.Presence, true
}

func (r *Room) presencesLocked() []Presence {
	ordered := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		if m.Mode == ModePresence {
			ordered = append(ordered, m)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]Presence, 0, len(ordered))
	for _, m := range ordered {
		out = append(out, m.Presence)
	}
	return out
}

func (r *Room) rosterEntryLocked(username string) (RosterEntry, bool) {
	for _, e := range r.roster {
		if e.Username == username {
			return e, true
		}
	}
	return RosterEntry{}, false
}

func (r *Room) usedColorsLocked() map[string]bool {
	used := make(map[string]bool, len(r.roster))
	for _, e := range r.roster {
		used[e.Color] = true
	}
	return used
}

func (r *Room) colorForLocked(username string) string {
	if entry, ok := r.rosterEntryLocked(username); ok {
		return entry.Color
	}
	return palette[0]
}

func (r *Room) stateCopyLocked() json.RawMessage {
	return append(json.RawMessage(nil), r.state...)
}

// countStateItems reports the lengths of the whiteboard's items and
// connections arrays. Other state shapes count as zero.
func countStateItems(state json.RawMessage) (items, connections int) {
	var doc struct {
		Items       []json.RawMessage `json:"items"`
		Connections []json.RawMessage `json:"connections"`
	}
	if err := json.Unmarshal(state, &doc); err != nil {
		return 0, 0
	}
	return len(doc.Items), len(doc.Connections)
}
