package relay

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Policy decides what happens when a client names a room that does not exist.
type Policy string

const (
	// PolicyAutoCreate silently creates the room, named "Unknown".
	PolicyAutoCreate Policy = "auto-create"
	// PolicyStrict rejects the join with ErrNotFound.
	PolicyStrict Policy = "strict"
)

// ParsePolicy maps a config value to a Policy. Empty selects auto-create.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAutoCreate:
		return PolicyAutoCreate, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown room policy %q", s)
	}
}

const (
	roomIDLength   = 8
	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// UnknownRoomName names rooms created implicitly by a join.
	UnknownRoomName = "Unknown"
	// AnonymousUsername is the display name of legacy members.
	AnonymousUsername = "anonymous"
)

// Registry owns every live room. Lock order is Registry.mu, then Room.mu.
type Registry struct {
	policy Policy
	log    *slog.Logger
	now    func() time.Time
	newID  func() string

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry(policy Policy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = PolicyAutoCreate
	}
	return &Registry{
		policy: policy,
		log:    logger.With("component", "registry"),
		now:    time.Now,
		newID:  randomRoomID,
		rooms:  make(map[string]*Room),
	}
}

// Policy returns the unknown-room policy in effect.
func (g *Registry) Policy() Policy { return g.policy }

// Create makes a new empty room with a fresh id.
func (g *Registry) Create(name string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.newID()
	for g.rooms[id] != nil {
		id = g.newID()
	}
	room := newRoom(id, name, "", g.clock, g.log)
	g.rooms[id] = room
	g.log.Info("room created", "room_id", id, "name", name)
	return room
}

// Ensure returns room id, creating it under the auto-create policy.
func (g *Registry) Ensure(id, fallbackCreator string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureLocked(id, fallbackCreator)
}

// Get returns room id or ErrNotFound.
func (g *Registry) Get(id string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return room, nil
}

// Join is the HTTP-level join: the room is resolved under the policy and
// the user added to its roster in one step.
func (g *Registry) Join(id, username string) (*Room, JoinResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, err := g.ensureLocked(id, username)
	if err != nil {
		return nil, JoinResult{}, err
	}
	result, err := room.Join(username)
	if err != nil {
		return nil, JoinResult{}, err
	}
	return room, result, nil
}

// CheckAdmission reports whether a connection for room id may proceed to
// the join handshake. It creates nothing.
func (g *Registry) CheckAdmission(id string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[id]
	if !ok {
		if g.policy == PolicyStrict {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	}
	if room.Locked() {
		return fmt.Errorf("%w: %s", ErrRoomLocked, id)
	}
	return nil
}

// Attach registers a live member with room id, resolving the room under the
// policy. The lock flag is checked again here, so a room locked during the
// handshake refuses the member.
func (g *Registry) Attach(id string, m Member) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	creator := ""
	if m.Mode == ModePresence {
		creator = m.Presence.Username
	}
	room, err := g.ensureLocked(id, creator)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if err := room.addMemberLocked(m); err != nil {
		return nil, err
	}
	return room, nil
}

// Detach removes connection id from room. A room left without members is
// deleted in the same critical section.
func (g *Registry) Detach(room *Room, id ConnID) (Presence, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.removeMemberLocked(id)
	if !ok {
		return Presence{}, false
	}
	if len(room.members) == 0 && !room.removed && g.rooms[room.id] == room {
		delete(g.rooms, room.id)
		room.removed = true
		g.log.Info("room removed", "room_id", room.id, "reason", "empty")
	}
	return p, true
}

// Delete removes room id and disconnects every member with a normal close
// carrying reason.
func (g *Registry) Delete(id, reason string) error {
	g.mu.Lock()
	room, ok := g.rooms[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(g.rooms, id)

	room.mu.Lock()
	room.removed = true
	conns := make([]Conn, 0, len(room.members))
	for _, m := range room.members {
		conns = append(conns, m.Conn)
	}
	room.mu.Unlock()
	g.mu.Unlock()

	for _, c := range conns {
		c.Disconnect(CloseNormal, reason)
	}
	g.log.Info("room removed", "room_id", id, "reason", reason, "disconnected", len(conns))
	return nil
}

// Overview returns a summary of every room, oldest first.
func (g *Registry) Overview() []Summary {
	g.mu.RLock()
	out := make([]Summary, 0, len(g.rooms))
	for _, room := range g.rooms {
		out = append(out, room.Summary())
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep removes rooms that have had no members for at least ttl and
// returns their ids.
func (g *Registry) Sweep(ttl time.Duration) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var removed []string
	for id, room := range g.rooms {
		room.mu.Lock()
		if len(room.members) == 0 && now.Sub(room.lastActive) >= ttl {
			room.removed = true
			delete(g.rooms, id)
			removed = append(removed, id)
		}
		room.mu.Unlock()
	}
	for _, id := range removed {
		g.log.Info("room removed", "room_id", id, "reason", "idle")
	}
	return removed
}

// Run sweeps idle rooms every interval until ctx is done.
func (g *Registry) Run(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Sweep(ttl)
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// ConnectionCount returns the number of members across all rooms.
func (g *Registry) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	total := 0
	for _, room := range g.rooms {
		total += room.MemberCount()
	}
	return total
}

func (g *Registry) ensureLocked(id, fallbackCreator string) (*Room, error) {
	if room, ok := g.rooms[id]; ok {
		return room, nil
	}
	if g.policy == PolicyStrict {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	room := newRoom(id, UnknownRoomName, fallbackCreator, g.clock, g.log)
	g.rooms[id] = room
	g.log.Info("room auto-created", "room_id", id, "creator", fallbackCreator)
	return room, nil
}

func (g *Registry) clock() time.Time { return g.now() }

// randomRoomID returns roomIDLength characters from roomIDAlphabet.
func randomRoomID() string {
	const limit = 256 - 256%len(roomIDAlphabet)

	out := make([]byte, 0, roomIDLength)
	buf := make([]byte, roomIDLength*2)
	for len(out) < roomIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("relay: reading random bytes: %v", err))
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, roomIDAlphabet[int(b)%len(roomIDAlphabet)])
			if len(out) == roomIDLength {
				break
			}
		}
	}
	return string(out)
}
