package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{input: "", want: PolicyAutoCreate},
		{input: "auto-create", want: PolicyAutoCreate},
		{input: " STRICT ", want: PolicyStrict},
		{input: "lenient", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_CreateGeneratesRoomIDs(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	pattern := regexp.MustCompile(`^[a-z0-9]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		room := g.Create(fmt.Sprintf("room-%d", i))
		assert.Regexp(t, pattern, room.ID())
		assert.False(t, seen[room.ID()], "duplicate id %s", room.ID())
		seen[room.ID()] = true
		assert.Equal(t, 0, room.MemberCount())
		assert.False(t, room.Locked())
		assert.Empty(t, room.Roster())
	}
	assert.Equal(t, 50, g.Len())
}

func TestRegistry_CreateRegeneratesCollidingID(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	g.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first := g.Create("one")
	second := g.Create("two")

	assert.Equal(t, "aaaaaaaa", first.ID())
	assert.Equal(t, "bbbbbbbb", second.ID())
}

func TestRegistry_GetUnknownRoom(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)

	_, err := g.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, g.Len(), "Get never creates")
}

func TestRegistry_EnsureUnderPolicy(t *testing.T) {
	t.Run("auto-create", func(t *testing.T) {
		g, _ := newTestRegistry(PolicyAutoCreate)
		room, err := g.Ensure("xyz", "alice")
		require.NoError(t, err)
		assert.Equal(t, UnknownRoomName, room.Name())
		assert.Equal(t, "alice", room.Creator())

		again, err := g.Ensure("xyz", "bob")
		require.NoError(t, err)
		assert.Same(t, room, again)
		assert.Equal(t, "alice", again.Creator())
	})

	t.Run("strict", func(t *testing.T) {
		g, _ := newTestRegistry(PolicyStrict)
		_, err := g.Ensure("xyz", "alice")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, 0, g.Len())
	})
}

func TestRegistry_JoinUnknownRoom(t *testing.T) {
	t.Run("auto-create", func(t *testing.T) {
		g, _ := newTestRegistry(PolicyAutoCreate)
		room, res, err := g.Join("xyz", "alice")
		require.NoError(t, err)
		assert.Equal(t, "xyz", room.ID())
		assert.Equal(t, "Unknown", room.Name())
		assert.Equal(t, palette[0], res.Color)
	})

	t.Run("strict", func(t *testing.T) {
		g, _ := newTestRegistry(PolicyStrict)
		_, _, err := g.Join("xyz", "alice")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestRegistry_CheckAdmission(t *testing.T) {
	auto, _ := newTestRegistry(PolicyAutoCreate)
	assert.NoError(t, auto.CheckAdmission("missing"))
	assert.Equal(t, 0, auto.Len(), "admission check creates nothing")

	strict, _ := newTestRegistry(PolicyStrict)
	assert.True(t, errors.Is(strict.CheckAdmission("missing"), ErrNotFound))

	room := strict.Create("Lab1")
	assert.NoError(t, strict.CheckAdmission(room.ID()))
	room.Lock()
	assert.True(t, errors.Is(strict.CheckAdmission(room.ID()), ErrRoomLocked))
}

// Lab1 with alice and bob, end to end at the relay level.
func TestRegistry_PresenceScenario(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	room := g.Create("Lab1")

	aliceJoin, err := room.Join("alice")
	require.NoError(t, err)
	assert.Equal(t, "#ef4444", aliceJoin.Color)
	bobJoin, err := room.Join("bob")
	require.NoError(t, err)
	assert.Equal(t, "#f97316", bobJoin.Color)

	alice := &fakeConn{}
	_, err = g.Attach(room.ID(), Member{ID: 1, Conn: alice, Presence: Presence{Username: "alice", UserID: aliceJoin.UserID, Color: aliceJoin.Color}})
	require.NoError(t, err)
	assert.Equal(t, []string{TypeUsersList}, alice.types(t))

	bob := &fakeConn{}
	_, err = g.Attach(room.ID(), Member{ID: 2, Conn: bob, Presence: Presence{Username: "bob", UserID: bobJoin.UserID, Color: bobJoin.Color}})
	require.NoError(t, err)

	aliceFrames := alice.decoded(t)
	require.Len(t, aliceFrames, 2)
	assert.Equal(t, TypeUserJoined, aliceFrames[1]["type"])
	assert.Equal(t, "bob", aliceFrames[1]["user"].(map[string]any)["username"])

	bobFrames := bob.decoded(t)
	require.Len(t, bobFrames, 1)
	assert.Equal(t, TypeUsersList, bobFrames[0]["type"])
	users := bobFrames[0]["users"].([]any)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].(map[string]any)["username"])
	assert.Equal(t, "bob", users[1].(map[string]any)["username"])

	alice.reset()
	bob.reset()
	frame := []byte(`{"type":"state_update","state":{"items":[{"id":1}],"connections":[]}}`)
	parsed, err := ParseFrame(frame)
	require.NoError(t, err)
	room.UpdateState(1, parsed.State, frame)

	assert.Equal(t, [][]byte{frame}, bob.sent())
	assert.Empty(t, alice.sent())
	assert.JSONEq(t, `{"items":[{"id":1}],"connections":[]}`, string(room.State()))

	_, ok := g.Detach(room, 2)
	require.True(t, ok)
	aliceFrames = alice.decoded(t)
	require.Len(t, aliceFrames, 1)
	assert.Equal(t, TypeUserLeft, aliceFrames[0]["type"])
	assert.Equal(t, bobJoin.UserID, aliceFrames[0]["user_id"])
	assert.Empty(t, bob.sent(), "the departing member is not told about itself")
}

func TestRegistry_AttachFillsMissingColor(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	room := g.Create("Lab1")
	_, err := room.Join("alice")
	require.NoError(t, err)
	bobJoin, err := room.Join("bob")
	require.NoError(t, err)

	_, err = g.Attach(room.ID(), presenceMember(1, &fakeConn{}, "bob"))
	require.NoError(t, err)
	p, ok := room.Presence(1)
	require.True(t, ok)
	assert.Equal(t, bobJoin.Color, p.Color)

	_, err = g.Attach(room.ID(), presenceMember(2, &fakeConn{}, "stranger"))
	require.NoError(t, err)
	p, ok = room.Presence(2)
	require.True(t, ok)
	assert.Equal(t, palette[0], p.Color)
}

func TestRegistry_AttachAutoCreatesWithCreator(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)

	room, err := g.Attach("zzz", presenceMember(1, &fakeConn{}, "carol"))
	require.NoError(t, err)
	assert.Equal(t, UnknownRoomName, room.Name())
	assert.Equal(t, "carol", room.Creator())

	strict, _ := newTestRegistry(PolicyStrict)
	_, err = strict.Attach("zzz", presenceMember(1, &fakeConn{}, "carol"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistry_AttachRejectsDuplicateConnID(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	room := g.Create("Lab1")
	_, err := g.Attach(room.ID(), presenceMember(1, &fakeConn{}, "alice"))
	require.NoError(t, err)

	_, err = g.Attach(room.ID(), presenceMember(1, &fakeConn{}, "mallory"))
	assert.Error(t, err)
	assert.Equal(t, 1, room.MemberCount())
}

func TestRegistry_LastMemberLeavingRemovesRoom(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	room := g.Create("Lab1")
	_, err := g.Attach(room.ID(), presenceMember(1, &fakeConn{}, "alice"))
	require.NoError(t, err)
	_, err = g.Attach(room.ID(), presenceMember(2, &fakeConn{}, "bob"))
	require.NoError(t, err)

	g.Detach(room, 1)
	_, err = g.Get(room.ID())
	require.NoError(t, err, "room survives while a member remains")

	g.Detach(room, 2)
	_, err = g.Get(room.ID())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, g.Len())

	_, ok := g.Detach(room, 2)
	assert.False(t, ok, "second detach is a no-op")
}

func TestRegistry_DetachDoesNotRemoveReplacementRoom(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	old, err := g.Attach("abc", presenceMember(1, &fakeConn{}, "alice"))
	require.NoError(t, err)
	require.NoError(t, g.Delete("abc", ReasonDeletedByAdmin))

	replacement, err := g.Attach("abc", presenceMember(2, &fakeConn{}, "bob"))
	require.NoError(t, err)
	require.NotSame(t, old, replacement)

	g.Detach(old, 1)
	got, err := g.Get("abc")
	require.NoError(t, err)
	assert.Same(t, replacement, got)
}

func TestRegistry_DeleteDisconnectsMembers(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	room := g.Create("Lab1")
	alice, bob := &fakeConn{}, &fakeConn{}
	_, err := g.Attach(room.ID(), presenceMember(1, alice, "alice"))
	require.NoError(t, err)
	_, err = g.Attach(room.ID(), presenceMember(2, bob, "bob"))
	require.NoError(t, err)
	alice.reset()

	require.NoError(t, g.Delete(room.ID(), ReasonDeletedByAdmin))

	for _, c := range []*fakeConn{alice, bob} {
		assert.True(t, c.disconnected)
		assert.Equal(t, CloseNormal, c.closeCode)
		assert.Equal(t, "deleted by admin", c.closeReason)
	}

	_, err = g.Get(room.ID())
	assert.True(t, errors.Is(err, ErrNotFound))

	g.Detach(room, 2)
	assert.Empty(t, alice.sent(), "no user_left from a deleted room")

	err = g.Delete(room.ID(), ReasonDeletedByAdmin)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = g.Attach(room.ID(), presenceMember(3, &fakeConn{}, "carol"))
	require.NoError(t, err, "auto-create makes a fresh room under the same id")
}

func TestRegistry_OverviewSortedByCreation(t *testing.T) {
	g, clock := newTestRegistry(PolicyAutoCreate)
	first := g.Create("first")
	clock.Advance(time.Second)
	second := g.Create("second")
	clock.Advance(time.Second)
	third := g.Create("third")

	overview := g.Overview()
	require.Len(t, overview, 3)
	assert.Equal(t, first.ID(), overview[0].RoomID)
	assert.Equal(t, second.ID(), overview[1].RoomID)
	assert.Equal(t, third.ID(), overview[2].RoomID)
	assert.NotNil(t, overview[0].Users)
}

func TestRegistry_Sweep(t *testing.T) {
	g, clock := newTestRegistry(PolicyAutoCreate)
	idle := g.Create("idle")
	busy := g.Create("busy")
	_, err := g.Attach(busy.ID(), presenceMember(1, &fakeConn{}, "alice"))
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	assert.Empty(t, g.Sweep(15*time.Minute))

	fresh := g.Create("fresh")
	clock.Advance(5 * time.Minute)
	removed := g.Sweep(15 * time.Minute)

	assert.Equal(t, []string{idle.ID()}, removed)
	_, err = g.Get(busy.ID())
	assert.NoError(t, err, "rooms with members are never swept")
	_, err = g.Get(fresh.ID())
	assert.NoError(t, err)
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	g.Create("idle")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx, 5*time.Millisecond, 0)
		close(done)
	}()

	require.Eventually(t, func() bool { return g.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRegistry_ConnectionCount(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	a := g.Create("a")
	b := g.Create("b")
	_, err := g.Attach(a.ID(), presenceMember(1, &fakeConn{}, "alice"))
	require.NoError(t, err)
	_, err = g.Attach(b.ID(), presenceMember(2, &fakeConn{}, "bob"))
	require.NoError(t, err)
	_, err = g.Attach(b.ID(), presenceMember(3, &fakeConn{}, "carol"))
	require.NoError(t, err)

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 3, g.ConnectionCount())
}

func TestRegistry_ConcurrentAttachDetach(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	room := g.Create("Lab1")
	_, err := g.Attach(room.ID(), presenceMember(1, &fakeConn{}, "anchor"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 2; i < 52; i++ {
		wg.Add(1)
		go func(id ConnID) {
			defer wg.Done()
			r, err := g.Attach(room.ID(), presenceMember(id, &fakeConn{}, fmt.Sprintf("user-%d", id)))
			if err != nil {
				return
			}
			r.Broadcast([]byte(`{"type":"activity"}`), id)
			g.Detach(r, id)
		}(ConnID(i))
	}
	wg.Wait()

	assert.Equal(t, 1, room.MemberCount())
	assert.Equal(t, 1, g.Len())
}

func TestRegistry_StateUpdateStaysInItsRoom(t *testing.T) {
	g, _ := newTestRegistry(PolicyAutoCreate)
	lab := g.Create("Lab1")
	other := g.Create("Lab2")

	alice, bob, carol, old := &fakeConn{}, &fakeConn{}, &fakeConn{}, &fakeConn{}
	_, err := g.Attach(lab.ID(), presenceMember(1, alice, "alice"))
	require.NoError(t, err)
	_, err = g.Attach(lab.ID(), presenceMember(2, bob, "bob"))
	require.NoError(t, err)
	_, err = g.Attach(other.ID(), presenceMember(3, carol, "carol"))
	require.NoError(t, err)
	_, err = g.Attach(other.ID(), Member{ID: 4, Conn: old, Presence: Presence{Username: AnonymousUsername}, Mode: ModeLegacy})
	require.NoError(t, err)
	bob.reset()
	carol.reset()

	frame := []byte(`{"type":"state_update","state":{"items":[{"id":7}],"connections":[]}}`)
	parsed, err := ParseFrame(frame)
	require.NoError(t, err)
	lab.UpdateState(1, parsed.State, frame)
	lab.Relay(1, []byte(`{"type":"activity","action":"drawing"}`))

	assert.Len(t, bob.sent(), 2)
	assert.Empty(t, carol.sent(), "members of other rooms see nothing")
	assert.Empty(t, old.sent())
	assert.JSONEq(t, `{"items":[],"connections":[]}`, string(other.State()))
}
