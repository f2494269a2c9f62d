package server

import (
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/boardsync/internal/relay"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateAwaitingJoin
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAwaitingJoin:
		return "awaiting_join"
	case stateActive:
		return "active"
	default:
		return "closed"
	}
}

const (
	reasonRoomNotFound = "room not found"
	reasonRoomLocked   = "room is locked"
	reasonInvalidJoin  = "invalid join"
	reasonJoinTimeout  = "join timeout"
	reasonShutdown     = "server shutting down"
)

// session drives one WebSocket through the room protocol. It owns the read
// side of conn; the connection's writePump owns the write side.
type session struct {
	srv     *Server
	conn    *connection
	roomID  string
	mode    relay.Mode
	state   sessionState
	room    *relay.Room
	limiter *activityLimiter
	log     *slog.Logger
}

func newSession(srv *Server, conn *connection, roomID string, mode relay.Mode) *session {
	return &session{
		srv:     srv,
		conn:    conn,
		roomID:  roomID,
		mode:    mode,
		state:   stateConnecting,
		limiter: newActivityLimiter(srv.cfg.RateLimit),
		log:     conn.log.With("room_id", roomID, "mode", mode.String()),
	}
}

func (s *session) run() {
	defer s.close()

	if !s.admit() {
		return
	}

	if s.mode == relay.ModeLegacy {
		if !s.attach(relay.Presence{Username: relay.AnonymousUsername, UserID: uuid.NewString()}) {
			return
		}
		s.legacyLoop()
		return
	}

	presence, ok := s.awaitJoin()
	if !ok {
		return
	}
	if !s.attach(presence) {
		return
	}
	s.loop()
}

// admit refuses connections to rooms that cannot be joined before any frame
// is read.
func (s *session) admit() bool {
	if err := s.srv.registry.CheckAdmission(s.roomID); err != nil {
		s.reject(err)
		return false
	}
	s.state = stateAwaitingJoin
	return true
}

// awaitJoin reads the handshake frame. Only a text join frame carrying a
// username, received within the join timeout, is accepted.
func (s *session) awaitJoin() (relay.Presence, bool) {
	s.conn.setReadDeadline(s.srv.cfg.JoinTimeout)

	messageType, raw, err := s.conn.readMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.srv.metrics.Handshake("timeout")
			s.conn.Disconnect(websocket.ClosePolicyViolation, reasonJoinTimeout)
			return relay.Presence{}, false
		}
		s.srv.metrics.Handshake("disconnected")
		return relay.Presence{}, false
	}

	if messageType != websocket.TextMessage {
		s.reject(relay.ErrProtocolViolation)
		return relay.Presence{}, false
	}

	presence, err := relay.ParseJoin(raw)
	if err != nil {
		s.log.Info("rejecting handshake", "err", err)
		s.reject(err)
		return relay.Presence{}, false
	}
	if presence.UserID == "" {
		presence.UserID = uuid.NewString()
	}
	return presence, true
}

// attach registers the member. The registry re-checks the lock, so a room
// locked during the handshake still refuses it.
func (s *session) attach(presence relay.Presence) bool {
	room, err := s.srv.registry.Attach(s.roomID, relay.Member{
		ID:       s.conn.id,
		Conn:     s.conn,
		Presence: presence,
		Mode:     s.mode,
	})
	if err != nil {
		s.reject(err)
		return false
	}

	s.room = room
	s.state = stateActive
	s.conn.setupReadConnection()
	s.srv.metrics.Handshake("accepted")
	s.log = s.log.With("username", presence.Username, "user_id", presence.UserID)
	s.log.Info("session active")
	return true
}

func (s *session) loop() {
	for {
		messageType, raw, err := s.conn.readMessage()
		if err != nil {
			return
		}
		s.room.Touch(s.conn.id)

		if messageType != websocket.TextMessage {
			s.drop("binary", nil)
			continue
		}

		frame, err := relay.ParseFrame(raw)
		if err != nil {
			s.drop("malformed", err)
			continue
		}
		s.handle(frame, raw)
	}
}

func (s *session) handle(frame relay.Frame, raw []byte) {
	switch frame.Type {
	case relay.TypeStateUpdate:
		s.srv.metrics.FrameReceived(frame.Type)
		d := s.room.UpdateState(s.conn.id, frame.State, raw)
		s.srv.metrics.Delivered(d.Failed)
	case relay.TypeActivity:
		s.srv.metrics.FrameReceived(frame.Type)
		if !s.limiter.allow() {
			s.drop("rate_limited", nil)
			return
		}
		d := s.room.Relay(s.conn.id, raw)
		s.srv.metrics.Delivered(d.Failed)
	case relay.TypePing:
		s.srv.metrics.FrameReceived(frame.Type)
		if err := s.conn.Send(relay.PongFrame()); err != nil {
			s.srv.metrics.Delivered(1)
		}
	default:
		s.srv.metrics.FrameReceived("unknown")
		s.drop("unknown_type", nil)
	}
}

func (s *session) legacyLoop() {
	for {
		messageType, raw, err := s.conn.readMessage()
		if err != nil {
			return
		}
		s.room.Touch(s.conn.id)

		if messageType != websocket.TextMessage {
			s.drop("binary", nil)
			continue
		}

		state, err := relay.ParseLegacyState(raw)
		if err != nil {
			s.drop("malformed", err)
			continue
		}
		s.srv.metrics.FrameReceived("legacy_state")
		d := s.room.UpdateState(s.conn.id, state, nil)
		s.srv.metrics.Delivered(d.Failed)
	}
}

// reject closes a connection that never became a member.
func (s *session) reject(err error) {
	reason := reasonInvalidJoin
	result := "invalid"
	switch {
	case errors.Is(err, relay.ErrNotFound):
		reason, result = reasonRoomNotFound, "not_found"
	case errors.Is(err, relay.ErrRoomLocked):
		reason, result = reasonRoomLocked, "locked"
	}
	s.srv.metrics.Handshake(result)
	s.log.Info("connection refused", "reason", reason, "state", s.state.String())
	s.conn.Disconnect(websocket.ClosePolicyViolation, reason)
}

func (s *session) drop(reason string, err error) {
	s.srv.metrics.FrameDropped(reason)
	if err != nil {
		s.log.Debug("frame dropped", "reason", reason, "err", err)
		return
	}
	s.log.Debug("frame dropped", "reason", reason)
}

// close detaches the member, then waits for the writer to flush any close
// frame and release the socket.
func (s *session) close() {
	if s.room != nil {
		s.srv.registry.Detach(s.room, s.conn.id)
	}
	s.state = stateClosed
	s.conn.closeWith(0, "")
	s.conn.wait()
	s.srv.untrack(s.conn)
	s.log.Info("session closed")
}
