package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/boardsync/internal/admin"
	"github.com/Tyrowin/boardsync/internal/metrics"
	"github.com/Tyrowin/boardsync/internal/relay"
)

// Server owns the room registry, the admin control plane and every live
// WebSocket connection.
type Server struct {
	cfg      Config
	log      *slog.Logger
	registry *relay.Registry
	admin    *admin.ControlPlane
	metrics  *metrics.Metrics
	origins  *originPolicy
	upgrader websocket.Upgrader

	nextConnID atomic.Uint64

	mu       sync.Mutex
	live     map[*connection]struct{}
	draining bool
	sessions sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Server from cfg. Zero or invalid config fields fall back to
// their defaults.
func New(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	sanitized := sanitizeConfig(*cfg)

	registry := relay.NewRegistry(sanitized.RoomPolicy, logger)
	m := metrics.New(registry)
	control := admin.New(registry, sanitized.AdminPassword, logger)
	control.SetRecorder(m)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      sanitized,
		log:      logger.With("component", "server"),
		registry: registry,
		admin:    control,
		metrics:  m,
		origins:  newOriginPolicy(sanitized.AllowedOrigins, logger),
		live:     make(map[*connection]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	if sanitized.AdminPassword == "" {
		s.log.Warn("ADMIN_PASSWORD not set, admin endpoints are disabled")
	}
	return s
}

// Registry exposes the room registry.
func (s *Server) Registry() *relay.Registry { return s.registry }

// Config returns the sanitized configuration in effect.
func (s *Server) Config() Config { return s.cfg }

// Start launches background work: the idle-room sweeper.
func (s *Server) Start() {
	go s.registry.Run(s.ctx, s.cfg.SweepInterval, s.cfg.EmptyRoomTTL)
	s.log.Info("room sweeper started",
		"interval", s.cfg.SweepInterval.String(),
		"empty_room_ttl", s.cfg.EmptyRoomTTL.String())
}

// Handler returns the root HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(SetupRoutes(s))
}

// serveWebSocket upgrades the request and starts the connection's writer
// and session goroutines.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, roomID string, mode relay.Mode) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	id := relay.ConnID(s.nextConnID.Add(1))
	conn := newConnection(id, ws, r.RemoteAddr, s.cfg.MaxMessageSize, s.log)
	go conn.writePump()

	if !s.track(conn) {
		conn.Disconnect(websocket.CloseGoingAway, reasonShutdown)
		conn.wait()
		return
	}

	sess := newSession(s, conn, roomID, mode)
	go func() {
		defer s.sessions.Done()
		sess.run()
	}()
}

// track adds conn to the live set and counts its session. It refuses once
// shutdown has begun.
func (s *Server) track(conn *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.live[conn] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(conn *connection) {
	s.mu.Lock()
	delete(s.live, conn)
	s.mu.Unlock()
}

// liveCount returns the number of connections not yet fully closed,
// including those still in the join handshake.
func (s *Server) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown stops the sweeper, closes every live connection with 1001 and
// waits up to timeout for their sessions to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("initiating relay shutdown")
	s.cancel()

	s.mu.Lock()
	s.draining = true
	conns := make([]*connection, 0, len(s.live))
	for conn := range s.live {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect(websocket.CloseGoingAway, reasonShutdown)
	}
	s.log.Info("closing client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		s.log.Warn("relay shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
