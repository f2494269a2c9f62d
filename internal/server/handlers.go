package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Tyrowin/boardsync/internal/admin"
	"github.com/Tyrowin/boardsync/internal/relay"
)

const (
	adminPasswordHeader = "X-Admin-Password"
	maxRequestBodyBytes = 1 << 16
)

// createRoom handles POST /room/create.
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.RoomName)
	if name == "" {
		s.errorResponse(w, "room_name is required", http.StatusBadRequest)
		return
	}

	room := s.registry.Create(name)
	s.jsonResponse(w, CreateRoomResponse{
		Success:  true,
		RoomID:   room.ID(),
		RoomName: room.Name(),
	}, http.StatusCreated)
}

// joinRoom handles POST /room/join.
func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	roomID := strings.TrimSpace(req.RoomID)
	username := strings.TrimSpace(req.Username)
	if roomID == "" || username == "" {
		s.errorResponse(w, "room_id and username are required", http.StatusBadRequest)
		return
	}

	_, result, err := s.registry.Join(roomID, username)
	if err != nil {
		s.relayErrorResponse(w, err)
		return
	}

	s.jsonResponse(w, JoinRoomResponse{
		Success:   true,
		UserID:    result.UserID,
		UserColor: result.Color,
		RoomState: result.State,
	}, http.StatusOK)
}

// adminLogin handles POST /admin/login.
func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.admin.Login(req.Password); err != nil {
		s.relayErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, StatusResponse{Success: true}, http.StatusOK)
}

// adminOverview handles GET /admin/overview.
func (s *Server) adminOverview(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.admin.Overview(adminSecret(r))
	if err != nil {
		s.relayErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, OverviewResponse{Success: true, Rooms: rooms}, http.StatusOK)
}

func (s *Server) adminLock(w http.ResponseWriter, r *http.Request) {
	s.adminRoomAction(w, r, s.admin.Lock, "room locked")
}

func (s *Server) adminUnlock(w http.ResponseWriter, r *http.Request) {
	s.adminRoomAction(w, r, s.admin.Unlock, "room unlocked")
}

func (s *Server) adminDelete(w http.ResponseWriter, r *http.Request) {
	s.adminRoomAction(w, r, s.admin.Delete, "room deleted")
}

func (s *Server) adminRoomAction(w http.ResponseWriter, r *http.Request, action func(roomID, secret string) error, message string) {
	if err := action(r.PathValue("room_id"), adminSecret(r)); err != nil {
		s.relayErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, StatusResponse{Success: true, Message: message}, http.StatusOK)
}

// presenceWebSocket handles GET /ws/{room_id}.
func (s *Server) presenceWebSocket(w http.ResponseWriter, r *http.Request) {
	s.serveWebSocket(w, r, r.PathValue("room_id"), relay.ModePresence)
}

// legacyWebSocket handles GET /ws/legacy/{room_id}.
func (s *Server) legacyWebSocket(w http.ResponseWriter, r *http.Request) {
	s.serveWebSocket(w, r, r.PathValue("room_id"), relay.ModeLegacy)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "boardsync server is running!")
}

// adminSecret reads the admin password from the header, falling back to
// the password query parameter.
func adminSecret(r *http.Request) string {
	if secret := r.Header.Get(adminPasswordHeader); secret != "" {
		return secret
	}
	return r.URL.Query().Get("password")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	return dec.Decode(v)
}

// relayErrorResponse maps domain errors to HTTP status codes.
func (s *Server) relayErrorResponse(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admin.ErrUnauthorized):
		s.errorResponse(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, relay.ErrNotFound):
		s.errorResponse(w, relay.ErrNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, relay.ErrRoomLocked):
		s.errorResponse(w, relay.ErrRoomLocked.Error(), http.StatusForbidden)
	default:
		s.log.Error("request failed", "err", err)
		s.errorResponse(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("encoding json response", "err", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, StatusResponse{Success: false, Error: message}, status)
}
