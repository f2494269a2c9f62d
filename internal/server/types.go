package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/boardsync/internal/relay"
)

// CreateRoomRequest is the body of POST /room/create.
type CreateRoomRequest struct {
	RoomName string `json:"room_name"`
}

// CreateRoomResponse answers a successful room creation.
type CreateRoomResponse struct {
	Success  bool   `json:"success"`
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

// JoinRoomRequest is the body of POST /room/join.
type JoinRoomRequest struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}

// JoinRoomResponse answers a successful HTTP join.
type JoinRoomResponse struct {
	Success   bool            `json:"success"`
	UserID    string          `json:"user_id"`
	UserColor string          `json:"user_color"`
	RoomState json.RawMessage `json:"room_state"`
}

// AdminRequest carries the admin secret in a request body.
type AdminRequest struct {
	Password string `json:"password"`
}

// OverviewResponse lists every room for the admin dashboard.
type OverviewResponse struct {
	Success bool            `json:"success"`
	Rooms   []relay.Summary `json:"rooms"`
}

// StatusResponse is the generic success or failure body.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
