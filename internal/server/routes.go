package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// API routes go through the logging and recovery middleware; WebSocket routes
// are registered bare so the upgrader can hijack the connection.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /room/create", s.apiMiddleware(s.createRoom))
	mux.HandleFunc("POST /room/join", s.apiMiddleware(s.joinRoom))

	mux.HandleFunc("POST /admin/login", s.apiMiddleware(s.adminLogin))
	mux.HandleFunc("GET /admin/overview", s.apiMiddleware(s.adminOverview))
	mux.HandleFunc("POST /admin/room/{room_id}/lock", s.apiMiddleware(s.adminLock))
	mux.HandleFunc("POST /admin/room/{room_id}/unlock", s.apiMiddleware(s.adminUnlock))
	mux.HandleFunc("DELETE /admin/room/{room_id}", s.apiMiddleware(s.adminDelete))

	mux.HandleFunc("GET /ws/{room_id}", s.presenceWebSocket)
	mux.HandleFunc("GET /ws/legacy/{room_id}", s.legacyWebSocket)

	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /test", TestPageHandler)
	mux.HandleFunc("GET /", HealthHandler)
	return mux
}
