// Package server implements the HTTP and WebSocket front end of boardsync.
//
// The implementation is organized into specialized files for configuration,
// connections, sessions, routing, middleware, and HTTP handlers. Room state
// and fan-out live in package relay; this package only moves frames between
// sockets and rooms.
package server
