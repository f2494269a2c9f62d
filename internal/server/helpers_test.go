package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin   = "http://localhost:8080"
	testPassword = "s3cret"
	readTimeout  = 2 * time.Second
)

// newTestServer starts a relay behind httptest. mutate may adjust the
// config before the server is built.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.AdminPassword = testPassword
	if mutate != nil {
		mutate(cfg)
	}

	s := New(cfg, discardLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = s.Shutdown(2 * time.Second) })
	return s, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	conn, resp, err := dialer.Dial(wsURL(ts, path), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// joinWS dials /ws/{roomID}, sends the join frame and consumes the
// users_list reply.
func joinWS(t *testing.T, ts *httptest.Server, roomID, username string) (*websocket.Conn, map[string]any) {
	t.Helper()

	conn := dial(t, ts, "/ws/"+roomID)
	sendJSON(t, conn, map[string]string{"type": "join", "username": username, "user_id": "", "color": ""})
	list := readJSON(t, conn)
	require.Equal(t, "users_list", list["type"])
	return conn, list
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func sendRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &m))
	return m
}

// expectClose reads until the server's close frame arrives.
func expectClose(t *testing.T, conn *websocket.Conn, code int, reason string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		require.Equal(t, code, closeErr.Code)
		require.Equal(t, reason, closeErr.Text)
		return
	}
}

// expectPong proves that nothing else is queued for conn ahead of the pong.
func expectPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendRaw(t, conn, `{"type":"ping"}`)
	require.Equal(t, "pong", readJSON(t, conn)["type"])
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return doRequest(t, ts, http.MethodPost, path, bytes.NewReader(payload), nil)
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body *bytes.Reader, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequest(method, ts.URL+path, http.NoBody)
	} else {
		req, err = http.NewRequest(method, ts.URL+path, body)
	}
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func createRoom(t *testing.T, ts *httptest.Server, name string) string {
	t.Helper()
	resp, body := postJSON(t, ts, "/room/create", map[string]string{"room_name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["room_id"].(string)
}

func joinHTTP(t *testing.T, ts *httptest.Server, roomID, username string) map[string]any {
	t.Helper()
	resp, body := postJSON(t, ts, "/room/join", map[string]string{"room_id": roomID, "username": username})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body
}
