package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/boardsync/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

var (
	// errDisconnected reports that the peer went away or the socket was
	// closed underneath the reader.
	errDisconnected = errors.New("connection closed")
	// errFrameTooLarge reports an inbound frame over the read limit.
	errFrameTooLarge = errors.New("frame exceeds maximum message size")
)

// connection wraps one WebSocket. Outbound frames go through a bounded queue
// drained in order by writePump; Send never blocks. Closing is idempotent
// and carries the close code the writer sends to the peer.
type connection struct {
	id   relay.ConnID
	ws   *websocket.Conn
	addr string
	log  *slog.Logger

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	// written before done is closed, read by writePump after.
	closeCode   int
	closeReason string

	maxMessageSize int64
}

func newConnection(id relay.ConnID, ws *websocket.Conn, addr string, maxMessageSize int64, logger *slog.Logger) *connection {
	if ws != nil {
		ws.SetReadLimit(maxMessageSize)
	}
	return &connection{
		id:             id,
		ws:             ws,
		addr:           addr,
		log:            logger.With("conn_id", id, "remote_addr", addr),
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		writerDone:     make(chan struct{}),
		maxMessageSize: maxMessageSize,
	}
}

// Send enqueues payload for the writer. A full queue means the peer cannot
// keep up; the connection closes itself with 1013.
func (c *connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return relay.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("send buffer full, closing connection", "buffered", len(c.send))
		c.closeWith(websocket.CloseTryAgainLater, "send buffer full")
		return relay.ErrSendBufferFull
	}
}

// Disconnect closes the connection with a close frame carrying code and
// reason.
func (c *connection) Disconnect(code int, reason string) {
	c.closeWith(code, reason)
}

// closeWith records the close code and wakes the writer. Code 0 closes the
// socket without a close frame.
func (c *connection) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait blocks until writePump has closed the socket.
func (c *connection) wait() {
	<-c.writerDone
}

func (c *connection) setupReadConnection() {
	c.setReadDeadline(pongWait)
	c.ws.SetPongHandler(func(string) error {
		c.setReadDeadline(pongWait)
		return nil
	})
}

func (c *connection) setReadDeadline(d time.Duration) {
	if err := c.ws.SetReadDeadline(time.Now().Add(d)); err != nil {
		c.log.Debug("error setting read deadline", "err", err)
	}
}

// readMessage returns the next data frame. Any error is terminal for the
// connection.
func (c *connection) readMessage() (int, []byte, error) {
	messageType, raw, err := c.ws.ReadMessage()
	if err != nil {
		return 0, nil, c.classifyReadError(err)
	}
	return messageType, raw, nil
}

func (c *connection) classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Info("message exceeded maximum size", "max_bytes", c.maxMessageSize)
		c.closeWith(websocket.CloseMessageTooBig, "message too big")
		return errFrameTooLarge
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.log.Debug("client disconnected", "err", err)
		return fmt.Errorf("%w: %v", errDisconnected, err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) || c.closed() {
		c.log.Debug("connection closed", "err", err)
		return fmt.Errorf("%w: %v", errDisconnected, err)
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Info("unexpected websocket close", "err", err)
		return fmt.Errorf("%w: %v", errDisconnected, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.log.Info("read deadline exceeded")
		return err
	}

	c.log.Warn("websocket read error", "err", err)
	return err
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSocket()
		close(c.writerDone)
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeTextMessage(message) {
				c.closeWith(0, "")
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				c.closeWith(0, "")
				return
			}
		case <-c.done:
			c.writeCloseMessage()
			return
		}
	}
}

func (c *connection) writeTextMessage(message []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline", "err", err)
		return false
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Info("error writing message", "err", err)
		}
		return false
	}
	return true
}

func (c *connection) writePing() bool {
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Info("error writing ping", "err", err)
		}
		return false
	}
	return true
}

func (c *connection) writeCloseMessage() {
	if c.closeCode == 0 {
		return
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", "err", err)
		}
	}
}

func (c *connection) closeSocket() {
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error closing connection", "err", err)
	}
}
