package relay

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by the registry, the presence protocol and the
// admin plane. Callers match with errors.Is.
var (
	// ErrNotFound reports a missing room.
	ErrNotFound = errors.New("room not found")
	// ErrRoomLocked reports a join attempt against a locked room.
	ErrRoomLocked = errors.New("room is locked")
	// ErrProtocolViolation reports a bad or missing join frame.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrMalformedPayload reports a frame that is not well-formed JSON or
	// lacks a required field. The frame is dropped, the connection stays.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrDeliveryFailed is the parent of every per-recipient send failure.
	ErrDeliveryFailed = errors.New("delivery failed")

	ErrSendBufferFull   = fmt.Errorf("%w: send buffer full", ErrDeliveryFailed)
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", ErrDeliveryFailed)
)
