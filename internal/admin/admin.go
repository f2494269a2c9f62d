// Package admin implements the operator control plane: inspecting rooms,
// locking them against new joins, and deleting them. Every operation is
// gated by a single shared secret.
package admin

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/boardsync/internal/relay"
)

// ErrUnauthorized reports a missing or wrong admin secret, or a disabled
// control plane.
var ErrUnauthorized = errors.New("unauthorized")

// Recorder observes admin actions. Implementations must be safe for
// concurrent use.
type Recorder interface {
	AdminAction(action, result string)
}

type nopRecorder struct{}

func (nopRecorder) AdminAction(string, string) {}

// ControlPlane executes admin operations against a registry.
type ControlPlane struct {
	registry *relay.Registry
	secret   []byte
	log      *slog.Logger
	rec      Recorder
}

// New returns a control plane guarded by secret. An empty secret disables
// it: every call fails with ErrUnauthorized.
func New(registry *relay.Registry, secret string, logger *slog.Logger) *ControlPlane {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlPlane{
		registry: registry,
		secret:   []byte(secret),
		log:      logger.With("component", "admin"),
		rec:      nopRecorder{},
	}
}

// SetRecorder installs a Recorder for admin action outcomes.
func (c *ControlPlane) SetRecorder(rec Recorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	c.rec = rec
}

// Enabled reports whether a secret is configured.
func (c *ControlPlane) Enabled() bool { return len(c.secret) > 0 }

// Login checks secret and nothing else.
func (c *ControlPlane) Login(secret string) error {
	err := c.authorize(secret)
	c.record("login", "", err)
	return err
}

// Overview returns a summary of every live room.
func (c *ControlPlane) Overview(secret string) ([]relay.Summary, error) {
	if err := c.authorize(secret); err != nil {
		c.record("overview", "", err)
		return nil, err
	}
	rooms := c.registry.Overview()
	c.record("overview", "", nil)
	return rooms, nil
}

// Lock stops new joins to roomID. Locking a locked room succeeds.
func (c *ControlPlane) Lock(roomID, secret string) error {
	err := c.withRoom(roomID, secret, func(r *relay.Room) { r.Lock() })
	c.record("lock", roomID, err)
	return err
}

// Unlock allows new joins to roomID again.
func (c *ControlPlane) Unlock(roomID, secret string) error {
	err := c.withRoom(roomID, secret, func(r *relay.Room) { r.Unlock() })
	c.record("unlock", roomID, err)
	return err
}

// Delete removes roomID and disconnects its members.
func (c *ControlPlane) Delete(roomID, secret string) error {
	err := c.authorize(secret)
	if err == nil {
		err = c.registry.Delete(roomID, relay.ReasonDeletedByAdmin)
	}
	c.record("delete", roomID, err)
	return err
}

func (c *ControlPlane) withRoom(roomID, secret string, fn func(*relay.Room)) error {
	if err := c.authorize(secret); err != nil {
		return err
	}
	room, err := c.registry.Get(roomID)
	if err != nil {
		return err
	}
	fn(room)
	return nil
}

func (c *ControlPlane) authorize(secret string) error {
	if len(c.secret) == 0 {
		return fmt.Errorf("%w: admin disabled", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare(c.secret, []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (c *ControlPlane) record(action, roomID string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrUnauthorized):
		result = "unauthorized"
	case errors.Is(err, relay.ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	c.rec.AdminAction(action, result)

	attrs := []any{"action", action, "result", result}
	if roomID != "" {
		attrs = append(attrs, "room_id", roomID)
	}
	if err != nil {
		c.log.Warn("admin action refused", attrs...)
		return
	}
	c.log.Info("admin action", attrs...)
}
