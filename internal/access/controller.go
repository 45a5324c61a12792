// Package access grants and revokes hotspot access and maintains the
// device block list.
package access

import (
	"context"

	"go.uber.org/zap"

	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/db"
	"github.com/airfi/airfi-guest-portal/internal/roster"
	"github.com/airfi/airfi-guest-portal/internal/router"
)

// Default block reasons.
const (
	ReasonDisconnected = "Disconnected by administrator"
	ReasonBlocked      = "Blocked by administrator"
)

// BlockStore persists blocked devices.
type BlockStore interface {
	BlockDevice(ctx context.Context, d *db.BlockedDevice) error
	IsDeviceBlocked(ctx context.Context, mac string) (bool, error)
}

// Observer receives router failures and revocation counts.
type Observer interface {
	RouterError(op, kind string)
	Revoked(n int)
}

// Revocation reports what RevokeAccess did.
type Revocation struct {
	Sessions []router.ActiveSession `json:"sessions"`
	// Blocked lists the MACs with a block record written.
	Blocked []string `json:"blocked"`
}

// Controller drives a Router and the local block list.
type Controller struct {
	router   router.Router
	store    BlockStore
	logger   *zap.Logger
	observer Observer
}

// NewController creates a controller. observer may be nil.
func NewController(r router.Router, store BlockStore, observer Observer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{router: r, store: store, observer: observer, logger: logger}
}

// GrantAccess ensures a hotspot user exists for identityKey. It does not
// start a session; the client completes that via the router login URL.
func (c *Controller) GrantAccess(ctx context.Context, identityKey, secret string, client router.Client) error {
	if err := c.router.EnsureUser(ctx, identityKey, secret, client); err != nil {
		c.routerFailed("grant", err)
		return err
	}
	return nil
}

// ListActiveSessions returns the router's active table. On failure it
// returns an empty slice together with the typed router error.
func (c *Controller) ListActiveSessions(ctx context.Context) ([]router.ActiveSession, error) {
	sessions, err := c.router.ActiveSessions(ctx)
	if err != nil {
		c.routerFailed("list", err)
		return []router.ActiveSession{}, err
	}
	return sessions, nil
}

// RevokeAccess disconnects every active session whose id or user equals
// key, then blocks each resolved MAC. A failed block write is logged and
// does not undo the disconnect. No match is a NotFound error.
//
// When a router disconnect fails partway, the sessions that did end are
// still blocked and reported, and the router error is returned with the
// revocation.
func (c *Controller) RevokeAccess(ctx context.Context, key, reason, blockedBy string) (*Revocation, error) {
	sessions, err := c.disconnect(ctx, key)
	if len(sessions) == 0 {
		if err != nil {
			return nil, err
		}
		return nil, apperror.Newf(apperror.KindNotFound, "no active session for %s", key)
	}
	if reason == "" {
		reason = ReasonDisconnected
	}

	rev := &Revocation{Sessions: sessions, Blocked: []string{}}
	for _, s := range sessions {
		if s.MACAddress == "" {
			continue
		}
		if c.block(ctx, s, reason, blockedBy) {
			rev.Blocked = append(rev.Blocked, s.MACAddress)
		}
	}
	if c.observer != nil {
		c.observer.Revoked(len(sessions))
	}
	return rev, err
}

// Disconnect ends the sessions matching key without blocking. Zero
// matches is not an error. On a router failure the sessions that did end
// are returned with the first error.
func (c *Controller) Disconnect(ctx context.Context, key string) ([]router.ActiveSession, error) {
	return c.disconnect(ctx, key)
}

// disconnect tries every matching session. A failed disconnect does not
// stop the rest.
func (c *Controller) disconnect(ctx context.Context, key string) ([]router.ActiveSession, error) {
	active, err := c.router.ActiveSessions(ctx)
	if err != nil {
		c.routerFailed("list", err)
		return nil, err
	}

	var (
		ended    []router.ActiveSession
		firstErr error
	)
	for _, s := range active {
		if s.ID != key && s.User != key {
			continue
		}
		if err := c.router.Disconnect(ctx, s.ID); err != nil {
			c.routerFailed("disconnect", err)
			c.logger.Warn("failed to disconnect hotspot session", zap.String("session", s.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.logger.Info("disconnected hotspot session",
			zap.String("session", s.ID),
			zap.String("user", roster.MaskMobile(s.User)),
			zap.String("mac", s.MACAddress),
		)
		ended = append(ended, s)
	}
	return ended, firstErr
}

func (c *Controller) block(ctx context.Context, s router.ActiveSession, reason, blockedBy string) bool {
	if err := c.router.Block(ctx, router.BlockEntry{MACAddress: s.MACAddress, Address: s.Address, Comment: reason}); err != nil {
		c.routerFailed("block", err)
		c.logger.Warn("router block list update failed", zap.String("mac", s.MACAddress), zap.Error(err))
	}

	rec := &db.BlockedDevice{
		MACAddress:   s.MACAddress,
		MobileNumber: s.User,
		Reason:       reason,
		BlockedBy:    blockedBy,
	}
	if err := c.store.BlockDevice(ctx, rec); err != nil {
		c.logger.Error("failed to record blocked device",
			zap.String("mac", s.MACAddress),
			zap.Error(apperror.Wrap(apperror.KindPersistence, err, "")),
		)
		return false
	}
	return true
}

// Unblock removes mac from the router block list. The database record is
// owned by the caller.
func (c *Controller) Unblock(ctx context.Context, mac string) error {
	if err := c.router.Unblock(ctx, mac); err != nil {
		c.routerFailed("unblock", err)
		return err
	}
	return nil
}

// IsBlocked reports whether mac has an active block record.
func (c *Controller) IsBlocked(ctx context.Context, mac string) (bool, error) {
	if mac == "" {
		return false, nil
	}
	blocked, err := c.store.IsDeviceBlocked(ctx, mac)
	if err != nil {
		return false, apperror.Wrap(apperror.KindPersistence, err, "failed to check block list")
	}
	return blocked, nil
}

// TestConnection checks the router connection.
func (c *Controller) TestConnection(ctx context.Context) error {
	return c.router.TestConnection(ctx)
}

func (c *Controller) routerFailed(op string, err error) {
	if c.observer != nil {
		c.observer.RouterError(op, string(apperror.KindOf(err)))
	}
}
