// Package admin implements the administrative operations on identities,
// sessions, blocked devices and the roster, independent of transport.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/airfi/airfi-guest-portal/internal/access"
	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/auth"
	"github.com/airfi/airfi-guest-portal/internal/db"
	"github.com/airfi/airfi-guest-portal/internal/roster"
	"github.com/airfi/airfi-guest-portal/internal/router"
)

// RecentLogins is how many sessions Stats reports.
const RecentLogins = 5

// Store is the persistence the admin operations need.
type Store interface {
	CreateIdentity(ctx context.Context, i *db.Identity) error
	GetIdentity(ctx context.Context, id int64) (*db.Identity, error)
	GetIdentityByMobile(ctx context.Context, mobile string) (*db.Identity, error)
	ListIdentities(ctx context.Context) ([]db.Identity, error)
	UpdateIdentity(ctx context.Context, i *db.Identity) error
	SetIdentityActive(ctx context.Context, id int64, active bool) error
	DeleteIdentity(ctx context.Context, id int64) error
	CountIdentities(ctx context.Context) (int, error)

	ListSessions(ctx context.Context, limit int) ([]db.SessionView, error)
	CountSessions(ctx context.Context) (int, error)

	GetBlockedDevice(ctx context.Context, id int64) (*db.BlockedDevice, error)
	ListBlockedDevices(ctx context.Context) ([]db.BlockedDevice, error)
	UnblockDevice(ctx context.Context, id int64) error
	UnblockMobile(ctx context.Context, mobile string) ([]string, error)
	CountActiveBlocks(ctx context.Context) (int, error)
}

// Roster is the roster cache.
type Roster interface {
	Fetch(ctx context.Context, forceRefresh bool) []roster.Row
	Snapshot() ([]roster.Row, time.Time)
}

// UserInput is the form for adding or editing an identity. For guests
// Secret is the room number; otherwise it is the password.
type UserInput struct {
	MobileNumber string `json:"mobile_number"`
	Secret       string `json:"password"`
	UserType     string `json:"user_type"`
	IsActive     *bool  `json:"is_active,omitempty"`
}

// Stats summarizes the portal for the dashboard.
type Stats struct {
	TotalUsers     int              `json:"total_users"`
	TotalSessions  int              `json:"total_sessions"`
	BlockedDevices int              `json:"blocked_devices"`
	RecentLogins   []db.SessionView `json:"recent_logins"`
}

// RosterStatus reports the roster cache after a refresh.
type RosterStatus struct {
	Rows      int       `json:"rows"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Service implements the administrative operations.
type Service struct {
	store  Store
	access *access.Controller
	roster Roster
	logger *zap.Logger
}

// NewService creates an admin service.
func NewService(store Store, ctrl *access.Controller, r Roster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, access: ctrl, roster: r, logger: logger}
}

// ActiveSessions lists the router's active sessions. On router failure it
// returns an empty list with the typed error, for display alongside.
func (s *Service) ActiveSessions(ctx context.Context) ([]router.ActiveSession, error) {
	return s.access.ListActiveSessions(ctx)
}

// Disconnect ends the session with router id or user key and blocks
// its device. A partial router failure returns the revocation for the
// sessions that did end together with the error.
func (s *Service) Disconnect(ctx context.Context, key, adminUser string) (*access.Revocation, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperror.New(apperror.KindInvalidInput, "session id or mobile number is required")
	}
	return s.access.RevokeAccess(ctx, key, access.ReasonDisconnected, adminUser)
}

// RefreshRoster forces a roster fetch. A failed fetch keeps the previous
// snapshot, so the returned row count may be stale; an empty roster is
// reported as RosterUnavailable.
func (s *Service) RefreshRoster(ctx context.Context) (*RosterStatus, error) {
	rows := s.roster.Fetch(ctx, true)
	_, fetchedAt := s.roster.Snapshot()
	status := &RosterStatus{Rows: len(rows), FetchedAt: fetchedAt}
	if len(rows) == 0 {
		return status, apperror.New(apperror.KindRosterUnavailable, "")
	}
	s.logger.Info("roster refreshed by administrator", zap.Int("rows", len(rows)))
	return status, nil
}

// Users lists all identities, newest first.
func (s *Service) Users(ctx context.Context) ([]db.Identity, error) {
	users, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to list users")
	}
	return users, nil
}

func (s *Service) validate(in UserInput) (UserInput, error) {
	in.MobileNumber = strings.TrimSpace(in.MobileNumber)
	in.UserType = strings.ToLower(strings.TrimSpace(in.UserType))
	if in.UserType == "" {
		in.UserType = db.KindGuest
	}

	switch {
	case in.MobileNumber == "" || strings.TrimSpace(in.Secret) == "":
		return in, apperror.New(apperror.KindMissingInput, "Mobile number and password are required fields.")
	case !isDigits(in.MobileNumber):
		return in, apperror.New(apperror.KindInvalidInput, "Mobile number should contain only digits without country code.")
	case !db.ValidKind(in.UserType):
		return in, apperror.Newf(apperror.KindInvalidInput, "Unknown user type %q.", in.UserType)
	}
	return in, nil
}

// apply stores the secret where the kind expects it: the normalized room
// number for guests, a bcrypt hash of the exact password for everyone else.
func apply(i *db.Identity, in UserInput) error {
	i.MobileNumber = in.MobileNumber
	i.UserType = in.UserType
	if in.UserType == db.KindGuest {
		i.RoomNumber = roster.Normalize(in.Secret)
		i.Password = ""
		return nil
	}
	hashed, err := auth.HashPassword(in.Secret)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	i.Password = hashed
	i.RoomNumber = ""
	return nil
}

// AddUser creates an identity. Duplicate mobile numbers are a Conflict.
func (s *Service) AddUser(ctx context.Context, in UserInput) (*db.Identity, error) {
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	identity := &db.Identity{IsActive: true}
	if in.IsActive != nil {
		identity.IsActive = *in.IsActive
	}
	if err := apply(identity, in); err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "")
	}

	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, apperror.Newf(apperror.KindConflict, "User with mobile number %s already exists.", in.MobileNumber)
		}
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to add user")
	}
	s.logger.Info("user added", zap.Int64("identity_id", identity.ID), zap.String("user_type", identity.UserType))
	return identity, nil
}

// EditUser replaces an identity's mobile number, kind, secret and, when
// given, active flag.
func (s *Service) EditUser(ctx context.Context, id int64, in UserInput) (*db.Identity, error) {
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	identity, err := s.identity(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := apply(identity, in); err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "")
	}
	if in.IsActive != nil {
		identity.IsActive = *in.IsActive
	}

	if err := s.store.UpdateIdentity(ctx, identity); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, apperror.Newf(apperror.KindConflict, "Mobile number %s is already in use by another user.", in.MobileNumber)
		}
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to update user")
	}
	s.logger.Info("user updated", zap.Int64("identity_id", id), zap.String("user_type", identity.UserType))
	return identity, nil
}

// BlockUser deactivates an identity, then disconnects its live sessions
// and blocks their devices. Router failures are logged; the identity
// stays deactivated.
func (s *Service) BlockUser(ctx context.Context, id int64, adminUser string) (*access.Revocation, error) {
	identity, err := s.identity(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetIdentityActive(ctx, id, false); err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to block user")
	}

	rev, err := s.access.RevokeAccess(ctx, identity.MobileNumber, access.ReasonBlocked, adminUser)
	switch {
	case apperror.Is(err, apperror.KindNotFound):
		rev = &access.Revocation{Sessions: []router.ActiveSession{}, Blocked: []string{}}
	case err != nil:
		s.logger.Warn("user blocked but router disconnect failed", zap.Int64("identity_id", id), zap.Error(err))
		if rev == nil {
			rev = &access.Revocation{Sessions: []router.ActiveSession{}, Blocked: []string{}}
		}
	}
	s.logger.Info("user blocked", zap.Int64("identity_id", id), zap.Int("sessions", len(rev.Sessions)))
	return rev, nil
}

// UnblockUser reactivates an identity and lifts the device blocks
// attributed to its mobile number. Router unblocks are best-effort and
// the released MACs are returned.
func (s *Service) UnblockUser(ctx context.Context, id int64) ([]string, error) {
	identity, err := s.identity(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetIdentityActive(ctx, id, true); err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to unblock user")
	}
	macs, err := s.store.UnblockMobile(ctx, identity.MobileNumber)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to unblock user devices")
	}
	for _, mac := range macs {
		if err := s.access.Unblock(ctx, mac); err != nil {
			s.logger.Warn("router unblock failed", zap.String("mac", mac), zap.Error(err))
		}
	}
	s.logger.Info("user unblocked", zap.Int64("identity_id", id), zap.Int("devices", len(macs)))
	return macs, nil
}

// DeleteUser disconnects an identity, without blocking, and deletes it
// with its login sessions.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	identity, err := s.identity(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.access.Disconnect(ctx, identity.MobileNumber); err != nil {
		s.logger.Warn("failed to disconnect user before delete", zap.Int64("identity_id", id), zap.Error(err))
	}
	if err := s.store.DeleteIdentity(ctx, id); err != nil {
		return apperror.Wrap(apperror.KindPersistence, err, "failed to delete user")
	}
	s.logger.Info("user deleted", zap.Int64("identity_id", id))
	return nil
}

// Sessions lists login history, newest first. limit <= 0 lists all.
func (s *Service) Sessions(ctx context.Context, limit int) ([]db.SessionView, error) {
	sessions, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to list sessions")
	}
	return sessions, nil
}

// BlockedDevices lists active block records.
func (s *Service) BlockedDevices(ctx context.Context) ([]db.BlockedDevice, error) {
	devices, err := s.store.ListBlockedDevices(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to list blocked devices")
	}
	return devices, nil
}

// UnblockDevice deactivates a block record and removes the device from
// the router block list, best-effort.
func (s *Service) UnblockDevice(ctx context.Context, id int64) (*db.BlockedDevice, error) {
	device, err := s.store.GetBlockedDevice(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperror.Newf(apperror.KindNotFound, "blocked device %d not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to load blocked device")
	}
	if err := s.store.UnblockDevice(ctx, id); err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to unblock device")
	}
	if err := s.access.Unblock(ctx, device.MACAddress); err != nil {
		s.logger.Warn("router unblock failed", zap.String("mac", device.MACAddress), zap.Error(err))
	}
	device.IsActive = false
	s.logger.Info("device unblocked", zap.String("mac", device.MACAddress))
	return device, nil
}

// Stats returns dashboard counters. Individual failures zero their field.
func (s *Service) Stats(ctx context.Context) *Stats {
	st := &Stats{RecentLogins: []db.SessionView{}}
	var err error
	if st.TotalUsers, err = s.store.CountIdentities(ctx); err != nil {
		s.logger.Error("failed to count users", zap.Error(err))
	}
	if st.TotalSessions, err = s.store.CountSessions(ctx); err != nil {
		s.logger.Error("failed to count sessions", zap.Error(err))
	}
	if st.BlockedDevices, err = s.store.CountActiveBlocks(ctx); err != nil {
		s.logger.Error("failed to count blocked devices", zap.Error(err))
	}
	if recent, err := s.store.ListSessions(ctx, RecentLogins); err != nil {
		s.logger.Error("failed to list recent logins", zap.Error(err))
	} else {
		st.RecentLogins = recent
	}
	return st
}

func (s *Service) identity(ctx context.Context, id int64) (*db.Identity, error) {
	identity, err := s.store.GetIdentity(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperror.Newf(apperror.KindNotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to load user")
	}
	return identity, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
