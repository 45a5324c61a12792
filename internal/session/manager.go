package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/auth"
	"github.com/airfi/airfi-guest-portal/internal/db"
	"github.com/airfi/airfi-guest-portal/internal/roster"
	"github.com/airfi/airfi-guest-portal/internal/router"
)

// Verifier checks a credential pair.
type Verifier interface {
	Verify(ctx context.Context, mobile, secret string) (*auth.Admission, error)
}

// AccessController grants and ends hotspot access.
type AccessController interface {
	IsBlocked(ctx context.Context, mac string) (bool, error)
	GrantAccess(ctx context.Context, identityKey, secret string, client router.Client) error
	Disconnect(ctx context.Context, key string) ([]router.ActiveSession, error)
}

// Store records login sessions.
type Store interface {
	CreateSession(ctx context.Context, s *db.Session) error
	GetSession(ctx context.Context, id string) (*db.Session, error)
	LatestOpenSession(ctx context.Context, identityID int64) (*db.Session, error)
	CloseSession(ctx context.Context, id string, bytesIn, bytesOut int64) error
	GetIdentityByMobile(ctx context.Context, mobile string) (*db.Identity, error)
}

// Tokens issues and verifies session tokens.
type Tokens interface {
	Issue(sessionID, mobile, mac string) (string, error)
	Verify(token string) (*auth.Claims, error)
}

// Observer receives login outcomes.
type Observer interface {
	Login(outcome, reason string)
}

// Manager runs login attempts end to end: device block check, credential
// check, session record, network grant.
type Manager struct {
	verifier Verifier
	access   AccessController
	store    Store
	tokens   Tokens
	observer Observer
	logger   *zap.Logger
}

// NewManager creates a new session manager. tokens and observer may be nil.
func NewManager(verifier Verifier, access AccessController, store Store, tokens Tokens, observer Observer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		verifier: verifier,
		access:   access,
		store:    store,
		tokens:   tokens,
		observer: observer,
		logger:   logger,
	}
}

// Login runs one login attempt. The returned outcome is never nil.
// Rejections also return the typed error; an AccessFailed outcome returns
// a nil error with Outcome.AccessErr set, since the session was recorded.
func (m *Manager) Login(ctx context.Context, req LoginRequest) (*Outcome, error) {
	mac := router.CanonicalMAC(req.MACAddress)
	log := m.logger.With(
		zap.String("mobile", roster.MaskMobile(roster.NormalizeMobile(req.MobileNumber))),
		zap.String("mac", mac),
		zap.String("ip", req.IPAddress),
	)

	if mac != "" {
		blocked, err := m.access.IsBlocked(ctx, mac)
		if err != nil {
			return m.reject(log, err)
		}
		if blocked {
			return m.reject(log, apperror.New(apperror.KindAccountBlocked, ""))
		}
	}

	adm, err := m.verifier.Verify(ctx, req.MobileNumber, req.Secret)
	if err != nil {
		return m.reject(log, err)
	}
	identity := adm.Identity

	rec := &db.Session{
		IdentityID: identity.ID,
		IPAddress:  req.IPAddress,
		MACAddress: mac,
	}
	if err := m.store.CreateSession(ctx, rec); err != nil {
		return m.reject(log, apperror.Wrap(apperror.KindPersistence, err, "failed to record login session"))
	}

	out := &Outcome{
		Identity: identity,
		Session:  rec,
		Source:   adm.Source,
		Guest:    adm.Guest,
	}
	if m.tokens != nil {
		token, err := m.tokens.Issue(rec.ID, identity.MobileNumber, mac)
		if err != nil {
			log.Error("failed to issue session token", zap.Error(err))
		}
		out.Token = token
	}

	secret := strings.TrimSpace(req.Secret)
	client := router.Client{MACAddress: mac, IPAddress: req.IPAddress}
	if err := m.access.GrantAccess(ctx, identity.MobileNumber, secret, client); err != nil {
		out.State = StateAccessFailed
		out.AccessErr = err
		m.observe(out.State, apperror.KindOf(err))
		log.Warn("verified but not connected",
			zap.String("session_id", rec.ID),
			zap.String("kind", string(apperror.KindOf(err))),
			zap.Error(err),
		)
		return out, nil
	}

	out.State = StateSessionRecorded
	out.RedirectURL = loginURL(req.LinkLogin, req.LinkOrig, identity.MobileNumber, secret)
	m.observe(out.State, "")
	log.Info("login admitted",
		zap.String("session_id", rec.ID),
		zap.String("source", adm.Source),
		zap.Bool("created", adm.Created),
	)
	return out, nil
}

func (m *Manager) reject(log *zap.Logger, err error) (*Outcome, error) {
	kind := apperror.KindOf(err)
	m.observe(StateRejected, kind)
	if apperror.Is(err, apperror.KindPersistence) {
		log.Error("login failed", zap.Error(err))
	} else {
		log.Info("login rejected", zap.String("reason", string(kind)))
	}
	return &Outcome{State: StateRejected, Reason: kind, Err: err}, err
}

func (m *Manager) observe(state State, kind apperror.Kind) {
	if m.observer != nil {
		m.observer.Login(string(state), string(kind))
	}
}

// loginURL builds the router login-acceptance URL carrying the hotspot
// credentials. An empty linkLogin yields an empty URL.
func loginURL(linkLogin, linkOrig, username, password string) string {
	if linkLogin == "" {
		return ""
	}
	u, err := url.Parse(linkLogin)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("username", username)
	q.Set("password", password)
	if linkOrig != "" {
		q.Set("dst", linkOrig)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Logout ends the client's hotspot access and closes the login session
// named by token. Router failures are logged, not returned.
func (m *Manager) Logout(ctx context.Context, token string) (*LogoutResult, error) {
	if m.tokens == nil {
		return nil, apperror.New(apperror.KindInvalidInput, "session tokens are not enabled")
	}
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInvalidInput, err, "invalid session token")
	}
	return m.logout(ctx, claims.MobileNumber, claims.SessionID)
}

// LogoutMobile ends hotspot access for mobile and closes its most recent
// open session.
func (m *Manager) LogoutMobile(ctx context.Context, mobile string) (*LogoutResult, error) {
	return m.logout(ctx, roster.NormalizeMobile(mobile), "")
}

func (m *Manager) logout(ctx context.Context, mobile, sessionID string) (*LogoutResult, error) {
	log := m.logger.With(zap.String("mobile", roster.MaskMobile(mobile)))
	res := &LogoutResult{}

	ended, err := m.access.Disconnect(ctx, mobile)
	if err != nil {
		log.Warn("failed to remove hotspot session at logout", zap.Error(err))
	}
	res.Disconnected = len(ended)

	var rec *db.Session
	if sessionID != "" {
		rec, err = m.store.GetSession(ctx, sessionID)
	} else {
		var identity *db.Identity
		identity, err = m.store.GetIdentityByMobile(ctx, mobile)
		if err == nil {
			rec, err = m.store.LatestOpenSession(ctx, identity.ID)
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, apperror.Wrap(apperror.KindPersistence, err, "failed to load login session")
	}
	if rec.LogoutTime != nil {
		return res, nil
	}

	in, out := trafficFor(ended, rec.MACAddress)

	if err := m.store.CloseSession(ctx, rec.ID, in, out); err != nil && !errors.Is(err, db.ErrNotFound) {
		return res, apperror.Wrap(apperror.KindPersistence, err, fmt.Sprintf("failed to close session %s", rec.ID))
	}
	res.SessionID = rec.ID
	res.Closed = true
	log.Info("logged out", zap.String("session_id", rec.ID), zap.Int("disconnected", res.Disconnected))
	return res, nil
}

// trafficFor returns the counters of the entry for mac, or the sum over
// all entries when none matches.
func trafficFor(ended []router.ActiveSession, mac string) (in, out int64) {
	for _, a := range ended {
		if mac != "" && a.MACAddress == mac {
			return a.BytesIn, a.BytesOut
		}
	}
	for _, a := range ended {
		in += a.BytesIn
		out += a.BytesOut
	}
	return in, out
}
