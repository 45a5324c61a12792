package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/db"
	"github.com/airfi/airfi-guest-portal/internal/roster"
)

// UnavailablePolicy decides guest logins when the roster is empty or
// unreachable.
type UnavailablePolicy string

const (
	RejectWhenUnavailable UnavailablePolicy = "reject"
	AdmitWhenUnavailable  UnavailablePolicy = "admit"
)

// Admission sources.
const (
	SourceDirectory = "directory"
	SourceRoster    = "roster"
	SourceFallback  = "fallback"
)

// Directory is the local identity store.
type Directory interface {
	GetIdentityByMobile(ctx context.Context, mobile string) (*db.Identity, error)
	CreateIdentity(ctx context.Context, i *db.Identity) error
	TouchLogin(ctx context.Context, id int64, room string) error
}

// Roster returns the current roster snapshot.
type Roster interface {
	Fetch(ctx context.Context, forceRefresh bool) []roster.Row
}

// Admission is a successful verification.
type Admission struct {
	Identity *db.Identity
	// Source is where the credential was matched: directory, roster or
	// fallback (roster unavailable, admitted by policy).
	Source  string
	Created bool
	Guest   string
}

// Verifier decides whether a mobile number and room or password pair is
// admissible.
type Verifier struct {
	dir    Directory
	roster Roster
	policy UnavailablePolicy
	logger *zap.Logger
}

// NewVerifier creates a verifier. An unknown policy is treated as reject.
func NewVerifier(dir Directory, r Roster, policy UnavailablePolicy, logger *zap.Logger) *Verifier {
	if policy != AdmitWhenUnavailable {
		policy = RejectWhenUnavailable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{dir: dir, roster: r, policy: policy, logger: logger}
}

// Policy returns the roster-unavailable policy in effect.
func (v *Verifier) Policy() UnavailablePolicy { return v.policy }

// Verify admits or rejects a credential pair. Rejections are apperror
// values of kind MissingInput, InvalidCredentials, AccountInactive or
// RosterUnavailable; store failures are PersistenceError.
//
// A directory password is compared exactly as given. Only a guest room
// number is trimmed and normalized.
func (v *Verifier) Verify(ctx context.Context, mobile, secret string) (*Admission, error) {
	mobile = roster.NormalizeMobile(mobile)
	if mobile == "" || strings.TrimSpace(secret) == "" {
		return nil, apperror.New(apperror.KindMissingInput, "mobile number and room number are required")
	}
	log := v.logger.With(zap.String("mobile", roster.MaskMobile(mobile)))

	existing, err := v.dir.GetIdentityByMobile(ctx, mobile)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to look up user")
	}

	if existing != nil && !existing.IsGuest() && existing.Password != "" {
		if !existing.IsActive {
			log.Info("inactive account rejected", zap.String("user_type", existing.UserType))
			return nil, apperror.New(apperror.KindAccountInactive, "")
		}
		if !CheckPassword(existing.Password, secret) {
			log.Info("invalid password", zap.String("user_type", existing.UserType))
			return nil, apperror.New(apperror.KindInvalidCredentials, "")
		}
		v.touch(ctx, log, existing.ID, "")
		return &Admission{Identity: existing, Source: SourceDirectory}, nil
	}

	return v.verifyGuest(ctx, log, existing, mobile, secret)
}

func (v *Verifier) verifyGuest(ctx context.Context, log *zap.Logger, existing *db.Identity, mobile, secret string) (*Admission, error) {
	room := roster.Normalize(secret)
	rows := v.roster.Fetch(ctx, false)

	if len(rows) == 0 {
		if v.policy != AdmitWhenUnavailable {
			log.Warn("roster unavailable, rejecting guest")
			return nil, apperror.New(apperror.KindRosterUnavailable, "")
		}
		log.Warn("roster unavailable, admitting guest by policy")
		return v.admitGuest(ctx, existing, mobile, room, "", SourceFallback)
	}

	var mobileMatched, roomMatched int
	for _, row := range rows {
		sameMobile := roster.NormalizeMobile(row.MobileNumber) == mobile
		sameRoom := roster.Normalize(row.Room) == room
		if sameMobile && sameRoom {
			log.Info("guest matched roster", zap.String("room", room))
			return v.admitGuest(ctx, existing, mobile, room, row.Name, SourceRoster)
		}
		if sameMobile {
			mobileMatched++
		}
		if sameRoom {
			roomMatched++
		}
	}

	log.Info("guest not in roster",
		zap.String("room", room),
		zap.Int("rows", len(rows)),
		zap.Int("mobile_matches_other_rooms", mobileMatched),
		zap.Int("room_matches_other_mobiles", roomMatched),
	)
	return nil, apperror.New(apperror.KindInvalidCredentials, "")
}

func (v *Verifier) admitGuest(ctx context.Context, existing *db.Identity, mobile, room, name, source string) (*Admission, error) {
	log := v.logger.With(zap.String("mobile", roster.MaskMobile(mobile)))

	if existing == nil {
		identity := &db.Identity{
			MobileNumber: mobile,
			RoomNumber:   room,
			UserType:     db.KindGuest,
			IsActive:     true,
		}
		err := v.dir.CreateIdentity(ctx, identity)
		if errors.Is(err, db.ErrDuplicate) {
			// Created by a concurrent login.
			existing, err = v.dir.GetIdentityByMobile(ctx, mobile)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to load user")
			}
		} else if err != nil {
			return nil, apperror.Wrap(apperror.KindPersistence, err, "failed to create guest")
		} else {
			v.touch(ctx, log, identity.ID, "")
			log.Info("guest created", zap.Int64("identity_id", identity.ID))
			return &Admission{Identity: identity, Source: source, Created: true, Guest: name}, nil
		}
	}

	drift := ""
	if existing.RoomNumber != room {
		drift = room
		existing.RoomNumber = room
	}
	v.touch(ctx, log, existing.ID, drift)
	return &Admission{Identity: existing, Source: source, Guest: name}, nil
}

func (v *Verifier) touch(ctx context.Context, log *zap.Logger, id int64, room string) {
	if err := v.dir.TouchLogin(ctx, id, room); err != nil {
		log.Warn("failed to record last login", zap.Int64("identity_id", id), zap.Error(err))
	}
}
