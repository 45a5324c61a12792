package db

import (
	"context"

	"github.com/google/uuid"
)

const sessionColumns = `s.id, s.identity_id, s.ip_address, s.mac_address, s.login_time, s.logout_time, s.bytes_in, s.bytes_out`

// CreateSession inserts an open session. An empty ID is assigned a UUID.
func (db *DB) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.LoginTime.IsZero() {
		s.LoginTime = db.now()
	}
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO login_sessions (id, identity_id, ip_address, mac_address, login_time, logout_time, bytes_in, bytes_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.IdentityID, s.IPAddress, s.MACAddress, s.LoginTime, s.LogoutTime, s.BytesIn, s.BytesOut)
	return err
}

// GetSession retrieves a session by ID.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := db.conn.GetContext(ctx, &s, db.conn.Rebind(`SELECT `+sessionColumns+` FROM login_sessions s WHERE s.id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// LatestOpenSession returns the identity's most recent session without a
// logout time.
func (db *DB) LatestOpenSession(ctx context.Context, identityID int64) (*Session, error) {
	var s Session
	err := db.conn.GetContext(ctx, &s, db.conn.Rebind(`
		SELECT `+sessionColumns+` FROM login_sessions s
		WHERE s.identity_id = ? AND s.logout_time IS NULL
		ORDER BY s.login_time DESC LIMIT 1
	`), identityID)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// CloseSession sets the logout time and traffic counters of an open session.
func (db *DB) CloseSession(ctx context.Context, id string, bytesIn, bytesOut int64) error {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE login_sessions SET logout_time = ?, bytes_in = ?, bytes_out = ?
		WHERE id = ? AND logout_time IS NULL
	`), db.now(), bytesIn, bytesOut, id)
	return affected(res, err)
}

// ListSessions returns the most recent sessions, newest first. A
// non-positive limit returns all of them.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]SessionView, error) {
	query := `
		SELECT ` + sessionColumns + `, i.mobile_number
		FROM login_sessions s JOIN identities i ON i.id = s.identity_id
		ORDER BY s.login_time DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	sessions := []SessionView{}
	err := db.conn.SelectContext(ctx, &sessions, db.conn.Rebind(query), args...)
	return sessions, err
}

// CountSessions returns the number of recorded sessions.
func (db *DB) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM login_sessions`)
	return n, err
}
