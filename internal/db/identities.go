package db

import (
	"context"
	"database/sql"
	"fmt"
)

const identityColumns = `id, mobile_number, room_number, password, user_type, is_active, created_at, updated_at, last_login`

// CreateIdentity inserts i and sets its ID and timestamps.
func (db *DB) CreateIdentity(ctx context.Context, i *Identity) error {
	now := db.now()
	i.CreatedAt, i.UpdatedAt = now, now
	if i.UserType == "" {
		i.UserType = KindGuest
	}

	query := db.conn.Rebind(`
		INSERT INTO identities (mobile_number, room_number, password, user_type, is_active, created_at, updated_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := db.conn.QueryRowxContext(ctx, query,
		i.MobileNumber, i.RoomNumber, i.Password, i.UserType, i.IsActive, i.CreatedAt, i.UpdatedAt, i.LastLogin,
	).Scan(&i.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("identity %s: %w", i.MobileNumber, ErrDuplicate)
	}
	return err
}

// GetIdentity retrieves an identity by ID.
func (db *DB) GetIdentity(ctx context.Context, id int64) (*Identity, error) {
	var i Identity
	err := db.conn.GetContext(ctx, &i, db.conn.Rebind(`SELECT `+identityColumns+` FROM identities WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

// GetIdentityByMobile retrieves an identity by mobile number.
func (db *DB) GetIdentityByMobile(ctx context.Context, mobile string) (*Identity, error) {
	var i Identity
	err := db.conn.GetContext(ctx, &i, db.conn.Rebind(`SELECT `+identityColumns+` FROM identities WHERE mobile_number = ?`), mobile)
	if err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

// ListIdentities returns all identities, newest first.
func (db *DB) ListIdentities(ctx context.Context) ([]Identity, error) {
	identities := []Identity{}
	err := db.conn.SelectContext(ctx, &identities, `SELECT `+identityColumns+` FROM identities ORDER BY created_at DESC, id DESC`)
	return identities, err
}

// UpdateIdentity writes every mutable field of i.
func (db *DB) UpdateIdentity(ctx context.Context, i *Identity) error {
	i.UpdatedAt = db.now()
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE identities
		SET mobile_number = ?, room_number = ?, password = ?, user_type = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`), i.MobileNumber, i.RoomNumber, i.Password, i.UserType, i.IsActive, i.UpdatedAt, i.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("identity %s: %w", i.MobileNumber, ErrDuplicate)
	}
	return affected(res, err)
}

// TouchLogin records a successful login and, when room is non-empty, the
// guest's current room.
func (db *DB) TouchLogin(ctx context.Context, id int64, room string) error {
	now := db.now()
	var (
		res sql.Result
		err error
	)
	if room != "" {
		res, err = db.conn.ExecContext(ctx, db.conn.Rebind(`UPDATE identities SET last_login = ?, room_number = ?, updated_at = ? WHERE id = ?`), now, room, now, id)
	} else {
		res, err = db.conn.ExecContext(ctx, db.conn.Rebind(`UPDATE identities SET last_login = ? WHERE id = ?`), now, id)
	}
	return affected(res, err)
}

// SetIdentityActive activates or deactivates an identity.
func (db *DB) SetIdentityActive(ctx context.Context, id int64, active bool) error {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`UPDATE identities SET is_active = ?, updated_at = ? WHERE id = ?`), active, db.now(), id)
	return affected(res, err)
}

// DeleteIdentity removes an identity and its login sessions.
func (db *DB) DeleteIdentity(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM login_sessions WHERE identity_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM identities WHERE id = ?`), id)
	if err := affected(res, err); err != nil {
		return err
	}
	return tx.Commit()
}

// CountIdentities returns the number of identities.
func (db *DB) CountIdentities(ctx context.Context) (int, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM identities`)
	return n, err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
