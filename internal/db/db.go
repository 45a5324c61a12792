// Package db provides SQL storage for portal identities, login sessions and
// blocked devices.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// User kinds.
const (
	KindGuest  = "guest"
	KindStaff  = "staff"
	KindFamily = "family"
	KindFriend = "friend"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("db: not found")

// ErrDuplicate is returned when an insert violates a unique key.
var ErrDuplicate = errors.New("db: duplicate")

// ValidKind reports whether kind is a known user kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindGuest, KindStaff, KindFamily, KindFriend:
		return true
	}
	return false
}

// DB represents the database connection.
type DB struct {
	conn *sqlx.DB
	now  func() time.Time
}

// Identity is a locally persisted user, guest or privileged.
type Identity struct {
	ID           int64      `db:"id" json:"id"`
	MobileNumber string     `db:"mobile_number" json:"mobile_number"`
	RoomNumber   string     `db:"room_number" json:"room_number"`
	Password     string     `db:"password" json:"-"`
	UserType     string     `db:"user_type" json:"user_type"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
}

// IsGuest reports whether the identity is a roster guest.
func (i *Identity) IsGuest() bool { return i.UserType == KindGuest }

// Session is one login: opened on admission, closed at logout.
type Session struct {
	ID         string     `db:"id" json:"id"`
	IdentityID int64      `db:"identity_id" json:"identity_id"`
	IPAddress  string     `db:"ip_address" json:"ip_address"`
	MACAddress string     `db:"mac_address" json:"mac_address"`
	LoginTime  time.Time  `db:"login_time" json:"login_time"`
	LogoutTime *time.Time `db:"logout_time" json:"logout_time,omitempty"`
	BytesIn    int64      `db:"bytes_in" json:"bytes_in"`
	BytesOut   int64      `db:"bytes_out" json:"bytes_out"`
}

// SessionView is a session joined with its identity's mobile number.
type SessionView struct {
	Session
	MobileNumber string `db:"mobile_number" json:"mobile_number"`
}

// BlockedDevice is a hardware address denied access.
type BlockedDevice struct {
	ID           int64     `db:"id" json:"id"`
	MACAddress   string    `db:"mac_address" json:"mac_address"`
	MobileNumber string    `db:"mobile_number" json:"mobile_number,omitempty"`
	Reason       string    `db:"reason" json:"reason"`
	BlockedAt    time.Time `db:"blocked_at" json:"blocked_at"`
	BlockedBy    string    `db:"blocked_by" json:"blocked_by"`
	IsActive     bool      `db:"is_active" json:"is_active"`
}

// Open opens the SQLite database at path and creates tables if needed.
func Open(path string) (*DB, error) {
	return OpenDriver(DriverSQLite, path)
}

// OpenDriver opens a database for driver ("sqlite3" or "pgx") and creates
// tables if needed.
func OpenDriver(driver, dsn string) (*DB, error) {
	if driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY between pooled connections.
		conn.SetMaxOpenConns(1)
	}

	// Create tables
	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{conn: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

var schemas = map[string]string{
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS identities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mobile_number TEXT NOT NULL UNIQUE,
			room_number TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			user_type TEXT NOT NULL DEFAULT 'guest',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_login DATETIME
		);

		CREATE TABLE IF NOT EXISTS login_sessions (
			id TEXT PRIMARY KEY,
			identity_id INTEGER NOT NULL REFERENCES identities(id),
			ip_address TEXT NOT NULL DEFAULT '',
			mac_address TEXT NOT NULL DEFAULT '',
			login_time DATETIME NOT NULL,
			logout_time DATETIME,
			bytes_in INTEGER NOT NULL DEFAULT 0,
			bytes_out INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS blocked_devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mac_address TEXT NOT NULL UNIQUE,
			mobile_number TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			blocked_at DATETIME NOT NULL,
			blocked_by TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_identity ON login_sessions(identity_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_login ON login_sessions(login_time);
	`,
	DriverPostgres: `
		CREATE TABLE IF NOT EXISTS identities (
			id BIGSERIAL PRIMARY KEY,
			mobile_number TEXT NOT NULL UNIQUE,
			room_number TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			user_type TEXT NOT NULL DEFAULT 'guest',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_login TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS login_sessions (
			id TEXT PRIMARY KEY,
			identity_id BIGINT NOT NULL REFERENCES identities(id),
			ip_address TEXT NOT NULL DEFAULT '',
			mac_address TEXT NOT NULL DEFAULT '',
			login_time TIMESTAMPTZ NOT NULL,
			logout_time TIMESTAMPTZ,
			bytes_in BIGINT NOT NULL DEFAULT 0,
			bytes_out BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS blocked_devices (
			id BIGSERIAL PRIMARY KEY,
			mac_address TEXT NOT NULL UNIQUE,
			mobile_number TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			blocked_at TIMESTAMPTZ NOT NULL,
			blocked_by TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_identity ON login_sessions(identity_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_login ON login_sessions(login_time);
	`,
}

func createTables(conn *sqlx.DB) error {
	schema, ok := schemas[conn.DriverName()]
	if !ok {
		return fmt.Errorf("unsupported driver %q", conn.DriverName())
	}
	_, err := conn.Exec(schema)
	return err
}

// isUniqueViolation matches sqlite and postgres unique-key errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
