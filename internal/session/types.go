// Package session runs portal logins and logouts.
package session

import (
	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/db"
)

// State is the terminal state of a login attempt.
type State string

const (
	// StateRejected means the device was blocked or the credentials failed.
	StateRejected State = "rejected"
	// StateSessionRecorded means the session was recorded and access granted.
	StateSessionRecorded State = "session_recorded"
	// StateAccessFailed means the credentials were verified and the session
	// recorded, but the router grant failed.
	StateAccessFailed State = "access_failed"
)

// LoginRequest is a login form submission with the captive-portal
// parameters the router appended to the portal URL.
type LoginRequest struct {
	MobileNumber string
	Secret       string // room number for guests, password otherwise
	MACAddress   string
	IPAddress    string
	LinkLogin    string // router login-acceptance URL
	LinkOrig     string // page the client originally requested
}

// Outcome is the result of a login attempt.
type Outcome struct {
	State  State
	Reason apperror.Kind
	Err    error

	Identity *db.Identity
	Session  *db.Session
	Source   string
	Guest    string

	// Token identifies the session at logout.
	Token string
	// RedirectURL completes the router login when State is SessionRecorded.
	RedirectURL string
	// AccessErr is the router error when State is AccessFailed.
	AccessErr error
}

// Admitted reports whether the credentials were accepted.
func (o *Outcome) Admitted() bool {
	return o.State == StateSessionRecorded || o.State == StateAccessFailed
}

// LogoutResult reports what a logout did.
type LogoutResult struct {
	Disconnected int    `json:"disconnected"`
	SessionID    string `json:"session_id,omitempty"`
	Closed       bool   `json:"closed"`
}
