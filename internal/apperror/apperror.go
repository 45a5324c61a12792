// Package apperror defines the error taxonomy shared by the portal core.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to branch on it.
type Kind string

const (
	// KindMissingInput indicates a required login field was empty.
	KindMissingInput Kind = "missing_input"
	// KindInvalidCredentials indicates the mobile/room or mobile/password pair did not match.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindAccountInactive indicates a privileged identity has been deactivated.
	KindAccountInactive Kind = "account_inactive"
	// KindAccountBlocked indicates the originating device is on the block list.
	KindAccountBlocked Kind = "account_blocked"
	// KindRosterUnavailable indicates the roster could not be consulted.
	KindRosterUnavailable Kind = "roster_unavailable"
	// KindRouterConnectTimeout indicates the router could not be reached in time.
	KindRouterConnectTimeout Kind = "router_connect_timeout"
	// KindRouterAuthFailed indicates the router rejected the API credentials.
	KindRouterAuthFailed Kind = "router_auth_failed"
	// KindRouterAPIError indicates the router answered with an error.
	KindRouterAPIError Kind = "router_api_error"
	// KindPersistence indicates a local store read or write failed.
	KindPersistence Kind = "persistence_error"
	// KindInvalidInput indicates an administrative request failed validation.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound indicates the referenced record does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict indicates the request collides with an existing record.
	KindConflict Kind = "conflict"
	// KindUnknown is reported for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Error is a classified failure. Detail is a short context-specific
// sentence appended to the catalog message when the error is described.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// New creates a classified error without an underlying cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates a classified error with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperror.New(kind, ""))
// works regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRouter reports whether err is one of the router connectivity kinds.
func IsRouter(err error) bool {
	switch KindOf(err) {
	case KindRouterConnectTimeout, KindRouterAuthFailed, KindRouterAPIError:
		return true
	}
	return false
}
