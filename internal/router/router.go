// Package router controls hotspot access on the gateway router.
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/airfi/airfi-guest-portal/internal/apperror"
)

// ActiveSession is one connection in the router's active hotspot table.
type ActiveSession struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	Address    string `json:"address"`
	MACAddress string `json:"mac_address"`
	Uptime     string `json:"uptime"`
	BytesIn    int64  `json:"bytes_in"`
	BytesOut   int64  `json:"bytes_out"`
}

// Client identifies the device behind a login attempt.
type Client struct {
	MACAddress string
	IPAddress  string
}

// BlockEntry is a device to deny at the router.
type BlockEntry struct {
	MACAddress string
	Address    string
	Comment    string
}

// Router defines hotspot access control on a gateway.
type Router interface {
	// ActiveSessions lists the connected hotspot clients.
	ActiveSessions(ctx context.Context) ([]ActiveSession, error)

	// EnsureUser creates the hotspot user if it does not exist. It does
	// not start a session.
	EnsureUser(ctx context.Context, username, password string, client Client) error

	// Disconnect removes one active session by router id.
	Disconnect(ctx context.Context, sessionID string) error

	// Block adds a device to the router block list. Repeated calls are
	// no-ops.
	Block(ctx context.Context, entry BlockEntry) error

	// Unblock removes a device from the router block list.
	Unblock(ctx context.Context, macAddress string) error

	// TestConnection tests the connection to the router.
	TestConnection(ctx context.Context) error
}

// Classify converts a transport or device failure into a typed router
// error: RouterConnectTimeout, RouterAuthFailed or RouterApiError.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperror.IsRouter(err) {
		return err
	}

	msg := strings.ToLower(err.Error())
	var nerr net.Error
	var operr *net.OpError
	switch {
	case strings.Contains(msg, "invalid user name or password"),
		strings.Contains(msg, "cannot log in"),
		strings.Contains(msg, "unable to authenticate"):
		return apperror.Wrap(apperror.KindRouterAuthFailed, err, "")
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &nerr) && nerr.Timeout(),
		errors.As(err, &operr) && operr.Op == "dial":
		return apperror.Wrap(apperror.KindRouterConnectTimeout, err, "")
	}
	return apperror.Wrap(apperror.KindRouterAPIError, err, "")
}

// normalizeMACAddress converts a MAC address to lowercase colon-separated format.
func normalizeMACAddress(mac string) string {
	mac = strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(mac))
	mac = strings.ToLower(mac)

	if len(mac) == 12 {
		return fmt.Sprintf("%s:%s:%s:%s:%s:%s",
			mac[0:2], mac[2:4], mac[4:6],
			mac[6:8], mac[8:10], mac[10:12])
	}
	return mac
}

// CanonicalMAC is the upper-case colon-separated form used in storage.
func CanonicalMAC(mac string) string {
	return strings.ToUpper(normalizeMACAddress(mac))
}
