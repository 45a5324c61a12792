package router

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-routeros/routeros/v3"
	"go.uber.org/zap"
)

// MikroTikConfig holds the RouterOS API connection settings.
type MikroTikConfig struct {
	Host           string
	Port           int           // API port (default: 8728)
	Username       string
	Password       string
	Timeout        time.Duration // dial timeout (default: 10s)
	HotspotProfile string        // profile for created hotspot users (default: "default")
	BlockList      string        // firewall address-list name for blocked devices
}

// apiConn is one RouterOS API session. Each reply sentence is returned as
// its attribute map.
type apiConn interface {
	run(sentence ...string) ([]map[string]string, error)
	close()
}

type routerosConn struct {
	client *routeros.Client
}

func (c routerosConn) run(sentence ...string) ([]map[string]string, error) {
	reply, err := c.client.Run(sentence...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}
	return rows, nil
}

func (c routerosConn) close() { c.client.Close() }

// MikroTik drives a RouterOS hotspot through the API. Every operation
// dials its own connection and closes it before returning, so a failed
// call never leaves a broken connection behind.
type MikroTik struct {
	config MikroTikConfig
	dial   func(ctx context.Context) (apiConn, error)
	logger *zap.Logger
}

// NewMikroTik creates a RouterOS API client.
func NewMikroTik(config MikroTikConfig, logger *zap.Logger) *MikroTik {
	if config.Port == 0 {
		config.Port = 8728
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.HotspotProfile == "" {
		config.HotspotProfile = "default"
	}
	if config.BlockList == "" {
		config.BlockList = "portal-blocked"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &MikroTik{config: config, logger: logger}
	m.dial = m.dialAPI
	return m
}

func (m *MikroTik) dialAPI(ctx context.Context) (apiConn, error) {
	timeout := m.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	client, err := routeros.DialTimeout(addr, m.config.Username, m.config.Password, timeout)
	if err != nil {
		return nil, fmt.Errorf("RouterOS connection to %s failed: %w", addr, err)
	}
	return routerosConn{client: client}, nil
}

// withConn runs fn on a fresh connection and classifies any failure.
func (m *MikroTik) withConn(ctx context.Context, op string, fn func(apiConn) error) error {
	conn, err := m.dial(ctx)
	if err != nil {
		m.logger.Error("failed to connect to MikroTik router", zap.String("op", op), zap.Error(err))
		return Classify(err)
	}
	defer conn.close()

	if err := fn(conn); err != nil {
		m.logger.Error("MikroTik command failed", zap.String("op", op), zap.Error(err))
		return Classify(err)
	}
	return nil
}

// ActiveSessions lists /ip/hotspot/active.
func (m *MikroTik) ActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	var sessions []ActiveSession
	err := m.withConn(ctx, "active sessions", func(c apiConn) error {
		rows, err := c.run("/ip/hotspot/active/print")
		if err != nil {
			return err
		}
		sessions = make([]ActiveSession, 0, len(rows))
		for _, r := range rows {
			sessions = append(sessions, ActiveSession{
				ID:         r[".id"],
				User:       r["user"],
				Address:    r["address"],
				MACAddress: CanonicalMAC(r["mac-address"]),
				Uptime:     r["uptime"],
				BytesIn:    parseCounter(r["bytes-in"]),
				BytesOut:   parseCounter(r["bytes-out"]),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// EnsureUser creates the hotspot user, or resets its password when it
// already exists with a different one.
func (m *MikroTik) EnsureUser(ctx context.Context, username, password string, client Client) error {
	return m.withConn(ctx, "ensure user", func(c apiConn) error {
		existing, err := c.run("/ip/hotspot/user/print", "?name="+username)
		if err != nil {
			return err
		}

		if len(existing) == 0 {
			_, err := c.run("/ip/hotspot/user/add",
				"=name="+username,
				"=password="+password,
				"=profile="+m.config.HotspotProfile,
			)
			if err != nil {
				return fmt.Errorf("failed to add hotspot user: %w", err)
			}
			m.logger.Debug("created hotspot user", zap.String("mac", client.MACAddress))
			return nil
		}

		if existing[0]["password"] != password {
			_, err := c.run("/ip/hotspot/user/set", "=.id="+existing[0][".id"], "=password="+password)
			if err != nil {
				return fmt.Errorf("failed to update hotspot user: %w", err)
			}
			m.logger.Debug("updated hotspot user password")
		}
		return nil
	})
}

// Disconnect removes an entry from /ip/hotspot/active.
func (m *MikroTik) Disconnect(ctx context.Context, sessionID string) error {
	return m.withConn(ctx, "disconnect", func(c apiConn) error {
		_, err := c.run("/ip/hotspot/active/remove", "=.id="+sessionID)
		return err
	})
}

// Block binds the MAC as blocked in the hotspot and, when the client
// address is known, adds it to the firewall block list.
func (m *MikroTik) Block(ctx context.Context, entry BlockEntry) error {
	mac := CanonicalMAC(entry.MACAddress)
	return m.withConn(ctx, "block", func(c apiConn) error {
		bindings, err := c.run("/ip/hotspot/ip-binding/print", "?mac-address="+mac)
		if err != nil {
			return err
		}
		if len(bindings) == 0 {
			if _, err := c.run("/ip/hotspot/ip-binding/add",
				"=mac-address="+mac,
				"=type=blocked",
				"=comment="+entry.Comment,
			); err != nil {
				return fmt.Errorf("failed to add ip-binding: %w", err)
			}
		}

		if entry.Address == "" {
			return nil
		}
		listed, err := c.run("/ip/firewall/address-list/print",
			"?list="+m.config.BlockList,
			"?address="+entry.Address,
		)
		if err != nil {
			return err
		}
		if len(listed) > 0 {
			return nil
		}
		_, err = c.run("/ip/firewall/address-list/add",
			"=list="+m.config.BlockList,
			"=address="+entry.Address,
			"=comment="+mac,
		)
		return err
	})
}

// Unblock removes the MAC's ip-binding and block list entries.
func (m *MikroTik) Unblock(ctx context.Context, macAddress string) error {
	mac := CanonicalMAC(macAddress)
	return m.withConn(ctx, "unblock", func(c apiConn) error {
		bindings, err := c.run("/ip/hotspot/ip-binding/print", "?mac-address="+mac)
		if err != nil {
			return err
		}
		for _, b := range bindings {
			if _, err := c.run("/ip/hotspot/ip-binding/remove", "=.id="+b[".id"]); err != nil {
				return err
			}
		}

		listed, err := c.run("/ip/firewall/address-list/print",
			"?list="+m.config.BlockList,
			"?comment="+mac,
		)
		if err != nil {
			return err
		}
		for _, l := range listed {
			if _, err := c.run("/ip/firewall/address-list/remove", "=.id="+l[".id"]); err != nil {
				return err
			}
		}
		return nil
	})
}

// TestConnection logs in and reads the router identity.
func (m *MikroTik) TestConnection(ctx context.Context) error {
	return m.withConn(ctx, "test connection", func(c apiConn) error {
		rows, err := c.run("/system/identity/print")
		if err != nil {
			return err
		}
		name := ""
		if len(rows) > 0 {
			name = rows[0]["name"]
		}
		m.logger.Info("MikroTik connection test successful", zap.String("identity", name))
		return nil
	})
}

func parseCounter(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
