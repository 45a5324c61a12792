package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// OpenWrtConfig holds the configuration for OpenWrt router with OpenNDS.
type OpenWrtConfig struct {
	Address     string // Router SSH address (e.g., "192.168.1.1")
	Port        int    // SSH port (default: 22)
	Username    string // SSH username (usually "root")
	Password    string // SSH password
	PrivateKey  string // SSH private key (alternative to password)
	AuthTimeout int    // Session timeout in seconds (0 = use OpenNDS default)
}

// OpenWrt grants access through OpenNDS by running ndsctl over SSH.
// OpenNDS has no user records, so the hotspot username is tracked
// locally by MAC address.
type OpenWrt struct {
	config    OpenWrtConfig
	sshConfig *ssh.ClientConfig
	logger    *zap.Logger
	run       func(ctx context.Context, cmd string) (string, error)

	mu    sync.Mutex
	users map[string]string // mac -> username
}

// NewOpenWrt creates a new OpenWrt/OpenNDS client.
func NewOpenWrt(config OpenWrtConfig, logger *zap.Logger) (*OpenWrt, error) {
	if config.Port == 0 {
		config.Port = 22
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var authMethods []ssh.AuthMethod
	if config.Password != "" {
		authMethods = append(authMethods, ssh.Password(config.Password))
	}
	if config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method provided (password or private key required)")
	}

	c := &OpenWrt{
		config: config,
		sshConfig: &ssh.ClientConfig{
			User:            config.Username,
			Auth:            authMethods,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // router host keys are not verified; use known_hosts in production
			Timeout:         10 * time.Second,
		},
		logger: logger,
		users:  make(map[string]string),
	}
	c.run = c.runSSHCommand
	return c, nil
}

// EnsureUser authenticates the client MAC in OpenNDS.
func (c *OpenWrt) EnsureUser(ctx context.Context, username, password string, client Client) error {
	mac := normalizeMACAddress(client.MACAddress)
	if mac == "" {
		return Classify(fmt.Errorf("client MAC address is required for OpenNDS"))
	}

	// ndsctl auth <mac> [timeout_in_seconds]
	cmd := "ndsctl auth " + mac
	if c.config.AuthTimeout > 0 {
		cmd = fmt.Sprintf("ndsctl auth %s %d", mac, c.config.AuthTimeout)
	}

	output, err := c.run(ctx, cmd)
	if err != nil {
		return Classify(fmt.Errorf("failed to authorize MAC: %w", err))
	}

	switch {
	case strings.Contains(output, "already authenticated"):
		c.logger.Info("MAC already authorized", zap.String("mac", mac))
	case strings.Contains(strings.ToLower(output), "not found"):
		return Classify(fmt.Errorf("client not connected to WiFi network (MAC not found in OpenNDS)"))
	case strings.Contains(strings.ToLower(output), "authenticated"):
		c.logger.Info("MAC authorized", zap.String("mac", mac))
	default:
		c.logger.Warn("unexpected ndsctl output", zap.String("output", output))
	}

	c.mu.Lock()
	c.users[mac] = username
	c.mu.Unlock()
	return nil
}

// ndsClient is one entry of `ndsctl json`. Counter fields are numbers or
// strings depending on the OpenNDS release.
type ndsClient struct {
	IP         string          `json:"ip"`
	MAC        string          `json:"mac"`
	State      string          `json:"state"`
	Duration   json.RawMessage `json:"duration"`
	Downloaded json.RawMessage `json:"downloaded"`
	Uploaded   json.RawMessage `json:"uploaded"`
}

// ActiveSessions parses `ndsctl json`. The session id is the client MAC.
func (c *OpenWrt) ActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	output, err := c.run(ctx, "ndsctl json")
	if err != nil {
		return nil, Classify(err)
	}

	var status struct {
		Clients map[string]ndsClient `json:"clients"`
	}
	if err := json.Unmarshal([]byte(output), &status); err != nil {
		return nil, Classify(fmt.Errorf("failed to parse ndsctl json: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make([]ActiveSession, 0, len(status.Clients))
	for key, cl := range status.Clients {
		if !strings.EqualFold(cl.State, "Authenticated") {
			continue
		}
		mac := cl.MAC
		if mac == "" {
			mac = key
		}
		mac = normalizeMACAddress(mac)
		sessions = append(sessions, ActiveSession{
			ID:         mac,
			User:       c.users[mac],
			Address:    cl.IP,
			MACAddress: CanonicalMAC(mac),
			Uptime:     (time.Duration(rawInt(cl.Duration)) * time.Second).String(),
			// OpenNDS reports kilobytes; downloaded is traffic to the client.
			BytesIn:  rawInt(cl.Uploaded) * 1024,
			BytesOut: rawInt(cl.Downloaded) * 1024,
		})
	}
	return sessions, nil
}

// Disconnect deauthenticates the client with the given MAC.
func (c *OpenWrt) Disconnect(ctx context.Context, sessionID string) error {
	mac := normalizeMACAddress(sessionID)

	output, err := c.run(ctx, "ndsctl deauth "+mac)
	if err != nil {
		return Classify(fmt.Errorf("failed to deauthorize MAC: %w", err))
	}
	if strings.Contains(strings.ToLower(output), "not found") {
		c.logger.Info("MAC not found (already deauthorized)", zap.String("mac", mac))
	}

	c.mu.Lock()
	delete(c.users, mac)
	c.mu.Unlock()
	return nil
}

// Block adds the MAC to the OpenNDS block list.
func (c *OpenWrt) Block(ctx context.Context, entry BlockEntry) error {
	mac := normalizeMACAddress(entry.MACAddress)
	output, err := c.run(ctx, "ndsctl block "+mac)
	if err != nil {
		return Classify(fmt.Errorf("failed to block MAC: %w", err))
	}
	if strings.Contains(strings.ToLower(output), "failed") && !strings.Contains(output, "already") {
		return Classify(fmt.Errorf("ndsctl block: %s", strings.TrimSpace(output)))
	}
	return nil
}

// Unblock removes the MAC from the OpenNDS block list.
func (c *OpenWrt) Unblock(ctx context.Context, macAddress string) error {
	mac := normalizeMACAddress(macAddress)
	if _, err := c.run(ctx, "ndsctl unblock "+mac); err != nil {
		return Classify(fmt.Errorf("failed to unblock MAC: %w", err))
	}
	return nil
}

// TestConnection checks that OpenNDS is running on the router.
func (c *OpenWrt) TestConnection(ctx context.Context) error {
	output, err := c.run(ctx, "ndsctl status")
	if err != nil {
		return Classify(fmt.Errorf("connection test failed: %w", err))
	}
	if strings.Contains(output, "openNDS") || strings.Contains(output, "Version") {
		c.logger.Info("OpenNDS connection test successful")
		return nil
	}

	output, err = c.run(ctx, "pgrep opennds || pgrep nodogsplash")
	if err == nil && strings.TrimSpace(output) != "" {
		c.logger.Info("OpenNDS/NoDogSplash process found")
		return nil
	}
	return Classify(fmt.Errorf("OpenNDS does not appear to be running"))
}

// runSSHCommand executes a command on the router via SSH.
func (c *OpenWrt) runSSHCommand(ctx context.Context, cmd string) (string, error) {
	addr := net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))

	dialer := net.Dialer{Timeout: c.sshConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("SSH connection failed: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, c.sshConfig)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("SSH handshake failed: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(cmd)
	if err != nil {
		// A non-zero exit with output still carries the ndsctl message.
		if len(output) > 0 {
			return string(output), nil
		}
		return "", fmt.Errorf("command failed: %w", err)
	}
	return string(output), nil
}

func rawInt(raw json.RawMessage) int64 {
	s := strings.Trim(string(raw), `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(n)
}
