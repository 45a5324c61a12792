// Package config loads portal configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Router backends.
const (
	BackendMikroTik = "mikrotik"
	BackendOpenWrt  = "openwrt"
	BackendStub     = "stub"
)

// Roster-unavailable policies.
const (
	PolicyReject = "reject"
	PolicyAdmit  = "admit"
)

// MikroTikConfig holds the RouterOS API connection settings.
type MikroTikConfig struct {
	Host           string        `mapstructure:"mikrotik_host"`
	Port           int           `mapstructure:"mikrotik_port"`
	Username       string        `mapstructure:"mikrotik_username"`
	Password       string        `mapstructure:"mikrotik_password"`
	Timeout        time.Duration `mapstructure:"mikrotik_timeout"`
	HotspotProfile string        `mapstructure:"mikrotik_hotspot_profile"`
}

// OpenWrtConfig holds the OpenWrt/OpenNDS SSH settings.
type OpenWrtConfig struct {
	Address     string `mapstructure:"openwrt_address"`
	Port        int    `mapstructure:"openwrt_port"`
	Username    string `mapstructure:"openwrt_username"`
	Password    string `mapstructure:"openwrt_password"`
	PrivateKey  string `mapstructure:"openwrt_private_key"`
	AuthTimeout int    `mapstructure:"openwrt_auth_timeout"`
}

// RosterConfig identifies the roster spreadsheet.
type RosterConfig struct {
	CredentialsFile string `mapstructure:"google_credentials_file"`
	CredentialsJSON string `mapstructure:"google_credentials_json"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	Range           string `mapstructure:"sheet_range"`
	// CacheTimeout is expressed in seconds, as SHEET_CACHE_TIMEOUT.
	CacheTimeout int `mapstructure:"sheet_cache_timeout"`
}

// CacheTTL returns the roster cache TTL.
func (r RosterConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTimeout) * time.Second
}

// Config is the full portal configuration.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	DatabaseURL string `mapstructure:"database_url"`
	DBPath      string `mapstructure:"db_path"`

	Roster RosterConfig `mapstructure:",squash"`

	RouterBackend string         `mapstructure:"router_backend"`
	BlockListName string         `mapstructure:"block_list_name"`
	MikroTik      MikroTikConfig `mapstructure:",squash"`
	OpenWrt       OpenWrtConfig  `mapstructure:",squash"`

	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`

	// OnRosterUnavailable decides guest logins when the roster is empty
	// or unreachable: "reject" or "admit".
	OnRosterUnavailable string `mapstructure:"on_roster_unavailable"`

	DevelopmentMode bool   `mapstructure:"development_mode"`
	LogLevel        string `mapstructure:"log_level"`

	KeysDir  string        `mapstructure:"keys_dir"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	LoginRateLimit float64 `mapstructure:"login_rate_limit"`
	LoginRateBurst int     `mapstructure:"login_rate_burst"`
}

var defaults = map[string]any{
	"http_addr":    ":8080",
	"database_url": "",
	"db_path":      "./portal.db",

	"google_credentials_file": "credentials.json",
	"google_credentials_json": "",
	"spreadsheet_id":          "",
	"sheet_name":              "Sheet1",
	"sheet_range":             "A:C",
	"sheet_cache_timeout":     300,

	"router_backend":  BackendMikroTik,
	"block_list_name": "portal-blocked",

	"mikrotik_host":            "192.168.88.1",
	"mikrotik_port":            8728,
	"mikrotik_username":        "admin",
	"mikrotik_password":        "",
	"mikrotik_timeout":         "10s",
	"mikrotik_hotspot_profile": "default",

	"openwrt_address":      "",
	"openwrt_port":         22,
	"openwrt_username":     "root",
	"openwrt_password":     "",
	"openwrt_private_key":  "",
	"openwrt_auth_timeout": 0,

	"admin_username": "admin",
	"admin_password": "admin123",

	"on_roster_unavailable": PolicyReject,

	"development_mode": false,
	"log_level":        "info",

	"keys_dir":  "./keys",
	"token_ttl": "24h",

	"login_rate_limit": 1.0,
	"login_rate_burst": 5,
}

// Defaults returns a copy of the default values keyed by setting name.
func Defaults() map[string]any {
	values := make(map[string]any, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	return values
}

// Load reads an optional .env file, an optional config file and the
// environment, in increasing order of precedence.
func Load(configFile ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if len(configFile) > 0 && configFile[0] != "" {
		v.SetConfigFile(configFile[0])
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	switch c.RouterBackend {
	case BackendMikroTik, BackendOpenWrt, BackendStub:
	default:
		return fmt.Errorf("config: unknown ROUTER_BACKEND %q", c.RouterBackend)
	}
	switch c.OnRosterUnavailable {
	case PolicyReject, PolicyAdmit:
	default:
		return fmt.Errorf("config: ON_ROSTER_UNAVAILABLE must be %q or %q, got %q", PolicyReject, PolicyAdmit, c.OnRosterUnavailable)
	}
	if c.Roster.CacheTimeout < 0 {
		return fmt.Errorf("config: SHEET_CACHE_TIMEOUT must not be negative")
	}
	if c.RouterBackend == BackendOpenWrt && c.OpenWrt.Address == "" {
		return fmt.Errorf("config: OPENWRT_ADDRESS is required for the openwrt backend")
	}
	return nil
}

// UsePostgres reports whether DATABASE_URL selects a postgres store.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}
