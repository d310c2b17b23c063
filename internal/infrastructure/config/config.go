package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gatehouse.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Access   AccessConfig   `yaml:"access"`
	Events   EventsConfig   `yaml:"events"`
}

// ServiceConfig contains deployment-specific identification.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuthConfig contains credential and login-flow settings.
type AuthConfig struct {
	// BcryptCost is the bcrypt work factor for password hashing.
	// 0 uses the library default.
	BcryptCost int `yaml:"bcrypt_cost"`

	// SeedAdmin enables first-boot admin account creation when the
	// principals table is empty.
	SeedAdmin bool `yaml:"seed_admin"`

	Redirects RedirectConfig  `yaml:"redirects"`
	Federated FederatedConfig `yaml:"federated"`
}

// RedirectConfig contains the landing locations returned by the login flow.
// Defaults mirror the original deployment: success and logout land on the
// site root, failures return to the login page, role denials land on a
// dedicated page.
type RedirectConfig struct {
	Success      string `yaml:"success"`
	Failure      string `yaml:"failure"`
	Logout       string `yaml:"logout"`
	AccessDenied string `yaml:"access_denied"`
	Expired      string `yaml:"expired"`
	Login        string `yaml:"login"`
}

// FederatedConfig controls provisioning of principals that arrive through
// an external identity provider.
type FederatedConfig struct {
	// DefaultRoles is the role set granted to a federated principal on
	// first login.
	DefaultRoles []string `yaml:"default_roles"`
}

// SessionsConfig contains session store settings.
type SessionsConfig struct {
	// MaxPerPrincipal caps concurrent sessions per principal.
	// -1 means unlimited (the capacity check is skipped entirely).
	MaxPerPrincipal int `yaml:"max_per_principal"`

	// ConcurrencyPolicy decides what happens when a principal is at
	// capacity: "prevent" rejects the new login, "evict_oldest" removes
	// the principal's oldest session.
	ConcurrencyPolicy string `yaml:"concurrency_policy"`

	// IdleTimeoutMinutes is how long a session may go unused before it
	// expires (sliding window, refreshed on every validation).
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`

	// SweepIntervalSeconds is how often the background sweeper scans
	// for expired sessions.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// Concurrency policy values for SessionsConfig.ConcurrencyPolicy.
const (
	PolicyPrevent     = "prevent"
	PolicyEvictOldest = "evict_oldest"
)

// UnlimitedSessions is the sentinel disabling the per-principal session cap.
// It must be compared exactly; it is not "a very large number".
const UnlimitedSessions = -1

// AccessConfig contains the ordered path rules and the unmatched-path default.
type AccessConfig struct {
	// Rules are evaluated in declaration order; the first matching
	// pattern wins.
	Rules []AccessRuleConfig `yaml:"rules"`

	// Unmatched is the decision for paths no rule matches: "allow" or
	// "deny". The original deployment used allow; deny is the hardened
	// alternative.
	Unmatched string `yaml:"unmatched"`
}

// AccessRuleConfig is a single path rule as written in YAML.
type AccessRuleConfig struct {
	// Pattern is a path glob: `*` matches exactly one segment,
	// `**` matches any number of segments (including none).
	Pattern string `yaml:"pattern"`

	// Require is "public", "authenticated", or "role".
	Require string `yaml:"require"`

	// Roles is the accepted role set when Require is "role".
	Roles []string `yaml:"roles"`
}

// Access requirement values for AccessRuleConfig.Require.
const (
	RequirePublic        = "public"
	RequireAuthenticated = "authenticated"
	RequireRole          = "role"
)

// EventsConfig contains the optional MQTT session-event publisher settings.
type EventsConfig struct {
	Enabled   bool                  `yaml:"enabled"`
	Broker    EventsBrokerConfig    `yaml:"broker"`
	Auth      EventsAuthConfig      `yaml:"auth"`
	QoS       int                   `yaml:"qos"`
	Reconnect EventsReconnectConfig `yaml:"reconnect"`
}

// EventsBrokerConfig contains MQTT broker connection details.
type EventsBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// EventsAuthConfig contains MQTT authentication credentials.
type EventsAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EventsReconnectConfig contains MQTT reconnection settings.
type EventsReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GATEHOUSE_SECTION_KEY
// For example: GATEHOUSE_DATABASE_PATH, GATEHOUSE_EVENTS_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Access rules and redirect targets default to the original deployment's
// configuration; sessions default to the "unlimited, prevent when capped"
// combination it shipped with.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "gatehouse-001",
			Name: "Gatehouse",
		},
		Database: DatabaseConfig{
			Path:        "./data/gatehouse.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Auth: AuthConfig{
			BcryptCost: 0,
			SeedAdmin:  true,
			Redirects: RedirectConfig{
				Success:      "/",
				Failure:      "/loginPage?error",
				Logout:       "/",
				AccessDenied: "/accessDenied",
				Expired:      "/",
				Login:        "/loginPage",
			},
			Federated: FederatedConfig{
				DefaultRoles: []string{"user"},
			},
		},
		Sessions: SessionsConfig{
			MaxPerPrincipal:      UnlimitedSessions,
			ConcurrencyPolicy:    PolicyPrevent,
			IdleTimeoutMinutes:   30,
			SweepIntervalSeconds: 60,
		},
		Access: AccessConfig{
			Rules: []AccessRuleConfig{
				{Pattern: "/css/**", Require: RequirePublic},
				{Pattern: "/js/**", Require: RequirePublic},
				{Pattern: "/img/**", Require: RequirePublic},
				{Pattern: "/lib/**", Require: RequirePublic},
				{Pattern: "/myPage", Require: RequireAuthenticated},
				{Pattern: "/userModify", Require: RequireAuthenticated},
				{Pattern: "/passwordModify", Require: RequireAuthenticated},
				{Pattern: "/profileModify", Require: RequireAuthenticated},
				{Pattern: "/delProfile", Require: RequireAuthenticated},
				{Pattern: "/chat/**", Require: RequireAuthenticated},
				{Pattern: "/adminPage/**", Require: RequireAuthenticated},
				{Pattern: "/posts/save", Require: RequireRole, Roles: []string{"admin", "user"}},
				{Pattern: "/posts/modify/*", Require: RequireRole, Roles: []string{"admin", "user"}},
				{Pattern: "/posts/delete/*", Require: RequireRole, Roles: []string{"admin", "user"}},
				{Pattern: "/posts/review/**", Require: RequireRole, Roles: []string{"admin", "user"}},
			},
			Unmatched: "allow",
		},
		Events: EventsConfig{
			Enabled: false,
			Broker: EventsBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gatehouse-core",
			},
			QoS: 1,
			Reconnect: EventsReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GATEHOUSE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GATEHOUSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Sessions
	if v := os.Getenv("GATEHOUSE_SESSIONS_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sessions.MaxPerPrincipal = n
		}
	}

	// Events broker
	if v := os.Getenv("GATEHOUSE_EVENTS_HOST"); v != "" {
		cfg.Events.Broker.Host = v
	}
	if v := os.Getenv("GATEHOUSE_EVENTS_USERNAME"); v != "" {
		cfg.Events.Auth.Username = v
	}
	if v := os.Getenv("GATEHOUSE_EVENTS_PASSWORD"); v != "" {
		cfg.Events.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Sessions.MaxPerPrincipal < UnlimitedSessions {
		errs = append(errs, "sessions.max_per_principal must be -1 (unlimited) or >= 0")
	}
	switch c.Sessions.ConcurrencyPolicy {
	case PolicyPrevent, PolicyEvictOldest:
	default:
		errs = append(errs, `sessions.concurrency_policy must be "prevent" or "evict_oldest"`)
	}
	if c.Sessions.IdleTimeoutMinutes <= 0 {
		errs = append(errs, "sessions.idle_timeout_minutes must be positive")
	}
	if c.Sessions.SweepIntervalSeconds <= 0 {
		errs = append(errs, "sessions.sweep_interval_seconds must be positive")
	}

	switch c.Access.Unmatched {
	case "allow", "deny":
	default:
		errs = append(errs, `access.unmatched must be "allow" or "deny"`)
	}
	for i, r := range c.Access.Rules {
		if r.Pattern == "" {
			errs = append(errs, fmt.Sprintf("access.rules[%d].pattern is required", i))
		}
		switch r.Require {
		case RequirePublic, RequireAuthenticated:
		case RequireRole:
			if len(r.Roles) == 0 {
				errs = append(errs, fmt.Sprintf(`access.rules[%d].roles is required when require is "role"`, i))
			}
		default:
			errs = append(errs, fmt.Sprintf(`access.rules[%d].require must be "public", "authenticated", or "role"`, i))
		}
	}

	if c.Events.Enabled {
		if c.Events.Broker.Host == "" {
			errs = append(errs, "events.broker.host is required when events are enabled")
		}
		if c.Events.QoS < 0 || c.Events.QoS > 2 {
			errs = append(errs, "events.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IdleTimeout returns the session idle timeout as a Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Sessions.IdleTimeoutMinutes) * time.Minute
}

// SweepInterval returns the session sweep interval as a Duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sessions.SweepIntervalSeconds) * time.Second
}
