package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
service:
  id: "test-gatehouse"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
sessions:
  max_per_principal: 3
  concurrency_policy: "evict_oldest"
  idle_timeout_minutes: 15
  sweep_interval_seconds: 30
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-gatehouse" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-gatehouse")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.Sessions.MaxPerPrincipal != 3 {
		t.Errorf("Sessions.MaxPerPrincipal = %d, want 3", cfg.Sessions.MaxPerPrincipal)
	}
	if cfg.Sessions.ConcurrencyPolicy != PolicyEvictOldest {
		t.Errorf("Sessions.ConcurrencyPolicy = %q, want %q", cfg.Sessions.ConcurrencyPolicy, PolicyEvictOldest)
	}
}

func TestLoad_Defaults(t *testing.T) {
	// A minimal file should leave the built-in rule set and redirect
	// targets in place.
	content := `
service:
  id: "test-gatehouse"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sessions.MaxPerPrincipal != UnlimitedSessions {
		t.Errorf("Sessions.MaxPerPrincipal = %d, want %d", cfg.Sessions.MaxPerPrincipal, UnlimitedSessions)
	}
	if cfg.Sessions.ConcurrencyPolicy != PolicyPrevent {
		t.Errorf("Sessions.ConcurrencyPolicy = %q, want %q", cfg.Sessions.ConcurrencyPolicy, PolicyPrevent)
	}
	if cfg.Auth.Redirects.Success != "/" {
		t.Errorf("Auth.Redirects.Success = %q, want %q", cfg.Auth.Redirects.Success, "/")
	}
	if cfg.Auth.Redirects.AccessDenied != "/accessDenied" {
		t.Errorf("Auth.Redirects.AccessDenied = %q, want %q", cfg.Auth.Redirects.AccessDenied, "/accessDenied")
	}
	if cfg.Access.Unmatched != "allow" {
		t.Errorf("Access.Unmatched = %q, want %q", cfg.Access.Unmatched, "allow")
	}
	if len(cfg.Access.Rules) == 0 {
		t.Fatal("Access.Rules is empty, want default rule set")
	}
	if cfg.Access.Rules[0].Pattern != "/css/**" {
		t.Errorf("Access.Rules[0].Pattern = %q, want %q", cfg.Access.Rules[0].Pattern, "/css/**")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
service:
  id: "test-gatehouse"
database:
  path: "/tmp/from-file.db"
`
	t.Setenv("GATEHOUSE_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("GATEHOUSE_SESSIONS_MAX", "5")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want env override %q", cfg.Database.Path, "/tmp/from-env.db")
	}
	if cfg.Sessions.MaxPerPrincipal != 5 {
		t.Errorf("Sessions.MaxPerPrincipal = %d, want env override 5", cfg.Sessions.MaxPerPrincipal)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty service id",
			mutate:  func(c *Config) { c.Service.ID = "" },
			wantErr: true,
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "session cap below sentinel",
			mutate:  func(c *Config) { c.Sessions.MaxPerPrincipal = -2 },
			wantErr: true,
		},
		{
			name:    "session cap of zero is allowed",
			mutate:  func(c *Config) { c.Sessions.MaxPerPrincipal = 0 },
			wantErr: false,
		},
		{
			name:    "unknown concurrency policy",
			mutate:  func(c *Config) { c.Sessions.ConcurrencyPolicy = "reject" },
			wantErr: true,
		},
		{
			name:    "zero idle timeout",
			mutate:  func(c *Config) { c.Sessions.IdleTimeoutMinutes = 0 },
			wantErr: true,
		},
		{
			name:    "unknown unmatched decision",
			mutate:  func(c *Config) { c.Access.Unmatched = "permit" },
			wantErr: true,
		},
		{
			name: "rule without pattern",
			mutate: func(c *Config) {
				c.Access.Rules = append(c.Access.Rules, AccessRuleConfig{Require: RequirePublic})
			},
			wantErr: true,
		},
		{
			name: "role rule without roles",
			mutate: func(c *Config) {
				c.Access.Rules = append(c.Access.Rules, AccessRuleConfig{Pattern: "/x", Require: RequireRole})
			},
			wantErr: true,
		},
		{
			name: "rule with unknown requirement",
			mutate: func(c *Config) {
				c.Access.Rules = append(c.Access.Rules, AccessRuleConfig{Pattern: "/x", Require: "anonymous"})
			},
			wantErr: true,
		},
		{
			name: "events enabled without broker host",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Broker.Host = ""
			},
			wantErr: true,
		},
		{
			name: "events qos out of range",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.QoS = 3
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()
	cfg.Sessions.IdleTimeoutMinutes = 30
	cfg.Sessions.SweepIntervalSeconds = 45

	if got := cfg.IdleTimeout(); got != 30*time.Minute {
		t.Errorf("IdleTimeout() = %v, want %v", got, 30*time.Minute)
	}
	if got := cfg.SweepInterval(); got != 45*time.Second {
		t.Errorf("SweepInterval() = %v, want %v", got, 45*time.Second)
	}
}
