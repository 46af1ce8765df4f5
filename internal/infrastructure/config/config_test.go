package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
service:
  id: "test-core"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 8080
admission:
  premium_max_devices: 2
  premium_plus_max_devices: 4
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-core" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-core")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Admission.PremiumPlusMaxDevices != 4 {
		t.Errorf("Admission.PremiumPlusMaxDevices = %d, want 4", cfg.Admission.PremiumPlusMaxDevices)
	}
	// Untouched sections keep their defaults.
	if cfg.Admission.ApprovalWindow() != 5*time.Minute {
		t.Errorf("ApprovalWindow() = %v, want 5m", cfg.Admission.ApprovalWindow())
	}
	if cfg.Session.TTL() != 7*24*time.Hour {
		t.Errorf("Session.TTL() = %v, want 168h", cfg.Session.TTL())
	}
	if cfg.Ephemeral.Backend != "memory" {
		t.Errorf("Ephemeral.Backend = %q, want memory", cfg.Ephemeral.Backend)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
service:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty service.id, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/file.db"
security:
  jwt:
    secret: "file-secret-key-at-least-32-characters"
`)

	t.Setenv("WAGERLINE_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("WAGERLINE_JWT_SECRET", "env-secret-key-at-least-32-characters!")
	t.Setenv("WAGERLINE_API_PORT", "9090")
	t.Setenv("WAGERLINE_REDIS_ADDR", "redis:6379")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Security.JWT.Secret != "env-secret-key-at-least-32-characters!" {
		t.Errorf("JWT.Secret not overridden from env")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q, want redis:6379", cfg.Redis.Addr)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "empty service id", mutate: func(c *Config) { c.Service.ID = "" }, wantErr: "service.id"},
		{name: "empty database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid qos", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: "security.jwt.secret is required"},
		{name: "short jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "at least 32 characters"},
		{name: "zero premium limit", mutate: func(c *Config) { c.Admission.PremiumMaxDevices = 0 }, wantErr: "premium_max_devices"},
		{name: "zero premium plus limit", mutate: func(c *Config) { c.Admission.PremiumPlusMaxDevices = 0 }, wantErr: "premium_plus_max_devices"},
		{name: "zero store timeout", mutate: func(c *Config) { c.Admission.StoreTimeoutMS = 0 }, wantErr: "store_timeout_ms"},
		{name: "zero session ttl", mutate: func(c *Config) { c.Session.TTLHours = 0 }, wantErr: "session.ttl_hours"},
		{name: "unknown ephemeral backend", mutate: func(c *Config) { c.Ephemeral.Backend = "memcached" }, wantErr: "ephemeral.backend"},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Ephemeral.Backend = "redis"
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTimeoutGetters(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 120},
		},
		Admission: AdmissionConfig{StoreTimeoutMS: 2500},
		Ephemeral: EphemeralConfig{TicketTTL: 60, SweepInterval: 15},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 120*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 120s", got)
	}
	if got := cfg.Admission.StoreTimeout(); got != 2500*time.Millisecond {
		t.Errorf("StoreTimeout() = %v, want 2.5s", got)
	}
	if got := cfg.Ephemeral.TicketTTLDuration(); got != time.Minute {
		t.Errorf("TicketTTLDuration() = %v, want 1m", got)
	}
	if got := cfg.Ephemeral.SweepEvery(); got != 15*time.Second {
		t.Errorf("SweepEvery() = %v, want 15s", got)
	}
}
