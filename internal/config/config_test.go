package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "musclefoot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  cors_origins: ["https://t.me"]
solana:
  rpc_url: https://api.devnet.solana.com
  fee_buffer: "0.01"
payment:
  poll_attempts: 10
  poll_interval: 500ms
sync:
  autosave_interval: 1m
storage:
  cache_path: /var/lib/musclefoot/cache.db
auth:
  jwt_secret: s3cret
admin:
  enabled: true
  simulated_clock: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://t.me" {
		t.Errorf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.Solana.RPCURL != "https://api.devnet.solana.com" {
		t.Errorf("unexpected rpc url %q", cfg.Solana.RPCURL)
	}
	if cfg.Payment.PollInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms poll interval, got %v", cfg.Payment.PollInterval)
	}
	if cfg.Sync.AutosaveInterval != time.Minute {
		t.Errorf("expected 1m autosave, got %v", cfg.Sync.AutosaveInterval)
	}
	if !cfg.Admin.Enabled || !cfg.Admin.SimulatedClock {
		t.Errorf("expected admin enabled with simulated clock, got %+v", cfg.Admin)
	}

	// Unset fields keep their defaults.
	if cfg.Solana.Receiver != DefaultReceiver {
		t.Errorf("expected default receiver, got %q", cfg.Solana.Receiver)
	}
	if cfg.Sync.TickInterval != time.Second {
		t.Errorf("expected default tick interval, got %v", cfg.Sync.TickInterval)
	}
	if cfg.Payment.LateReconcileWindow != 24*time.Hour {
		t.Errorf("expected default late window, got %v", cfg.Payment.LateReconcileWindow)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	fee, _ := cfg.FeeBufferSOL()
	if fee.String() != "0.01" {
		t.Errorf("expected fee buffer 0.01, got %s", fee)
	}
}

func TestLoadFromMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Solana.RPCURL != DefaultRPCURL {
		t.Errorf("expected default rpc url, got %q", cfg.Solana.RPCURL)
	}
	pk, err := cfg.ReceiverKey()
	if err != nil || pk.String() != DefaultReceiver {
		t.Errorf("default receiver should parse, got %v %v", pk, err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not, a, map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}

	path = writeConfig(t, "sync:\n  tick_interval: often\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, "from-env")
	t.Setenv(EnvDatabaseURL, "postgres://localhost/musclefoot")

	path := writeConfig(t, "auth:\n  jwt_secret: from-file\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("env should win, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Storage.DatabaseURL != "postgres://localhost/musclefoot" {
		t.Errorf("unexpected database url %q", cfg.Storage.DatabaseURL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.JWTSecret = "s3cret"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = " " }, "auth.jwt_secret"},
		{"bad receiver", func(c *Config) { c.Solana.Receiver = "not-base58-0OIl" }, "solana.receiver"},
		{"bad fee buffer", func(c *Config) { c.Solana.FeeBuffer = "lots" }, "solana.fee_buffer"},
		{"negative fee buffer", func(c *Config) { c.Solana.FeeBuffer = "-1" }, "solana.fee_buffer"},
		{"bad commitment", func(c *Config) { c.Solana.Commitment = "eventually" }, "solana.commitment"},
		{"no poll attempts", func(c *Config) { c.Payment.PollAttempts = 0 }, "payment.poll_attempts"},
		{"zero tick", func(c *Config) { c.Sync.TickInterval = 0 }, "sync.tick_interval"},
		{"port range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no rpc url", func(c *Config) { c.Solana.RPCURL = "" }, "solana.rpc_url"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("defaults with a secret should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Sync.DrainInterval = 0
	cfg.Sync.BalanceInterval = -time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"auth.jwt_secret", "sync.drain_interval", "sync.balance_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}
