// Package config loads the musclefoot server configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/musclefoot/musclefoot/internal/solana"
)

// DefaultConfigFile is the config file read when -config is not given.
const DefaultConfigFile = "musclefoot.yaml"

// Defaults for the on-chain side.
const (
	DefaultRPCURL   = "https://api.mainnet-beta.solana.com"
	DefaultReceiver = "GnNkrN2oDNre6tR6i2Z71vgMbvE8tfVeWu5VtUN4ocUX"
)

// Environment overrides for values that should not live in the file.
const (
	EnvJWTSecret   = "MUSCLEFOOT_JWT_SECRET"
	EnvAdminSecret = "MUSCLEFOOT_ADMIN_SECRET"
	EnvDatabaseURL = "DATABASE_URL"
)

// Config represents the contents of musclefoot.yaml.
type Config struct {
	Server  Server  `yaml:"server"`
	Solana  Solana  `yaml:"solana"`
	Payment Payment `yaml:"payment"`
	Sync    Sync    `yaml:"sync"`
	Storage Storage `yaml:"storage"`
	Auth    Auth    `yaml:"auth"`
	Admin   Admin   `yaml:"admin"`
}

// Server configures the HTTP listener.
type Server struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Solana configures the RPC endpoint and the payment receiver.
type Solana struct {
	RPCURL            string  `yaml:"rpc_url"`
	Receiver          string  `yaml:"receiver"`
	FeeBuffer         string  `yaml:"fee_buffer"` // SOL kept back for network fees
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	Commitment        string  `yaml:"commitment"`
}

// Payment configures confirmation polling.
type Payment struct {
	PollAttempts        int           `yaml:"poll_attempts"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	LateReconcileWindow time.Duration `yaml:"late_reconcile_window"`
}

// Sync configures the periodic loops and the offline queue.
type Sync struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	DrainInterval    time.Duration `yaml:"drain_interval"`
	BalanceInterval  time.Duration `yaml:"balance_interval"`
	QueueLimit       int           `yaml:"queue_limit"`
	FeedSize         int           `yaml:"feed_size"`
}

// Storage selects the local cache and the remote save backends. Empty
// values select the in-memory implementations.
type Storage struct {
	CachePath   string `yaml:"cache_path"`
	DatabaseURL string `yaml:"database_url"`
}

// Auth configures player token verification.
type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Admin configures the operator endpoints.
type Admin struct {
	Enabled        bool   `yaml:"enabled"`
	Secret         string `yaml:"secret"`
	SimulatedClock bool   `yaml:"simulated_clock"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: Server{Port: 8080},
		Solana: Solana{
			RPCURL:            DefaultRPCURL,
			Receiver:          DefaultReceiver,
			FeeBuffer:         "0.005",
			RequestsPerSecond: 10,
			Burst:             5,
			Commitment:        solana.CommitmentConfirmed,
		},
		Payment: Payment{
			PollAttempts:        30,
			PollInterval:        2 * time.Second,
			LateReconcileWindow: 24 * time.Hour,
		},
		Sync: Sync{
			TickInterval:     time.Second,
			AutosaveInterval: 30 * time.Second,
			DrainInterval:    60 * time.Second,
			BalanceInterval:  30 * time.Second,
			QueueLimit:       50,
			FeedSize:         100,
		},
		Auth: Auth{
			Issuer:   "musclefoot",
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Load reads the config at path, layering it over Default. A missing file
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvAdminSecret); v != "" {
		c.Admin.Secret = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.DatabaseURL = v
	}
}

// Validate checks that the configuration is usable, reporting every
// problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	if c.Solana.RPCURL == "" {
		errs = append(errs, errors.New("solana.rpc_url is required"))
	}
	if _, err := c.ReceiverKey(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FeeBufferSOL(); err != nil {
		errs = append(errs, err)
	}
	if c.Solana.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("solana.requests_per_second must not be negative"))
	}
	switch c.Solana.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("solana.commitment %q is not processed, confirmed or finalized", c.Solana.Commitment))
	}

	if c.Payment.PollAttempts <= 0 {
		errs = append(errs, errors.New("payment.poll_attempts must be positive"))
	}
	positive := map[string]time.Duration{
		"payment.poll_interval":         c.Payment.PollInterval,
		"payment.late_reconcile_window": c.Payment.LateReconcileWindow,
		"sync.tick_interval":            c.Sync.TickInterval,
		"sync.autosave_interval":        c.Sync.AutosaveInterval,
		"sync.drain_interval":           c.Sync.DrainInterval,
		"sync.balance_interval":         c.Sync.BalanceInterval,
		"auth.token_ttl":                c.Auth.TokenTTL,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", name))
		}
	}
	if c.Sync.QueueLimit < 0 {
		errs = append(errs, errors.New("sync.queue_limit must not be negative"))
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret is required (or set %s)", EnvJWTSecret))
	}
	return errors.Join(errs...)
}

// ReceiverKey parses the payment receiver address.
func (c *Config) ReceiverKey() (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(c.Solana.Receiver)
	if err != nil {
		return pk, fmt.Errorf("solana.receiver: %w", err)
	}
	return pk, nil
}

// FeeBufferSOL parses the fee buffer.
func (c *Config) FeeBufferSOL() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Solana.FeeBuffer)
	if err != nil {
		return decimal.Zero, fmt.Errorf("solana.fee_buffer: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("solana.fee_buffer must not be negative")
	}
	return d, nil
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
