// Package config defines the paywatch configuration and validates it.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/notify"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAYWATCH_* environment variables.
type Config struct {
	Solana    SolanaConfig    `toml:"solana"`
	Watch     []WatchConfig   `toml:"watch"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Sweep     SweepConfig     `toml:"sweep"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Live      LiveConfig      `toml:"live"`
	Audit     AuditConfig     `toml:"audit"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// SolanaConfig holds the node endpoints and client limits.
type SolanaConfig struct {
	RPCURL string `toml:"rpc_url"`
	// WSURL defaults to RPCURL with a ws/wss scheme.
	WSURL          string   `toml:"ws_url"`
	Commitment     string   `toml:"commitment"`
	RPS            float64  `toml:"rps"`
	Burst          int      `toml:"burst"`
	RequestTimeout duration `toml:"request_timeout"`
	Preflight      bool     `toml:"preflight"`
}

// WatchConfig is one [[watch]] entry.
type WatchConfig struct {
	Address string `toml:"address"`
	Kind    string `toml:"kind"`
	Label   string `toml:"label"`
}

// StoreConfig picks the persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // postgres | memory
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, sweep locks
// and the payment bus are process-local.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

type SweepConfig struct {
	PageSize  int      `toml:"page_size"`
	LockTTL   duration `toml:"lock_ttl"`
	LockPoll  duration `toml:"lock_poll"`
	OnStartup bool     `toml:"on_startup"`
}

type ReconcileConfig struct {
	MaxAttempts   int      `toml:"max_attempts"`
	BaseBackoff   duration `toml:"base_backoff"`
	MaxBackoff    duration `toml:"max_backoff"`
	FetchAttempts int      `toml:"fetch_attempts"`
}

type LiveConfig struct {
	MaxInFlight  int      `toml:"max_in_flight"`
	DedupTTL     duration `toml:"dedup_ttl"`
	DrainTimeout duration `toml:"drain_timeout"`
}

// AuditConfig controls where raw live events are kept.
type AuditConfig struct {
	Sink          string   `toml:"sink"` // file | s3 | both | none
	FilePath      string   `toml:"file_path"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
	Buffer        int      `toml:"buffer"`
}

// WritesFile reports whether the file sink is enabled.
func (a AuditConfig) WritesFile() bool {
	s := strings.ToLower(a.Sink)
	return s == "file" || s == "both"
}

// WritesS3 reports whether the S3 sink is enabled.
func (a AuditConfig) WritesS3() bool {
	s := strings.ToLower(a.Sink)
	return s == "s3" || s == "both"
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:         "https://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			RPS:            10,
			Burst:          20,
			RequestTimeout: duration{30 * time.Second},
			Preflight:      true,
		},
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "paywatch",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   1,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "paywatch:",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "paywatch-audit",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Sweep: SweepConfig{
			PageSize:  100,
			LockTTL:   duration{10 * time.Minute},
			LockPoll:  duration{2 * time.Second},
			OnStartup: true,
		},
		Reconcile: ReconcileConfig{
			MaxAttempts:   5,
			BaseBackoff:   duration{200 * time.Millisecond},
			MaxBackoff:    duration{10 * time.Second},
			FetchAttempts: 5,
		},
		Live: LiveConfig{
			MaxInFlight:  32,
			DedupTTL:     duration{10 * time.Minute},
			DrainTimeout: duration{30 * time.Second},
		},
		Audit: AuditConfig{
			Sink:          "file",
			FilePath:      "tx-log",
			BatchSize:     100,
			FlushInterval: duration{5 * time.Second},
			Buffer:        1024,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{
				notify.EventPaymentUnresolved,
				notify.EventPaymentRejected,
				notify.EventDuplicatePayment,
				notify.EventSweepFailed,
			},
		},
		LogLevel: "info",
	}
}

// WatchedAddresses converts the [[watch]] entries.
func (c *Config) WatchedAddresses() []domain.WatchedAddress {
	out := make([]domain.WatchedAddress, 0, len(c.Watch))
	for _, w := range c.Watch {
		out = append(out, domain.WatchedAddress{
			Address: strings.TrimSpace(w.Address),
			Kind:    domain.InstructionKind(w.Kind),
			Label:   w.Label,
		})
	}
	return out
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// getTransaction rejects "processed", so it is not offered.
var validCommitments = map[string]bool{
	"confirmed": true,
	"finalized": true,
}

var validAuditSinks = map[string]bool{
	"file": true,
	"s3":   true,
	"both": true,
	"none": true,
}

// maxPageSize is the node's getSignaturesForAddress limit.
const maxPageSize = 1000

// ValidationError lists every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrInvalidConfig
}

// Validate checks Config for invalid or missing values and returns a
// *ValidationError describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Solana
	if err := checkURL(c.Solana.RPCURL, "http", "https"); err != nil {
		add("solana: rpc_url %v", err)
	}
	if err := checkURL(c.Solana.WSURL, "ws", "wss"); err != nil {
		add("solana: ws_url %v", err)
	}
	if !validCommitments[c.Solana.Commitment] {
		add("solana: commitment must be confirmed or finalized, got %q", c.Solana.Commitment)
	}
	if c.Solana.RPS < 0 {
		add("solana: rps must be >= 0")
	}
	if c.Solana.RPS > 0 && c.Solana.Burst < 1 {
		add("solana: burst must be >= 1 when rps is set")
	}
	if c.Solana.RequestTimeout.Duration <= 0 {
		add("solana: request_timeout must be > 0")
	}

	// Watched addresses
	if len(c.Watch) == 0 {
		add("watch: at least one [[watch]] address is required (or set ACCEPTANCE_ACCOUNT_PUBLIC_KEY_STRING / SPL_ATA_PUBLIC_KEY_STRING)")
	}
	seen := make(map[string]bool, len(c.Watch))
	for i, w := range c.Watch {
		addr := strings.TrimSpace(w.Address)
		switch {
		case addr == "":
			add("watch[%d]: address must not be empty", i)
		default:
			if _, err := solanago.PublicKeyFromBase58(addr); err != nil {
				add("watch[%d]: address %q is not a valid public key: %v", i, addr, err)
			}
			if seen[addr] {
				add("watch[%d]: address %s is listed more than once", i, addr)
			}
			seen[addr] = true
		}
		if !domain.InstructionKind(w.Kind).Valid() {
			add("watch[%d]: unknown kind %q (valid: transfer, transferChecked)", i, w.Kind)
		}
	}

	// Store
	switch strings.ToLower(c.Store.Driver) {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
	default:
		add("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Audit
	if !validAuditSinks[strings.ToLower(c.Audit.Sink)] {
		add("audit: unknown sink %q (valid: file, s3, both, none)", c.Audit.Sink)
	}
	if c.Audit.WritesFile() && c.Audit.FilePath == "" {
		add("audit: file_path must not be empty for sink %q", c.Audit.Sink)
	}
	if c.Audit.WritesS3() && c.S3.Bucket == "" {
		add("s3: bucket must not be empty for audit sink %q", c.Audit.Sink)
	}
	if c.Audit.BatchSize < 1 {
		add("audit: batch_size must be >= 1")
	}
	if c.Audit.Buffer < 1 {
		add("audit: buffer must be >= 1")
	}
	if c.Audit.FlushInterval.Duration <= 0 {
		add("audit: flush_interval must be > 0")
	}

	// Sweep
	if c.Sweep.PageSize < 1 || c.Sweep.PageSize > maxPageSize {
		add("sweep: page_size must be 1-%d, got %d", maxPageSize, c.Sweep.PageSize)
	}
	if c.Sweep.LockTTL.Duration <= 0 {
		add("sweep: lock_ttl must be > 0")
	}
	if c.Sweep.LockPoll.Duration <= 0 {
		add("sweep: lock_poll must be > 0")
	}

	// Reconcile
	if c.Reconcile.MaxAttempts < 1 {
		add("reconcile: max_attempts must be >= 1")
	}
	if c.Reconcile.FetchAttempts < 1 {
		add("reconcile: fetch_attempts must be >= 1")
	}
	if c.Reconcile.BaseBackoff.Duration <= 0 {
		add("reconcile: base_backoff must be > 0")
	}
	if c.Reconcile.MaxBackoff.Duration < c.Reconcile.BaseBackoff.Duration {
		add("reconcile: max_backoff must not be less than base_backoff")
	}

	// Live
	if c.Live.MaxInFlight < 1 {
		add("live: max_in_flight must be >= 1")
	}
	if c.Live.DedupTTL.Duration <= 0 {
		add("live: dedup_ttl must be > 0")
	}
	if c.Live.DrainTimeout.Duration <= 0 {
		add("live: drain_timeout must be > 0")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}
	known := make(map[string]bool, len(notify.KnownEvents))
	for _, e := range notify.KnownEvents {
		known[e] = true
	}
	for _, e := range c.Notify.Events {
		if !known[strings.TrimSpace(e)] {
			add("notify: unknown event %q (valid: %s)", e, strings.Join(notify.KnownEvents, ", "))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must use %s", raw, strings.Join(schemes, " or "))
}
