package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment overrides, and returns the final
// Config. A missing file is not an error when path is empty. The returned
// Config has NOT been validated; the caller should invoke Config.Validate().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyCompatEnv(&cfg)
	if cfg.Solana.WSURL == "" {
		cfg.Solana.WSURL = deriveWSURL(cfg.Solana.RPCURL)
	}

	return &cfg, nil
}

// applyEnvOverrides reads PAYWATCH_* environment variables and overwrites the
// corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "PAYWATCH_SOLANA_RPC_URL")
	setStr(&cfg.Solana.WSURL, "PAYWATCH_SOLANA_WS_URL")
	setStr(&cfg.Solana.Commitment, "PAYWATCH_SOLANA_COMMITMENT")
	setFloat64(&cfg.Solana.RPS, "PAYWATCH_SOLANA_RPS")
	setInt(&cfg.Solana.Burst, "PAYWATCH_SOLANA_BURST")
	setDuration(&cfg.Solana.RequestTimeout, "PAYWATCH_SOLANA_REQUEST_TIMEOUT")
	setBool(&cfg.Solana.Preflight, "PAYWATCH_SOLANA_PREFLIGHT")

	// ── Store ──
	setStr(&cfg.Store.Driver, "PAYWATCH_STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAYWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PAYWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAYWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAYWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAYWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAYWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAYWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAYWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAYWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAYWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAYWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAYWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAYWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAYWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAYWATCH_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PAYWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PAYWATCH_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAYWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAYWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAYWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAYWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAYWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAYWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAYWATCH_S3_FORCE_PATH_STYLE")

	// ── Sweep / reconcile / live ──
	setInt(&cfg.Sweep.PageSize, "PAYWATCH_SWEEP_PAGE_SIZE")
	setDuration(&cfg.Sweep.LockTTL, "PAYWATCH_SWEEP_LOCK_TTL")
	setDuration(&cfg.Sweep.LockPoll, "PAYWATCH_SWEEP_LOCK_POLL")
	setBool(&cfg.Sweep.OnStartup, "PAYWATCH_SWEEP_ON_STARTUP")
	setInt(&cfg.Reconcile.MaxAttempts, "PAYWATCH_RECONCILE_MAX_ATTEMPTS")
	setInt(&cfg.Reconcile.FetchAttempts, "PAYWATCH_RECONCILE_FETCH_ATTEMPTS")
	setInt(&cfg.Live.MaxInFlight, "PAYWATCH_LIVE_MAX_IN_FLIGHT")
	setDuration(&cfg.Live.DrainTimeout, "PAYWATCH_LIVE_DRAIN_TIMEOUT")

	// ── Audit ──
	setStr(&cfg.Audit.Sink, "PAYWATCH_AUDIT_SINK")
	setStr(&cfg.Audit.FilePath, "PAYWATCH_AUDIT_FILE_PATH")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAYWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAYWATCH_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PAYWATCH_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAYWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAYWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAYWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAYWATCH_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "PAYWATCH_LOG_LEVEL")
}

// Environment names used by earlier deployments of the monitor.
const (
	envLegacyRPCURL     = "SOLANA_JSON_RPC_ENDPOINT_URL"
	envLegacyAcceptance = "ACCEPTANCE_ACCOUNT_PUBLIC_KEY_STRING"
	envLegacyTokenATA   = "SPL_ATA_PUBLIC_KEY_STRING"
)

// applyCompatEnv maps the legacy variables onto the config. Each address
// variable replaces the first watch entry of its kind, or adds one.
func applyCompatEnv(cfg *Config) {
	if os.Getenv("PAYWATCH_SOLANA_RPC_URL") == "" {
		setStr(&cfg.Solana.RPCURL, envLegacyRPCURL)
	}
	upsertWatch(cfg, os.Getenv(envLegacyAcceptance), domain.KindTransfer, "acceptance")
	upsertWatch(cfg, os.Getenv(envLegacyTokenATA), domain.KindTransferChecked, "spl-ata")
}

func upsertWatch(cfg *Config, address string, kind domain.InstructionKind, label string) {
	address = strings.TrimSpace(address)
	if address == "" {
		return
	}
	for i := range cfg.Watch {
		if cfg.Watch[i].Kind == string(kind) {
			cfg.Watch[i].Address = address
			return
		}
	}
	cfg.Watch = append(cfg.Watch, WatchConfig{Address: address, Kind: string(kind), Label: label})
}

// deriveWSURL maps http(s)://host to ws(s)://host.
func deriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	}
	return rpcURL
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
