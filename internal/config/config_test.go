package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

const (
	acceptanceKey = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	ataKey        = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Solana.WSURL = deriveWSURL(cfg.Solana.RPCURL)
	cfg.Watch = []WatchConfig{{Address: acceptanceKey, Kind: "transfer"}}
	return cfg
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paywatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsWithWatchAreValid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_AggregatesProblems(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	cfg.Watch = []WatchConfig{
		{Address: "not-base58-0OIl", Kind: "transfer"},
		{Address: acceptanceKey, Kind: "burn"},
		{Address: acceptanceKey, Kind: "transfer"},
	}
	cfg.Store.Driver = "sqlite"
	cfg.Sweep.PageSize = 5000
	cfg.Audit.Sink = "kafka"
	cfg.Notify.Events = []string{"order_filled"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	msg := err.Error()
	for _, want := range []string{
		`unknown log_level "verbose"`,
		`watch[0]: address "not-base58-0OIl" is not a valid public key`,
		`watch[1]: unknown kind "burn"`,
		"watch[2]: address " + acceptanceKey + " is listed more than once",
		`store: unknown driver "sqlite"`,
		"sweep: page_size must be 1-1000, got 5000",
		`audit: unknown sink "kafka"`,
		`notify: unknown event "order_filled"`,
	} {
		assert.Contains(t, msg, want)
	}
	assert.Len(t, verr.Problems, 8)
}

func TestValidate_RequiresWatchedAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Watch = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one [[watch]] address")
}

func TestValidate_Endpoints(t *testing.T) {
	cfg := validConfig()
	cfg.Solana.RPCURL = "ftp://node"
	cfg.Solana.WSURL = ""
	cfg.Solana.Commitment = "processed"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `solana: rpc_url "ftp://node" must use http or https`)
	assert.Contains(t, err.Error(), "solana: ws_url must not be empty")
	assert.Contains(t, err.Error(), "commitment must be confirmed or finalized")
}

func TestValidate_ConditionalSections(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = "memory"
	cfg.Postgres.Host = ""
	cfg.Audit.Sink = "both"
	cfg.Audit.FilePath = ""
	cfg.S3.Bucket = ""
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.NotContains(t, msg, "postgres:")
	assert.Contains(t, msg, "audit: file_path must not be empty")
	assert.Contains(t, msg, "s3: bucket must not be empty")
	assert.Contains(t, msg, "redis: addr must not be empty")
	assert.Contains(t, msg, "telegram_token and telegram_chat_id must be set together")
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
log_level = "debug"

[solana]
rpc_url = "https://rpc.example.com/key"

[[watch]]
address = "`+acceptanceKey+`"
kind = "transfer"
label = "sol"

[sweep]
page_size = 50
lock_ttl = "2m"
lock_poll = "500ms"

[live]
drain_timeout = "5s"
`)
	t.Setenv("PAYWATCH_SERVER_PORT", "9090")
	t.Setenv("PAYWATCH_NOTIFY_EVENTS", "payment_applied, sweep_failed")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "wss://rpc.example.com/key", cfg.Solana.WSURL)
	assert.Equal(t, 50, cfg.Sweep.PageSize)
	assert.Equal(t, 2*time.Minute, cfg.Sweep.LockTTL.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Sweep.LockPoll.Duration)
	assert.Equal(t, 5*time.Second, cfg.Live.DrainTimeout.Duration)
	assert.Equal(t, 32, cfg.Live.MaxInFlight, "unset keys keep defaults")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"payment_applied", "sweep_failed"}, cfg.Notify.Events)

	watched := cfg.WatchedAddresses()
	require.Len(t, watched, 1)
	assert.Equal(t, domain.WatchedAddress{Address: acceptanceKey, Kind: domain.KindTransfer, Label: "sol"}, watched[0])
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("SOLANA_JSON_RPC_ENDPOINT_URL", "http://127.0.0.1:8899")
	t.Setenv("ACCEPTANCE_ACCOUNT_PUBLIC_KEY_STRING", acceptanceKey)
	t.Setenv("SPL_ATA_PUBLIC_KEY_STRING", ataKey)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://127.0.0.1:8899", cfg.Solana.RPCURL)
	assert.Equal(t, "ws://127.0.0.1:8899", cfg.Solana.WSURL)
	assert.Equal(t, []WatchConfig{
		{Address: acceptanceKey, Kind: "transfer", Label: "acceptance"},
		{Address: ataKey, Kind: "transferChecked", Label: "spl-ata"},
	}, cfg.Watch)
}

func TestLoad_LegacyAddressReplacesSameKind(t *testing.T) {
	path := writeFile(t, `
[[watch]]
address = "11111111111111111111111111111111"
kind = "transfer"
label = "old"
`)
	t.Setenv("ACCEPTANCE_ACCOUNT_PUBLIC_KEY_STRING", acceptanceKey)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Watch, 1)
	assert.Equal(t, acceptanceKey, cfg.Watch[0].Address)
	assert.Equal(t, "old", cfg.Watch[0].Label)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeFile(t, "[sweep]\nlock_ttl = \"soon\"\n"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Solana.RPCURL = "https://user:pw@rpc.example.com/v2/secret?api-key=abc"
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "s3cr3t"
	cfg.Notify.TelegramToken = "tok"
	cfg.Server.APIKey = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "https://redacted@rpc.example.com/redacted?redacted", out.Solana.RPCURL)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Server.APIKey)
	assert.Equal(t, "hunter2", cfg.Postgres.Password, "original untouched")

	out.Watch[0].Address = "changed"
	assert.Equal(t, acceptanceKey, cfg.Watch[0].Address)
}
