package config

import "net/url"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// printing the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Solana.RPCURL = redactURL(cfg.Solana.RPCURL)
	out.Solana.WSURL = redactURL(cfg.Solana.WSURL)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Watch != nil {
		out.Watch = append([]WatchConfig(nil), cfg.Watch...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL hides credentials and query strings, where RPC providers usually
// carry API keys.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if raw == "" {
			return ""
		}
		return redacted
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	if u.Path != "" && u.Path != "/" {
		u.Path = "/redacted"
		u.RawPath = ""
	}
	return u.String()
}
