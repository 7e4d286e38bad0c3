package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the built-in defaults, then applies
// environment overrides (a .env file in the working directory is loaded
// first when present). A missing file is not an error: the agent can run
// from the environment alone. The result has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads KALKI_* variables, plus the bare names the agent
// has always accepted (AGENT_PRIVATE_KEY, BNB_RPC_URL, PERPLEXITY_API_KEY),
// and overwrites the corresponding fields when set. The KALKI_* form wins
// when both are present.
func applyEnvOverrides(cfg *Config) {
	// ── Legacy names ──
	setStr(&cfg.Agent.PrivateKey, "AGENT_PRIVATE_KEY")
	setStr(&cfg.Chain.RPCURL, "BNB_RPC_URL")
	setStr(&cfg.Sources.PerplexityAPIKey, "PERPLEXITY_API_KEY")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "KALKI_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "KALKI_CONTRACT_ADDRESS")
	setStr(&cfg.Chain.ContractAddress, "KALKI_CHAIN_CONTRACT_ADDRESS")
	setUint64(&cfg.Chain.CommitGasLimit, "KALKI_CHAIN_COMMIT_GAS_LIMIT")
	setUint64(&cfg.Chain.RegisterGasLimit, "KALKI_CHAIN_REGISTER_GAS_LIMIT")
	setDuration(&cfg.Chain.ReceiptTimeout, "KALKI_CHAIN_RECEIPT_TIMEOUT")

	// ── Agent ──
	setStr(&cfg.Agent.PrivateKey, "KALKI_AGENT_PRIVATE_KEY")
	setStr(&cfg.Agent.EncryptedKeyPath, "KALKI_AGENT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Agent.KeyPassword, "KALKI_AGENT_KEY_PASSWORD")
	setStr(&cfg.Agent.RegisterStake, "KALKI_AGENT_REGISTER_STAKE")
	setDuration(&cfg.Agent.StatsInterval, "KALKI_AGENT_STATS_INTERVAL")

	// ── Watcher ──
	setDuration(&cfg.Watcher.PollInterval, "KALKI_WATCHER_POLL_INTERVAL")
	setDuration(&cfg.Watcher.ErrorBackoff, "KALKI_WATCHER_ERROR_BACKOFF")
	setUint64(&cfg.Watcher.MaxBlockRange, "KALKI_WATCHER_MAX_BLOCK_RANGE")

	// ── Sources ──
	setDuration(&cfg.Sources.Timeout, "KALKI_SOURCES_TIMEOUT")
	setStr(&cfg.Sources.PerplexityAPIKey, "KALKI_SOURCES_PERPLEXITY_API_KEY")
	setStr(&cfg.Sources.PerplexityModel, "KALKI_SOURCES_PERPLEXITY_MODEL")
	setInt(&cfg.Sources.RateLimitPerMinute, "KALKI_SOURCES_RATE_LIMIT_PER_MINUTE")
	setDuration(&cfg.Sources.CacheTTL, "KALKI_SOURCES_CACHE_TTL")

	// ── Resolver ──
	setInt(&cfg.Resolver.MaxRetries, "KALKI_RESOLVER_MAX_RETRIES")
	setDuration(&cfg.Resolver.RetryBaseDelay, "KALKI_RESOLVER_RETRY_BASE_DELAY")
	setDuration(&cfg.Resolver.RetryMaxDelay, "KALKI_RESOLVER_RETRY_MAX_DELAY")
	setDuration(&cfg.Resolver.ShutdownGrace, "KALKI_RESOLVER_SHUTDOWN_GRACE")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "KALKI_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "KALKI_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "KALKI_DATABASE_HOST")
	setInt(&cfg.Database.Port, "KALKI_DATABASE_PORT")
	setStr(&cfg.Database.Database, "KALKI_DATABASE_NAME")
	setStr(&cfg.Database.User, "KALKI_DATABASE_USER")
	setStr(&cfg.Database.Password, "KALKI_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "KALKI_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "KALKI_DATABASE_POOL_MAX_CONNS")
	setBool(&cfg.Database.RunMigrations, "KALKI_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KALKI_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KALKI_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KALKI_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KALKI_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "KALKI_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KALKI_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KALKI_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KALKI_S3_REGION")
	setStr(&cfg.S3.Bucket, "KALKI_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KALKI_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KALKI_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "KALKI_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KALKI_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KALKI_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "KALKI_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "KALKI_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "KALKI_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KALKI_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KALKI_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KALKI_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KALKI_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KALKI_MODE")
	setStr(&cfg.LogLevel, "KALKI_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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

// setDuration accepts Go durations ("90s") and bare integers, which are
// read as seconds.
func setDuration(dst *duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		dst.Duration = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		dst.Duration = time.Duration(n) * time.Second
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
