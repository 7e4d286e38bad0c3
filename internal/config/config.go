// Package config defines the agent configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KALKI_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Agent    AgentConfig    `toml:"agent"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Sources  SourcesConfig  `toml:"sources"`
	Resolver ResolverConfig `toml:"resolver"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig points the agent at a node and the resolution contract.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ContractAddress  string   `toml:"contract_address"`
	CommitGasLimit   uint64   `toml:"commit_gas_limit"`
	RegisterGasLimit uint64   `toml:"register_gas_limit"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	ReceiptPoll      duration `toml:"receipt_poll"`
}

// AgentConfig holds the signing key and operator settings.
type AgentConfig struct {
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	RegisterStake    string   `toml:"register_stake"`
	StatsInterval    duration `toml:"stats_interval"`
}

// WatcherConfig controls event polling.
type WatcherConfig struct {
	PollInterval  duration `toml:"poll_interval"`
	ErrorBackoff  duration `toml:"error_backoff"`
	MaxBlockRange uint64   `toml:"max_block_range"`
	DedupTTL      duration `toml:"dedup_ttl"`
}

// SourcesConfig configures the evidence providers.
type SourcesConfig struct {
	Timeout            duration `toml:"timeout"`
	CoinGeckoURL       string   `toml:"coingecko_url"`
	BinanceURL         string   `toml:"binance_url"`
	PerplexityURL      string   `toml:"perplexity_url"`
	PerplexityAPIKey   string   `toml:"perplexity_api_key"`
	PerplexityModel    string   `toml:"perplexity_model"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	CacheTTL           duration `toml:"cache_ttl"`
}

// ResolverConfig bounds retries for each job. MaxRetries is the number of
// retries after the first try of a stage, not the total attempt count.
type ResolverConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	RetryMaxDelay  duration `toml:"retry_max_delay"`
	LockTTL        duration `toml:"lock_ttl"`
	ShutdownGrace  duration `toml:"shutdown_grace"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the evidence
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API parameters. RateLimitPerMinute applies per
// client IP and only when Redis is enabled.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	APIKey             string   `toml:"api_key"`
	CORSOrigins        []string `toml:"cors_origins"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// DefaultRPCURL is the public BSC testnet endpoint.
const DefaultRPCURL = "https://data-seed-prebsc-1-s1.bnbchain.org:8545"

// Supported run modes.
const (
	ModeAgent    = "agent"
	ModeRegister = "register"
	ModeStats    = "stats"
)

// Defaults returns a Config populated with the values used when neither the
// file nor the environment says otherwise.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:           DefaultRPCURL,
			CommitGasLimit:   300_000,
			RegisterGasLimit: 200_000,
			ReceiptTimeout:   duration{2 * time.Minute},
			ReceiptPoll:      duration{2 * time.Second},
		},
		Agent: AgentConfig{
			RegisterStake: "0.01",
			StatsInterval: duration{10 * time.Minute},
		},
		Watcher: WatcherConfig{
			PollInterval:  duration{5 * time.Second},
			ErrorBackoff:  duration{10 * time.Second},
			MaxBlockRange: 5000,
			DedupTTL:      duration{24 * time.Hour},
		},
		Sources: SourcesConfig{
			Timeout:            duration{10 * time.Second},
			PerplexityModel:    "sonar-small-online",
			RateLimitPerMinute: 30,
			CacheTTL:           duration{time.Minute},
		},
		Resolver: ResolverConfig{
			MaxRetries:     3,
			RetryBaseDelay: duration{2 * time.Second},
			RetryMaxDelay:  duration{30 * time.Second},
			LockTTL:        duration{10 * time.Minute},
			ShutdownGrace:  duration{60 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "kalki",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "kalki-evidence",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:               8080,
			RateLimitPerMinute: 120,
		},
		Mode:     ModeAgent,
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	switch c.Mode {
	case ModeAgent, ModeRegister, ModeStats:
	default:
		errs = append(errs, fmt.Sprintf("mode must be one of agent, register, stats; got %q", c.Mode))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level must be debug, info, warn or error; got %q", c.LogLevel))
	}

	// Chain
	if u, err := url.Parse(c.Chain.RPCURL); c.Chain.RPCURL == "" || err != nil || u.Scheme == "" {
		errs = append(errs, "chain: rpc_url must be a URL (env BNB_RPC_URL)")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, "chain: contract_address must be a 0x-prefixed address (env KALKI_CONTRACT_ADDRESS)")
	}
	if c.Chain.CommitGasLimit < 21_000 || c.Chain.RegisterGasLimit < 21_000 {
		errs = append(errs, "chain: gas limits must be at least 21000")
	}
	if c.Chain.ReceiptTimeout.Duration <= 0 || c.Chain.ReceiptPoll.Duration <= 0 {
		errs = append(errs, "chain: receipt_timeout and receipt_poll must be > 0")
	}

	// Agent
	if c.Agent.PrivateKey == "" && c.Agent.EncryptedKeyPath == "" {
		errs = append(errs, "agent: private_key or encrypted_key_path is required (env AGENT_PRIVATE_KEY)")
	}
	if c.Agent.PrivateKey == "" && c.Agent.EncryptedKeyPath != "" && c.Agent.KeyPassword == "" {
		errs = append(errs, "agent: key_password is required when encrypted_key_path is set")
	}
	if c.Mode == ModeRegister && strings.TrimSpace(c.Agent.RegisterStake) == "" {
		errs = append(errs, "agent: register_stake is required in register mode")
	}

	// Watcher
	if c.Watcher.PollInterval.Duration <= 0 {
		errs = append(errs, "watcher: poll_interval must be > 0")
	}
	if c.Watcher.ErrorBackoff.Duration <= 0 {
		errs = append(errs, "watcher: error_backoff must be > 0")
	}
	if c.Watcher.MaxBlockRange == 0 {
		errs = append(errs, "watcher: max_block_range must be > 0")
	}

	// Sources
	if c.Sources.Timeout.Duration <= 0 {
		errs = append(errs, "sources: timeout must be > 0")
	}
	if c.Sources.RateLimitPerMinute < 0 {
		errs = append(errs, "sources: rate_limit_per_minute must be >= 0")
	}

	// Resolver
	if c.Resolver.MaxRetries < 1 {
		errs = append(errs, "resolver: max_retries must be >= 1")
	}
	if c.Resolver.RetryBaseDelay.Duration <= 0 {
		errs = append(errs, "resolver: retry_base_delay must be > 0")
	}
	if c.Resolver.RetryMaxDelay.Duration < c.Resolver.RetryBaseDelay.Duration {
		errs = append(errs, "resolver: retry_max_delay must not be below retry_base_delay")
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
