package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BONDD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BONDD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.ID, "BONDD_LEDGER_ID")
	setStr(&cfg.Ledger.InitialDebtSupply, "BONDD_LEDGER_INITIAL_DEBT_SUPPLY")
	setStr(&cfg.Ledger.MinimumDeposit, "BONDD_LEDGER_MINIMUM_DEPOSIT")
	setStr(&cfg.Ledger.Treasury, "BONDD_LEDGER_TREASURY")
	setStringSlice(&cfg.Ledger.Operators, "BONDD_LEDGER_OPERATORS")
	setStr(&cfg.Ledger.ExpiresAt, "BONDD_LEDGER_EXPIRES_AT")
	setDuration(&cfg.Ledger.ExpiryCheckInterval, "BONDD_LEDGER_EXPIRY_CHECK_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "BONDD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "BONDD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "BONDD_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "BONDD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "BONDD_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.CollateralToken, "BONDD_CHAIN_COLLATERAL_TOKEN")
	setStr(&cfg.Chain.DebtToken, "BONDD_CHAIN_DEBT_TOKEN")
	setUint64(&cfg.Chain.Confirmations, "BONDD_CHAIN_CONFIRMATIONS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BONDD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BONDD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BONDD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BONDD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BONDD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BONDD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BONDD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BONDD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BONDD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BONDD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BONDD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BONDD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BONDD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BONDD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BONDD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BONDD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BONDD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BONDD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BONDD_S3_REGION")
	setStr(&cfg.S3.Bucket, "BONDD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BONDD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BONDD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BONDD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BONDD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BONDD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BONDD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BONDD_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BONDD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BONDD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BONDD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "BONDD_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BONDD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BONDD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BONDD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BONDD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BONDD_MODE")
	setStr(&cfg.LogLevel, "BONDD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
