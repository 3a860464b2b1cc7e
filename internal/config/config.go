// Package config defines the top-level configuration for the bond ledger
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BONDD_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the bond ledger's construction parameters. Amounts are
// decimal strings so token base units never pass through floats.
type LedgerConfig struct {
	ID                string   `toml:"id"`
	InitialDebtSupply string   `toml:"initial_debt_supply"`
	MinimumDeposit    string   `toml:"minimum_deposit"`
	Treasury          string   `toml:"treasury"`
	Operators         []string `toml:"operators"`
	// ExpiresAt is the fail-safe deadline as RFC3339. Empty disables expiry.
	ExpiresAt string `toml:"expires_at"`
	// ExpiryCheckInterval controls how often the watcher evaluates the
	// deadline.
	ExpiryCheckInterval duration `toml:"expiry_check_interval"`
}

// WalletConfig holds the operator key that acts as the service's on-chain
// identity.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds Ethereum RPC parameters and the token contract addresses.
type ChainConfig struct {
	RPCURL          string `toml:"rpc_url"`
	ChainID         int64  `toml:"chain_id"`
	CollateralToken string `toml:"collateral_token"`
	DebtToken       string `toml:"debt_token"`
	Confirmations   uint64 `toml:"confirmations"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// ArchiveConfig controls the event-journal archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			ID:                  "bond-1",
			InitialDebtSupply:   "0",
			MinimumDeposit:      "0",
			ExpiryCheckInterval: duration{time.Minute},
		},
		Chain: ChainConfig{
			ChainID:       1,
			Confirmations: 1,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bondd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bondd-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"slash_recorded", "partial_collateralization", "redemption_opened", "expired"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":      true,
	"standalone": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, standalone)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if strings.TrimSpace(c.Ledger.ID) == "" {
		errs = append(errs, "ledger: id must not be empty")
	}
	if _, ok := parseAmount(c.Ledger.InitialDebtSupply); !ok {
		errs = append(errs, fmt.Sprintf("ledger: initial_debt_supply %q is not a non-negative decimal", c.Ledger.InitialDebtSupply))
	}
	if c.Ledger.MinimumDeposit != "" {
		if _, ok := parseAmount(c.Ledger.MinimumDeposit); !ok {
			errs = append(errs, fmt.Sprintf("ledger: minimum_deposit %q is not a non-negative decimal", c.Ledger.MinimumDeposit))
		}
	}
	if !common.IsHexAddress(c.Ledger.Treasury) {
		errs = append(errs, "ledger: treasury must be a hex address")
	}
	if len(c.Ledger.Operators) == 0 {
		errs = append(errs, "ledger: at least one operator address is required")
	}
	for _, op := range c.Ledger.Operators {
		if !common.IsHexAddress(op) {
			errs = append(errs, fmt.Sprintf("ledger: operator %q is not a hex address", op))
		}
	}
	if c.Ledger.ExpiresAt != "" {
		if _, err := time.Parse(time.RFC3339, c.Ledger.ExpiresAt); err != nil {
			errs = append(errs, fmt.Sprintf("ledger: expires_at %q is not RFC3339", c.Ledger.ExpiresAt))
		}
	}

	serveMode := strings.ToLower(c.Mode) == "serve"

	// Wallet — serve mode signs on-chain transactions.
	if serveMode {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode serve")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain — only serve mode talks to a node.
	if serveMode {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode serve")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
		}
		if !common.IsHexAddress(c.Chain.CollateralToken) {
			errs = append(errs, "chain: collateral_token must be a hex address")
		}
		if !common.IsHexAddress(c.Chain.DebtToken) {
			errs = append(errs, "chain: debt_token must be a hex address")
		}
	}

	// Postgres — required in serve mode.
	if serveMode {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive requires S3.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify — Telegram fields must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseAmount parses a non-negative decimal string.
func parseAmount(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// ParsedInitialDebtSupply returns the parsed initial supply. Validate must
// have succeeded first.
func (lc LedgerConfig) ParsedInitialDebtSupply() *big.Int {
	n, _ := parseAmount(lc.InitialDebtSupply)
	return n
}

// ParsedMinimumDeposit returns the parsed minimum deposit, zero when unset.
func (lc LedgerConfig) ParsedMinimumDeposit() *big.Int {
	if strings.TrimSpace(lc.MinimumDeposit) == "" {
		return new(big.Int)
	}
	n, _ := parseAmount(lc.MinimumDeposit)
	return n
}

// ParsedExpiresAt returns the parsed deadline, zero time when unset.
func (lc LedgerConfig) ParsedExpiresAt() time.Time {
	if lc.ExpiresAt == "" {
		return time.Time{}
	}
	ts, _ := time.Parse(time.RFC3339, lc.ExpiresAt)
	return ts
}
