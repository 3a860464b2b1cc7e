package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config that passes Validate in standalone mode.
func validConfig() Config {
	cfg := Defaults()
	cfg.Mode = "standalone"
	cfg.Ledger.ID = "bond-test"
	cfg.Ledger.InitialDebtSupply = "1000000"
	cfg.Ledger.Treasury = "0x00000000000000000000000000000000000000b1"
	cfg.Ledger.Operators = []string{"0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"}
	return cfg
}

func TestValidateAcceptsStandaloneDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRequiresTreasuryAndOperators(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Treasury = "not-an-address"
	cfg.Ledger.Operators = nil
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "treasury must be a hex address")
	require.Contains(t, err.Error(), "at least one operator")
}

func TestValidateRejectsMalformedSupply(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.InitialDebtSupply = "1e6"
	require.Error(t, cfg.Validate())

	cfg.Ledger.InitialDebtSupply = "-5"
	require.Error(t, cfg.Validate())
}

func TestValidateServeModeRequiresChainAndWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "serve"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "rpc_url")
	require.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "ab"
	cfg.Chain.RPCURL = "wss://node.example"
	cfg.Chain.CollateralToken = "0x00000000000000000000000000000000000000c1"
	cfg.Chain.DebtToken = "0x00000000000000000000000000000000000000c2"
	require.NoError(t, cfg.Validate())
}

func TestValidateTelegramFieldsSetTogether(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.TelegramToken = "tok"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "telegram_token and telegram_chat_id")

	cfg.Notify.TelegramChatID = "42"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "standalone"
log_level = "debug"

[ledger]
id = "bond-42"
initial_debt_supply = "500000"
minimum_deposit = "100"
treasury = "0x00000000000000000000000000000000000000b1"
operators = ["0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"]
expires_at = "2027-01-01T00:00:00Z"
expiry_check_interval = "30s"

[server]
port = 9000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "bond-42", cfg.Ledger.ID)
	require.Equal(t, "500000", cfg.Ledger.InitialDebtSupply)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 30*time.Second, cfg.Ledger.ExpiryCheckInterval.Duration)

	// Untouched sections keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 10, cfg.Postgres.PoolMaxConns)

	// Parsed accessors.
	require.Equal(t, "500000", cfg.Ledger.ParsedInitialDebtSupply().String())
	require.Equal(t, "100", cfg.Ledger.ParsedMinimumDeposit().String())
	require.Equal(t, 2027, cfg.Ledger.ParsedExpiresAt().Year())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "standalone"`), 0o600))

	t.Setenv("BONDD_LEDGER_ID", "bond-env")
	t.Setenv("BONDD_SERVER_PORT", "7777")
	t.Setenv("BONDD_LEDGER_OPERATORS", "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf, 0x00000000000000000000000000000000000000cc")
	t.Setenv("BONDD_REDIS_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "bond-env", cfg.Ledger.ID)
	require.Equal(t, 7777, cfg.Server.Port)
	require.Len(t, cfg.Ledger.Operators, 2)
	require.False(t, cfg.Redis.Enabled)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "redispw"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"
	cfg.Notify.TelegramToken = "tgtoken"

	red := RedactedConfig(&cfg)

	require.Equal(t, "***", red.Wallet.PrivateKey)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Redis.Password)
	require.Equal(t, "***", red.S3.SecretKey)
	require.Equal(t, "***", red.Server.APIKey)
	require.Equal(t, "***", red.Notify.TelegramToken)

	// The original is untouched.
	require.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	// Mutating the redacted copy's slices must not leak back.
	red.Ledger.Operators[0] = "altered"
	require.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", cfg.Ledger.Operators[0])
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg := Defaults()
	_, err := toml.DecodeFile("../../config.example.toml", &cfg)
	require.NoError(t, err)

	// The example fills the address placeholders that have no default;
	// everything else must match Defaults exactly.
	def := Defaults()
	require.Equal(t, "0x0000000000000000000000000000000000000000", cfg.Ledger.Treasury)
	require.Len(t, cfg.Ledger.Operators, 1)
	cfg.Ledger.Treasury = def.Ledger.Treasury
	cfg.Ledger.Operators = def.Ledger.Operators

	require.Equal(t, def, cfg)
}
