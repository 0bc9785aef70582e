// Package platform builds the immutable, process-wide configuration and
// logging primitives every other package is wired through at boot. There is
// exactly one construction point (main) and no runtime mutation, per the
// "process-wide configuration" reshaping note in the design notes.
package platform

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// ChainRPCConfig is the primary/fallback RPC endpoint triple for one chain,
// matching the <CHAIN>_PRIMARY_RPC / <CHAIN>_FALLBACK_1_RPC /
// <CHAIN>_FALLBACK_2_RPC env surface.
type ChainRPCConfig struct {
	Primary    string `envconfig:"PRIMARY_RPC" required:"true"`
	Fallback1  string `envconfig:"FALLBACK_1_RPC"`
	Fallback2  string `envconfig:"FALLBACK_2_RPC"`
}

// RPCConfig is the chain-agnostic multiplexer tuning surface.
type RPCConfig struct {
	TimeoutMS     int `envconfig:"RPC_TIMEOUT_MS" default:"5000"`
	RetryAttempts int `envconfig:"RPC_RETRY_ATTEMPTS" default:"3"`
	CacheTTLSec   int `envconfig:"RPC_CACHE_TTL_SECONDS" default:"10"`

	Ethereum ChainRPCConfig `envconfig:"ETH"`
	Bitcoin  ChainRPCConfig `envconfig:"BTC"`
	Solana   ChainRPCConfig `envconfig:"SOL"`
}

// RefundConfig carries the refund pipeline's timeout stages and attempt cap
// (defaults from spec §4.5).
type RefundConfig struct {
	DepositTimeoutMin    int `envconfig:"REFUND_DEPOSIT_TIMEOUT_MIN" default:"30"`
	ProcessingTimeoutMin int `envconfig:"REFUND_PROCESSING_TIMEOUT_MIN" default:"120"`
	PayoutTimeoutMin     int `envconfig:"REFUND_PAYOUT_TIMEOUT_MIN" default:"60"`
	RefundTimeoutMin     int `envconfig:"REFUND_REFUND_TIMEOUT_MIN" default:"30"`
	MaxAttempts          int `envconfig:"REFUND_MAX_ATTEMPTS" default:"5"`
}

// Config is the fully resolved, immutable application configuration. It is
// built once in main via Load and passed by value/pointer into every
// component constructor; nothing in the codebase re-reads the environment
// after boot.
type Config struct {
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	RedisURL       string `envconfig:"REDIS_URL"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	TrocadorAPIKey string `envconfig:"TROCADOR_API_KEY"`
	AlchemyAPIKey  string `envconfig:"ALCHEMY_API_KEY"`

	// WalletMnemonic seeds the single process-wide WalletCore. It is never
	// logged, serialized, or written to the store; Config.Redacted() replaces
	// it with a placeholder.
	WalletMnemonic string `envconfig:"WALLET_MNEMONIC" required:"true"`

	// TxStateFilePath, when set, persists each chain adapter's in-flight
	// transaction state (retry counts, broadcast status) to a JSON file
	// across restarts instead of the default in-memory store.
	TxStateFilePath string `envconfig:"TX_STATE_FILE_PATH"`

	RPC    RPCConfig
	Refund RefundConfig

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load parses the process environment into a Config. It is intended to be
// called exactly once, in main.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("platform: loading config: %w", err)
	}
	return &cfg, nil
}

// Redacted returns a copy of the config safe to log: secrets are replaced
// with a fixed placeholder rather than omitted, so shape stays inspectable.
func (c *Config) Redacted() Config {
	redacted := *c
	if redacted.WalletMnemonic != "" {
		redacted.WalletMnemonic = "<redacted>"
	}
	if redacted.JWTSecret != "" {
		redacted.JWTSecret = "<redacted>"
	}
	if redacted.TrocadorAPIKey != "" {
		redacted.TrocadorAPIKey = "<redacted>"
	}
	if redacted.AlchemyAPIKey != "" {
		redacted.AlchemyAPIKey = "<redacted>"
	}
	return redacted
}
