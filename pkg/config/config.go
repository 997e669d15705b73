package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
)

// Config represents the relayer configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Ethereum   ChainConfig      `yaml:"ethereum"`
	Via        ChainConfig      `yaml:"via"`
	Relayer    RelayerConfig    `yaml:"relayer"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP health/metrics server settings
type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"8080" validate:"min=1,max=65535"`
}

// DatabaseConfig contains relational store connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
	PoolSize int    `yaml:"pool_size" default:"10" validate:"min=1"`
}

// Addr returns the host:port pair for the connector.
func (c DatabaseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IndexerConfig selects and parameterizes the event-source backend.
// backend=sql reads a read-only mirror of the subgraph tables; backend=graph
// posts query documents to a remote endpoint.
type IndexerConfig struct {
	Backend        string         `yaml:"backend" default:"sql" validate:"oneof=sql graph"`
	Database       DatabaseConfig `yaml:"database" validate:"-"`
	Endpoint       string         `yaml:"endpoint"`
	APIKey         string         `yaml:"api_key"`
	RetryAttempts  uint64         `yaml:"retry_attempts" default:"3" validate:"min=1"`
	RetryBaseDelay time.Duration  `yaml:"retry_base_delay" default:"500ms"`
	RequestTimeout time.Duration  `yaml:"request_timeout" default:"30s"`
}

// ChainConfig contains per-chain RPC and contract settings. The gas fields
// are consumed only by the Via (L2) side, where broadcasts carry fixed hints
// instead of node estimates.
type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url" validate:"required"`
	FallbackURLs   string        `yaml:"fallback_urls"`
	BridgeAddress  string        `yaml:"bridge_address" validate:"required"`
	Confirmations  uint64        `yaml:"wait_block_confirmations" default:"6"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"30s"`
	GasPrice       string        `yaml:"gas_price"`
	GasLimit       string        `yaml:"gas_limit"`
	GasPerPubdata  string        `yaml:"gas_per_pubdata"`
}

// Endpoints returns the primary URL followed by the comma-separated
// fallbacks, trimmed, empties dropped.
func (c ChainConfig) Endpoints() []string {
	urls := []string{c.RPCURL}
	for _, u := range strings.Split(c.FallbackURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Bridge returns the parsed destination bridge contract address.
func (c ChainConfig) Bridge() common.Address {
	return common.HexToAddress(c.BridgeAddress)
}

// GasProfile is the fixed L2 fee parameterization. PerPubdata binds typed L2
// transactions; legacy builds carry Price and Limit only.
type GasProfile struct {
	Price      *big.Int
	Limit      *big.Int
	PerPubdata *big.Int
}

// GasProfile parses the chain's gas strings. Returns nil when none are set.
func (c ChainConfig) GasProfile() (*GasProfile, error) {
	if c.GasPrice == "" && c.GasLimit == "" && c.GasPerPubdata == "" {
		return nil, nil
	}
	p := &GasProfile{}
	for _, f := range []struct {
		name  string
		raw   string
		field **big.Int
	}{
		{"gas_price", c.GasPrice, &p.Price},
		{"gas_limit", c.GasLimit, &p.Limit},
		{"gas_per_pubdata", c.GasPerPubdata, &p.PerPubdata},
	} {
		v, ok := new(big.Int).SetString(f.raw, 10)
		if !ok || v.Sign() <= 0 {
			return nil, fmt.Errorf("%s: %q is not a positive integer", f.name, f.raw)
		}
		*f.field = v
	}
	return p, nil
}

// RelayerConfig contains the worker and signing settings
type RelayerConfig struct {
	PrivateKey      string        `yaml:"private_key" validate:"required"`
	PollingInterval time.Duration `yaml:"polling_interval" default:"5s"`
	BatchSize       int           `yaml:"batch_size" default:"20" validate:"min=1,max=100"`
	PendingTimeout  time.Duration `yaml:"pending_tx_timeout" default:"30m"`

	WithdrawalFinalizationConfirmations uint64 `yaml:"withdrawal_finalization_confirmations" default:"6"`

	// The zks batch-execution sweep is optional; enabling it moves rows out
	// of the vault-update queue once their batch executes on L1.
	L1BatchFinalizationEnabled bool `yaml:"l1_batch_finalization_enabled"`
}

// PrivateKeyBytes returns the decoded 32-byte signing key.
func (c RelayerConfig) PrivateKeyBytes() ([]byte, error) {
	raw := strings.TrimPrefix(c.PrivateKey, "0x")
	if len(raw) != 64 {
		return nil, fmt.Errorf("private key must be 0x-prefixed 64 hex chars, got %d", len(raw))
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("private key is not valid hex: %w", err)
	}
	return key, nil
}

// MonitoringConfig contains metrics endpoint settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path"`
}

// Load reads, env-expands, defaults, and validates the configuration file.
// Any violation fails the boot.
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, apperrors.ConfigError(err, "read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, apperrors.ConfigError(err, "parse config file")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, apperrors.ConfigError(err, "apply defaults")
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envOverrides maps the flat deployment variables onto config fields. File
// values lose to explicitly set variables.
func applyEnvOverrides(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	setString("ETH_URL", &cfg.Ethereum.RPCURL)
	setString("VIA_URL", &cfg.Via.RPCURL)
	setString("ETH_FALLBACK_URLS", &cfg.Ethereum.FallbackURLs)
	setString("VIA_FALLBACK_URLS", &cfg.Via.FallbackURLs)
	setString("ETHEREUM_BRIDGE_ADDRESS", &cfg.Ethereum.BridgeAddress)
	setString("VIA_BRIDGE_ADDRESS", &cfg.Via.BridgeAddress)
	setString("RELAYER_PRIVATE_KEY", &cfg.Relayer.PrivateKey)
	setString("L2_GAS_PRICE", &cfg.Via.GasPrice)
	setString("L2_GAS_LIMIT", &cfg.Via.GasLimit)
	setString("L2_GAS_PER_PUBDATA", &cfg.Via.GasPerPubdata)

	for _, v := range []struct {
		name string
		dst  *uint64
	}{
		{"ETH_WAIT_BLOCK_CONFIRMATIONS", &cfg.Ethereum.Confirmations},
		{"VIA_WAIT_BLOCK_CONFIRMATIONS", &cfg.Via.Confirmations},
		{"WITHDRAWAL_FINALIZATION_CONFIRMATIONS", &cfg.Relayer.WithdrawalFinalizationConfirmations},
	} {
		raw, ok := os.LookupEnv(v.name)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return apperrors.ConfigError(err, v.name)
		}
		*v.dst = n
	}

	if raw, ok := os.LookupEnv("WORKER_POLLING_INTERVAL"); ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperrors.ConfigError(err, "WORKER_POLLING_INTERVAL")
		}
		cfg.Relayer.PollingInterval = time.Duration(ms) * time.Millisecond
	}
	if raw, ok := os.LookupEnv("TRANSACTION_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperrors.ConfigError(err, "TRANSACTION_BATCH_SIZE")
		}
		cfg.Relayer.BatchSize = n
	}
	if raw, ok := os.LookupEnv("PENDING_TX_TIMEOUT_MINUTES"); ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperrors.ConfigError(err, "PENDING_TX_TIMEOUT_MINUTES")
		}
		cfg.Relayer.PendingTimeout = time.Duration(n) * time.Minute
	}
	return nil
}

// Validate applies the tag rules plus the bounds the tag language cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperrors.ConfigError(err, "config validation failed")
	}

	if _, err := c.Relayer.PrivateKeyBytes(); err != nil {
		return apperrors.ConfigError(err, "relayer.private_key")
	}
	if c.Relayer.PollingInterval < time.Second {
		return apperrors.ConfigError(
			fmt.Errorf("polling interval %s below 1s floor", c.Relayer.PollingInterval),
			"relayer.polling_interval")
	}
	if c.Relayer.PendingTimeout < 5*time.Minute {
		return apperrors.ConfigError(
			fmt.Errorf("pending timeout %s below 5m floor", c.Relayer.PendingTimeout),
			"relayer.pending_tx_timeout")
	}

	for name, chain := range map[string]ChainConfig{"ethereum": c.Ethereum, "via": c.Via} {
		if !common.IsHexAddress(chain.BridgeAddress) {
			return apperrors.ConfigError(
				fmt.Errorf("%q is not a hex address", chain.BridgeAddress),
				name+".bridge_address")
		}
	}

	gas, err := c.Via.GasProfile()
	if err != nil {
		return apperrors.ConfigError(err, "via gas profile")
	}
	if gas == nil {
		return apperrors.ConfigError(
			fmt.Errorf("gas_price, gas_limit and gas_per_pubdata are required"),
			"via gas profile")
	}

	switch c.Indexer.Backend {
	case "sql":
		if c.Indexer.Database.Host == "" || c.Indexer.Database.Database == "" {
			return apperrors.ConfigError(
				fmt.Errorf("indexer.database host and database are required for the sql backend"),
				"indexer.database")
		}
	case "graph":
		if c.Indexer.Endpoint == "" {
			return apperrors.ConfigError(
				fmt.Errorf("indexer.endpoint is required for the graph backend"),
				"indexer.endpoint")
		}
	}
	return nil
}
