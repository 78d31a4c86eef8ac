package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the pooler process.
type Config struct {
	// Identity
	PoolerPort      int    `mapstructure:"pooler-port"`
	PoolerID        string `mapstructure:"pooler-id"`
	PoolerAuthToken string `mapstructure:"pooler-auth-token"`

	// Chain
	RPCURL            string `mapstructure:"rpc-url"`
	ContractID        string `mapstructure:"contract-id"`
	NetworkPassphrase string `mapstructure:"network-passphrase"`

	// Backend
	BackendAPIURL  string        `mapstructure:"backend-api-url"`
	BackendTimeout time.Duration `mapstructure:"backend-timeout"`

	// Relay (launchtube)
	LaunchtubeURL string `mapstructure:"launchtube-url"`
	LaunchtubeJWT string `mapstructure:"launchtube-jwt"`

	// Block monitor
	BlockPollInterval        time.Duration `mapstructure:"block-poll-interval"`
	InitialBlockCheckDelay   time.Duration `mapstructure:"initial-block-check-delay"`
	MaxErrorCount            int           `mapstructure:"max-error-count"`
	MaxMissedBlocks          int           `mapstructure:"max-missed-blocks"`

	// Relay submitter
	RetryAttempts int           `mapstructure:"retry-attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry-backoff"`

	// Work scheduler
	PlantDelay   time.Duration `mapstructure:"plant-delay"`
	WorkDelay    time.Duration `mapstructure:"work-delay"`
	// HarvestDelay is carried for parity with the source constant table but
	// unused by the core: harvest is performed by the Backend, not the Pooler.
	HarvestDelay        time.Duration `mapstructure:"harvest-delay"`
	MinerTimeout        time.Duration `mapstructure:"miner-timeout"`
	DefaultNonceCount   uint64        `mapstructure:"default-nonce-count"`
	MaxRecoveryAttempts int           `mapstructure:"max-recovery-attempts"`

	// External miner binary
	KaleFarmerBin string `mapstructure:"kale-farmer-bin"`

	// Logging
	LogLevel string `mapstructure:"log-level"`
}

// DefaultConfig returns a Config with the defaults from §6 of the spec.
func DefaultConfig() *Config {
	return &Config{
		PoolerPort:      3001,
		PoolerID:        "pooler-1",
		PoolerAuthToken: "",

		RPCURL:            "https://soroban-testnet.stellar.org",
		ContractID:        "",
		NetworkPassphrase: "Test SDF Network ; September 2015",

		BackendAPIURL:  "http://localhost:3000",
		BackendTimeout: 30 * time.Second,

		LaunchtubeURL: "",
		LaunchtubeJWT: "",

		BlockPollInterval:      5 * time.Second,
		InitialBlockCheckDelay: 10 * time.Second,
		MaxErrorCount:          10,
		MaxMissedBlocks:        5,

		RetryAttempts: 3,
		RetryBackoff:  2 * time.Second,

		PlantDelay:          30 * time.Second,
		WorkDelay:           150 * time.Second,
		HarvestDelay:        30 * time.Second,
		MinerTimeout:        5 * time.Minute,
		DefaultNonceCount:   10_000_000,
		MaxRecoveryAttempts: 3,

		KaleFarmerBin: "",

		LogLevel: "info",
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.PoolerPort <= 0 || c.PoolerPort > 65535 {
		return fmt.Errorf("pooler-port must be 1-65535")
	}
	if c.PoolerID == "" {
		return fmt.Errorf("pooler-id is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpc-url is required")
	}
	if c.ContractID == "" {
		return fmt.Errorf("contract-id is required")
	}
	if c.BackendAPIURL == "" {
		return fmt.Errorf("backend-api-url is required")
	}
	if c.LaunchtubeURL == "" {
		return fmt.Errorf("launchtube-url is required")
	}
	if c.BlockPollInterval < time.Second {
		return fmt.Errorf("block-poll-interval must be at least 1s")
	}
	if c.MaxErrorCount < 1 {
		return fmt.Errorf("max-error-count must be at least 1")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry-attempts must be at least 1")
	}
	if c.KaleFarmerBin == "" {
		return fmt.Errorf("kale-farmer-bin is required")
	}
	return nil
}

// LoadEnvOverrides applies environment variable overrides on top of flag
// values, matching §6's configuration table. Env vars take precedence,
// for containerized deployments that set env but not flags.
func LoadEnvOverrides(c *Config) {
	if v := os.Getenv("POOLER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PoolerPort = n
		}
	}
	if v := os.Getenv("POOLER_ID"); v != "" {
		c.PoolerID = v
	}
	if v := os.Getenv("POOLER_AUTH_TOKEN"); v != "" {
		c.PoolerAuthToken = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("CONTRACT_ID"); v != "" {
		c.ContractID = v
	}
	if v := os.Getenv("NETWORK_PASSPHRASE"); v != "" {
		c.NetworkPassphrase = v
	}
	if v := os.Getenv("BACKEND_API_URL"); v != "" {
		c.BackendAPIURL = v
	}
	if v := os.Getenv("BACKEND_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackendTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("LAUNCHTUBE_URL"); v != "" {
		c.LaunchtubeURL = v
	}
	if v := os.Getenv("LAUNCHTUBE_JWT"); v != "" {
		c.LaunchtubeJWT = v
	}
	if v := os.Getenv("BLOCK_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BlockPollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("INITIAL_BLOCK_CHECK_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.InitialBlockCheckDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_ERROR_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxErrorCount = n
		}
	}
	if v := os.Getenv("MAX_MISSED_BLOCKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxMissedBlocks = n
		}
	}
	if v := os.Getenv("RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryAttempts = n
		}
	}
	if v := os.Getenv("KALE_FARMER_BIN"); v != "" {
		c.KaleFarmerBin = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
