// Package config loads the service configuration. Secrets never live in the
// TOML file: the wallet master secret and the contract owner key are taken
// from the environment only.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Environment variables holding the secrets.
const (
	EnvMasterSecret = "EDUCHAIN_MASTER_WALLET_SECRET"
	EnvOwnerKey     = "EDUCHAIN_OWNER_PRIVATE_KEY"
	EnvJWTSecret    = "EDUCHAIN_JWT_SECRET"
)

type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	Environment    string `toml:"Environment"`
	NodeURL        string `toml:"NodeURL"`
	ChainID        int64  `toml:"ChainID"`
	AuthServiceURL string `toml:"AuthServiceURL"`

	TokenAddress    string `toml:"TokenAddress"`
	EscrowAddress   string `toml:"EscrowAddress"`
	ExchangeAddress string `toml:"ExchangeAddress"`

	ConfirmTimeoutSeconds int  `toml:"ConfirmTimeoutSeconds"`
	AllowCountFallback    bool `toml:"AllowCountFallback"`
	InitializeWallets     bool `toml:"InitializeWallets"`

	Cache CacheConfig `toml:"Cache"`
	OTLP  OTLPConfig  `toml:"OTLP"`

	// Populated from the environment, never from the file.
	MasterSecret string `toml:"-"`
	OwnerKeyHex  string `toml:"-"`
	JWTSecret    string `toml:"-"`
}

// CacheConfig selects the projection cache backend.
type CacheConfig struct {
	Backend       string `toml:"Backend"`
	RedisAddress  string `toml:"RedisAddress"`
	RedisPassword string `toml:"RedisPassword"`
	RedisDB       int    `toml:"RedisDB"`
	RedisPrefix   string `toml:"RedisPrefix"`

	HistoryTTLSeconds    int `toml:"HistoryTTLSeconds"`
	StatsTTLSeconds      int `toml:"StatsTTLSeconds"`
	WalletInfoTTLSeconds int `toml:"WalletInfoTTLSeconds"`
}

// OTLPConfig points the telemetry exporters at a collector.
type OTLPConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Load reads the configuration file, applies defaults, pulls secrets from
// the environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.readSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8003"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "development"
	}
	if c.NodeURL == "" {
		c.NodeURL = "http://localhost:8545"
	}
	if c.ChainID == 0 {
		c.ChainID = 1337
	}
	if c.AuthServiceURL == "" {
		c.AuthServiceURL = "http://localhost:3001"
	}
	if c.ConfirmTimeoutSeconds == 0 {
		c.ConfirmTimeoutSeconds = 30
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.RedisPrefix == "" {
		c.Cache.RedisPrefix = "educhain"
	}
	if c.Cache.HistoryTTLSeconds == 0 {
		c.Cache.HistoryTTLSeconds = 15
	}
	if c.Cache.StatsTTLSeconds == 0 {
		c.Cache.StatsTTLSeconds = 30
	}
	if c.Cache.WalletInfoTTLSeconds == 0 {
		c.Cache.WalletInfoTTLSeconds = 60
	}
}

func (c *Config) readSecrets() {
	c.MasterSecret = strings.TrimSpace(os.Getenv(EnvMasterSecret))
	c.OwnerKeyHex = strings.TrimSpace(os.Getenv(EnvOwnerKey))
	c.JWTSecret = strings.TrimSpace(os.Getenv(EnvJWTSecret))
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("config: %s must be set", EnvMasterSecret)
	}
	if c.OwnerKeyHex == "" {
		return fmt.Errorf("config: %s must be set", EnvOwnerKey)
	}
	// JWTSecret may stay empty: tokens are then decoded without signature
	// verification, which is only acceptable for local development.
	for name, addr := range map[string]string{
		"TokenAddress":    c.TokenAddress,
		"EscrowAddress":   c.EscrowAddress,
		"ExchangeAddress": c.ExchangeAddress,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: %s %q is not a hex address", name, addr)
		}
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddress == "" {
			return fmt.Errorf("config: Cache.RedisAddress required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// ConfirmTimeout returns the receipt polling deadline.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// HistoryTTL returns the history projection cache lifetime.
func (c *CacheConfig) HistoryTTL() time.Duration {
	return time.Duration(c.HistoryTTLSeconds) * time.Second
}

// StatsTTL returns the stats cache lifetime.
func (c *CacheConfig) StatsTTL() time.Duration {
	return time.Duration(c.StatsTTLSeconds) * time.Second
}

// WalletInfoTTL returns the wallet enrichment cache lifetime.
func (c *CacheConfig) WalletInfoTTL() time.Duration {
	return time.Duration(c.WalletInfoTTLSeconds) * time.Second
}
