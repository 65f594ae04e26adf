package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenConfig declares one token contract ledger to install at startup.
type TokenConfig struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Kind    string `toml:"Kind"` // "fungible" or "nonfungible"
}

// GenesisAccount seeds one native balance the first time a data directory is
// used.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Telemetry captures the OTLP exporter knobs.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

type Config struct {
	RPCAddress       string           `toml:"RPCAddress"`
	DataDir          string           `toml:"DataDir"`
	ServiceName      string           `toml:"ServiceName"`
	Environment      string           `toml:"Environment"`
	RPCToken         string           `toml:"RPCToken"`
	RateLimitPerMin  int              `toml:"RateLimitPerMin"`
	MutationsPerHour int              `toml:"MutationsPerHour"`
	PausedModules    []string         `toml:"PausedModules"`
	Tokens           []TokenConfig    `toml:"Tokens"`
	Genesis          []GenesisAccount `toml:"Genesis"`
	OTLP             Telemetry        `toml:"OTLP"`
}

// RPCTokenEnv names the environment variable overriding the configured RPC
// bearer token.
const RPCTokenEnv = "WILLVAULT_RPC_TOKEN"

func defaults() *Config {
	return &Config{
		RPCAddress:       ":8645",
		DataDir:          "./willvault-data",
		ServiceName:      "willvaultd",
		Environment:      "dev",
		RateLimitPerMin:  120,
		MutationsPerHour: 1000,
	}
}

// Load reads the configuration from the given path, creating a default file
// when none exists, and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if token := strings.TrimSpace(os.Getenv(RPCTokenEnv)); token != "" {
		cfg.RPCToken = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the given path.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// Validate checks the configuration for values the service cannot start
// with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("config: RateLimitPerMin must not be negative")
	}
	if c.MutationsPerHour < 0 {
		return fmt.Errorf("config: MutationsPerHour must not be negative")
	}
	for i, acct := range c.Genesis {
		if strings.TrimSpace(acct.Address) == "" {
			return fmt.Errorf("config: genesis account %d missing address", i)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(acct.Balance), 10)
		if !ok || balance.Sign() <= 0 {
			return fmt.Errorf("config: genesis account %d has invalid balance %q", i, acct.Balance)
		}
	}
	for i, tok := range c.Tokens {
		kind := strings.ToLower(strings.TrimSpace(tok.Kind))
		if kind != "fungible" && kind != "nonfungible" {
			return fmt.Errorf("config: token %d has unsupported kind %q", i, tok.Kind)
		}
		if strings.TrimSpace(tok.Address) == "" {
			return fmt.Errorf("config: token %d missing address", i)
		}
		if strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("config: token %d missing symbol", i)
		}
	}
	return nil
}
