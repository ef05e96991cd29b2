package config

import (
	"errors"
	"fmt"
	"os"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"

	"xrplbridge/types"
)

const DEFAULT_PATH = "config.yml"

// Path returns the config file location, CONFIG_PATH overrides the default
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DEFAULT_PATH
}

// a missing file is fine, everything can come from the environment
func readFile(cfg *Configuration, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("can't parse %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	return envconfig.Process("", cfg)
}

// Load reads .env, then the yaml file, then the environment on top of it
func Load(path string) (*Configuration, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Configuration
	if err := readFile(&cfg, path); err != nil {
		return nil, err
	}
	if err := readEnv(&cfg); err != nil {
		return nil, fmt.Errorf("can't read environment: %w", err)
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Configuration) Validate() error {
	if c.Store.Backend != BACKEND_REDIS && c.Store.Backend != BACKEND_POSTGRES {
		return fmt.Errorf("%w: unknown store backend %q", types.ErrValidation, c.Store.Backend)
	}
	if c.Store.Backend == BACKEND_POSTGRES && c.Store.PostgresDSN == "" {
		return fmt.Errorf("%w: postgres store needs DATABASE_URL", types.ErrValidation)
	}
	if c.Bridge.Workers < 1 || c.Bridge.QueueSize < 1 {
		return fmt.Errorf("%w: bridge workers and queue size must be positive", types.ErrValidation)
	}
	if err := types.ValidateAmount(c.Bridge.FeeEstimate); err != nil {
		return fmt.Errorf("fee estimate: %w", err)
	}
	if c.XRPL.BridgeAddress != "" && !addresscodec.IsValidClassicAddress(c.XRPL.BridgeAddress) {
		return fmt.Errorf("%w: xrpl bridge address %q", types.ErrValidation, c.XRPL.BridgeAddress)
	}
	if c.Hook.Enabled {
		if err := ethav.Validate(c.Hook.ContractAddress); err != nil {
			return fmt.Errorf("%w: hook contract address %q: %s", types.ErrValidation, c.Hook.ContractAddress, err.Error())
		}
		if err := types.ValidateAmount(c.Hook.GasStipend); err != nil {
			return fmt.Errorf("hook gas stipend: %w", err)
		}
	}

	if c.IsDevelopment() {
		return nil
	}
	if c.XRPL.BridgeSecret == "" {
		return fmt.Errorf("%w: XRPL_BRIDGE_WALLET_SEED is required", types.ErrValidation)
	}
	if c.EVM.PrivateKey == "" {
		return fmt.Errorf("%w: EVM_BRIDGE_PRIVATE_KEY is required", types.ErrValidation)
	}
	return nil
}
