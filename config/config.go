// Package config loads the network configuration used to start a forked anvil node.
//
// Configuration is read from a YAML file and overridden by environment variables:
//
//	fork:
//	  chain_selector: 5009297550715157269
//	  logging_enabled: false
//	  forking:
//	    url: https://ethereum-rpc.publicnode.com
//	    block_number: 21000000
//	  accounts:
//	    keys:
//	      - private_key: 0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80
//	        balance: "1000000000000000000"
//	    hd:
//	      mnemonic: test test test test test test test test test test test junk
//	      count: 2
//	localhost:
//	  url: http://127.0.0.1:8545
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config wraps the networks the harness works with.
type Config struct {
	Fork      ForkNetwork      `mapstructure:"fork" yaml:"fork"`
	Localhost LocalhostNetwork `mapstructure:"localhost" yaml:"localhost"`
}

// Validate checks the fields that can be validated without touching the network. Forking is
// validated separately by the node controller so that a missing forking section is reported
// as a configuration error at startup.
func (c *Config) Validate() error {
	if _, err := c.Localhost.Port(); err != nil {
		return err
	}

	for i, d := range c.Fork.Accounts.Keys {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("fork.accounts.keys[%d]: %w", i, err)
		}
	}

	if hd := c.Fork.Accounts.HD; hd != nil && hd.Count > 0 && hd.Mnemonic == "" {
		return errors.New("fork.accounts.hd: mnemonic is required")
	}

	return nil
}

// YAML marshals the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
		}
	}

	return unmarshal(v)
}

// LoadEnv loads the config from the environment variables only.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("localhost.url", DefaultLocalhostURL)

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

var (
	// envBindings maps config keys to the environment variables that can provide them. The
	// first variable is preferred, later ones are kept for compatibility with the names used by
	// foundry tooling.
	envBindings = map[string][]string{
		"fork.chain_selector":                    {"FORKNET_CHAIN_SELECTOR"},
		"fork.logging_enabled":                   {"FORKNET_LOGGING_ENABLED"},
		"fork.forking.url":                       {"FORKNET_FORK_URL", "ETH_RPC_URL"},
		"fork.forking.block_number":              {"FORKNET_FORK_BLOCK_NUMBER", "FORK_BLOCK_NUMBER"},
		"fork.anvil.image":                       {"FORKNET_ANVIL_IMAGE"},
		"fork.anvil.docker_cmd_params_overrides": {"FORKNET_ANVIL_CMD_PARAMS"},
		"localhost.url":                          {"FORKNET_LOCALHOST_URL"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
