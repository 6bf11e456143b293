// Package cli implements the forknet command line, which runs a fork network outside of go test.
package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/chainlink-forknet/config"
	"github.com/smartcontractkit/chainlink-forknet/forktest"
	"github.com/smartcontractkit/chainlink-forknet/pkg/logger"
)

var (
	rootShort = "Run a forked anvil node with pre-derived test accounts"

	rootLong = longDesc(`
		forknet starts an anvil node forking a live network, derives the configured test accounts
		and keeps the node running until interrupted.

		The same configuration drives forktest.Main in Go test binaries.
	`)
)

// LoadConfigFunc loads the network config from path. An empty path reads env vars only.
type LoadConfigFunc func(path string) (*config.Config, error)

// NewHarnessFunc launches a fork network harness.
type NewHarnessFunc func(ctx context.Context, lggr logger.Logger, cfg *config.Config, opts ...forktest.Option) (*forktest.Harness, error)

// WaitFunc blocks until the running network should be shut down.
type WaitFunc func(ctx context.Context)

func defaultLoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadEnv()
	}

	return config.Load(path)
}

func defaultWait(ctx context.Context) {
	<-ctx.Done()
}

// Deps holds the injectable dependencies of the commands.
// All fields are optional; nil values use production defaults.
type Deps struct {
	// LoadConfig loads the network config.
	// Default: config.Load, or config.LoadEnv without a path
	LoadConfig LoadConfigFunc

	// NewHarness launches the fork network.
	// Default: forktest.New
	NewHarness NewHarnessFunc

	// Wait blocks while the network is running.
	// Default: waits for the command context to be cancelled
	Wait WaitFunc
}

func (d *Deps) applyDefaults() {
	if d.LoadConfig == nil {
		d.LoadConfig = defaultLoadConfig
	}
	if d.NewHarness == nil {
		d.NewHarness = forktest.New
	}
	if d.Wait == nil {
		d.Wait = defaultWait
	}
}

// Config holds the configuration for the forknet commands.
type Config struct {
	// Logger is the logger used by the fork network. Required.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	var missing []string

	if c.Logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return errors.New("cli.Config: missing required fields: " + strings.Join(missing, ", "))
	}

	return nil
}

func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

// NewCommand creates the forknet root command with all subcommands.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:           "forknet",
		Short:         rootShort,
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	verboseFlag(cmd)

	cmd.AddCommand(newStartCmd(cfg))
	cmd.AddCommand(newAccountsCmd(cfg))

	return cmd, nil
}
