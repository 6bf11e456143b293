package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/chainlink-forknet/forktest"
)

var (
	startShort = "Start a fork network and keep it running"

	startLong = longDesc(`
		Starts an anvil node forking the configured network, prints its URL and the derived test
		accounts, and blocks until interrupted. The node is torn down on exit.

		Docker must be running.
	`)

	startExample = examples(`
		# Start a fork from a config file
		forknet start --config forknet.yml

		# Fork from env vars only, funding the accounts and logging node requests
		FORKNET_FORK_URL=https://ethereum-rpc.publicnode.com forknet start --fund --verbose
	`)
)

type startFlags struct {
	configPath string
	fund       bool
	verbose    bool
}

func newStartCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   startShort,
		Long:    startLong,
		Example: startExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := startFlags{
				configPath: mustString(cmd.Flags().GetString("config")),
				fund:       mustBool(cmd.Flags().GetBool("fund")),
				verbose:    mustBool(cmd.Flags().GetBool("verbose")),
			}

			return runStart(cmd, cfg, f)
		},
	}

	configFlag(cmd)
	cmd.Flags().Bool("fund", false, "Set the configured balance of every account once the node is up")

	return cmd
}

func runStart(cmd *cobra.Command, cfg Config, f startFlags) (err error) {
	deps := cfg.deps()
	ctx := cmd.Context()

	netCfg, err := deps.LoadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var args []string
	if f.verbose {
		args = []string{"--verbose"}
	}

	h, err := deps.NewHarness(ctx, cfg.Logger, netCfg, forktest.WithArgs(args))
	if err != nil {
		return fmt.Errorf("failed to start fork network: %w", err)
	}
	defer func() {
		// The command context is usually cancelled by now.
		if terr := h.Teardown(context.WithoutCancel(ctx)); terr != nil {
			err = errors.Join(err, fmt.Errorf("failed to tear down fork network: %w", terr))
		}
	}()

	net, err := h.Setup(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up fork network: %w", err)
	}

	if f.fund {
		if err = net.Fund(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Fork network listening at %s\n\n", net.URL)
	if err = renderAccounts(out, net.Accounts); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	deps.Wait(ctx)

	return nil
}
