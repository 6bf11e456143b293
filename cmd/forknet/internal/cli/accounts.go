package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/smartcontractkit/chainlink-forknet/accounts"
)

var (
	accountsShort = "Print the configured test accounts"

	accountsLong = longDesc(`
		Derives the test accounts of the config without starting a node and prints their
		addresses, private keys and balances.
	`)

	accountsExample = examples(`
		# Print the accounts of a config file
		forknet accounts --config forknet.yml
	`)
)

func newAccountsCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Short:   accountsShort,
		Long:    accountsLong,
		Example: accountsExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAccounts(cmd, cfg, mustString(cmd.Flags().GetString("config")))
		},
	}

	configFlag(cmd)

	return cmd
}

func runAccounts(cmd *cobra.Command, cfg Config, configPath string) error {
	deps := cfg.deps()

	netCfg, err := deps.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	descs := netCfg.Fork.Accounts.Descriptors()
	if accounts.ExceedsWarnThreshold(len(descs)) {
		cfg.Logger.Warnf("%d fork accounts specified - consider specifying fewer.", len(descs))
	}

	accs, err := accounts.Derive(descs)
	if err != nil {
		return err
	}

	return renderAccounts(cmd.OutOrStdout(), accs)
}

// renderAccounts writes accs as a table.
func renderAccounts(w io.Writer, accs []accounts.Account) error {
	if len(accs) == 0 {
		_, err := fmt.Fprintln(w, "No accounts configured")
		return err
	}

	rows := make([][]string, 0, len(accs))
	for i, acc := range accs {
		rows = append(rows, []string{
			strconv.Itoa(i),
			acc.Address.Hex(),
			acc.PrivateKey,
			acc.Balance.String(),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"#", "Address", "Private Key", "Balance (wei)"})
	table.AppendBulk(rows)
	table.Render()

	return nil
}
