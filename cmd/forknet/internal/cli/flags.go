package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func mustString(s string, _ error) string { return s }

func mustBool(b bool, _ error) bool { return b }

// configFlag adds the --config/-c flag. An empty value reads the config from env vars only.
func configFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to the forknet YAML config file")

	// Accept the --config-file spelling used by older scripts.
	existingNormalize := cmd.Flags().GetNormalizeFunc()
	cmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "config-file" {
			return pflag.NormalizedName("config")
		}
		if existingNormalize != nil {
			return existingNormalize(f, name)
		}

		return pflag.NormalizedName(name)
	})
}

// verboseFlag adds the persistent --verbose/-v flag.
func verboseFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable node request logging")
}
