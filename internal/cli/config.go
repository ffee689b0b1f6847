package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/javanstorm/localdos/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print every configuration key with its effective value, after
defaults, config.yaml, LOCALDOS_* environment variables and flags have
been merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Fprintf(out, "# %s\n", f)
		}
		printSettings(out, config.Settings())
		return nil
	},
}

func printSettings(w io.Writer, settings map[string]any) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %v\n", k, settings[k])
	}
}
