// Package cli provides the command-line interface for localdos.
package cli

import (
	"context"
	"fmt"

	"github.com/containerd/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/javanstorm/localdos/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "localdos",
	Short: "localdos - run DOS disk images on your desktop",
	Long: `localdos boots DOS disk images (.img, .ima, .jsdos, .zip) in an
external emulator and lets you push extra files into the running session.

Without a subcommand it opens the desktop window when a display is
available and the terminal UI otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		switch cmd.Name() {
		case "version", "completion", "help":
			return nil
		}
		if err := config.Load(); err != nil {
			return err
		}
		if err := log.SetLevel(config.Global.LogLevel); err != nil {
			return fmt.Errorf("invalid log level %q: %w", config.Global.LogLevel, err)
		}
		return nil
	},
	RunE: runRun,
}

// Execute runs the root command.
func Execute() error {
	ctx := log.WithLogger(context.Background(), log.L)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("engine", "", "emulator binary (default: dosbox from PATH)")
	flags.String("cycles", "", "emulated CPU speed: auto, max, or a number")
	flags.Bool("fullscreen", false, "start the emulator fullscreen")
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("engine_binary", flags.Lookup("engine"))
	_ = viper.BindPFlag("cycles", flags.Lookup("cycles"))
	_ = viper.BindPFlag("fullscreen", flags.Lookup("fullscreen"))

	runFlags(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(guiCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
}
