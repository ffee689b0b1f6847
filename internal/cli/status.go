package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/javanstorm/localdos/internal/config"
	"github.com/javanstorm/localdos/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show emulator and configuration status",
	Long: `Probe the configured emulator and display its version, capabilities,
the directories localdos uses, and any configuration warnings.`,
	RunE: runStatus,
}

var statusProbeTimeout time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusProbeTimeout, "timeout", 10*time.Second, "how long to wait for the emulator probe")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := currentConfig()

	if f := config.ConfigFileUsed(); f != "" {
		fmt.Fprintf(out, "Config: %s\n", f)
	} else {
		fmt.Fprintln(out, "Config: (none, using defaults)")
	}
	fmt.Fprintln(out)

	ctx, cancel := context.WithTimeout(cmd.Context(), statusProbeTimeout)
	defer cancel()
	eng := newEngine(ctx, cfg)
	probeErr := eng.WaitReady(ctx)

	info := eng.Info()
	status.Render(out, status.Status{
		EngineName:    info.Name,
		EngineVersion: info.Version,
		EngineReady:   eng.Ready(),
	})
	if probeErr != nil {
		fmt.Fprintf(out, "  Error: %v\n", probeErr)
	}

	caps := eng.Capabilities()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Capabilities:")
	fmt.Fprintf(out, "  Mount:      %s\n", formatBool(caps.Mount))
	fmt.Fprintf(out, "  Teardown:   %s\n", formatBool(caps.Teardown))
	fmt.Fprintf(out, "  Fullscreen: %s\n", formatBool(caps.Fullscreen))

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Directories:")
	fmt.Fprintf(out, "  Work: %s\n", cfg.WorkDir)
	fmt.Fprintf(out, "  Drop: %s\n", cfg.DropDir)

	if errs := config.ValidateConfig(cfg, caps); len(errs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprint(out, config.FormatValidationErrors(errs))
	}
	return nil
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
