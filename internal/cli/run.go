package cli

import (
	"context"
	"fmt"
	"time"

	"fyne.io/fyne/v2/app"
	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/javanstorm/localdos/internal/config"
	"github.com/javanstorm/localdos/internal/gui"
	"github.com/javanstorm/localdos/internal/terminal"
	"github.com/javanstorm/localdos/internal/tui"
)

// appID identifies the desktop application to fyne preferences storage.
const appID = "io.github.javanstorm.localdos"

// closeTimeout bounds session teardown when a front-end exits.
const closeTimeout = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run [boot-image] [files...]",
	Short: "Open the interactive front-end",
	Long: `Open the interactive front-end. The desktop window is used when a
display is available, the terminal UI otherwise. Use --gui or --tui to
force one.

Paths given on the command line are loaded before the front-end opens:
a single boot image becomes current and every other file is added to the
session's file list.`,
	RunE: runRun,
}

var guiCmd = &cobra.Command{
	Use:   "gui [boot-image] [files...]",
	Short: "Open the desktop window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGUI(cmd.Context(), currentConfig(), args)
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui [boot-image] [files...]",
	Short: "Open the terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context(), currentConfig(), args)
	},
}

var (
	runForceGUI bool
	runForceTUI bool
	runDropDir  string
)

func runFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&runForceGUI, "gui", false, "force the desktop window")
	cmd.Flags().BoolVar(&runForceTUI, "tui", false, "force the terminal UI")
	cmd.MarkFlagsMutuallyExclusive("gui", "tui")
}

func init() {
	runFlags(runCmd)
	tuiCmd.Flags().StringVar(&runDropDir, "drop-dir", "", "folder watched for new files (default from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := currentConfig()
	useGUI := runForceGUI || (!runForceTUI && terminal.HasDisplay())
	log.G(cmd.Context()).WithField("gui", useGUI).Debug("selecting front-end")
	if useGUI {
		return runGUI(cmd.Context(), cfg, args)
	}
	return runTUI(cmd.Context(), cfg, args)
}

func runGUI(ctx context.Context, cfg *config.Config, paths []string) error {
	ctrl, _, err := newController(ctx, cfg)
	if err != nil {
		return err
	}
	if err := preload(ctrl, paths); err != nil {
		closeController(ctx, ctrl)
		return err
	}

	a := app.NewWithID(appID)
	w, err := gui.New(ctx, a, ctrl, "localdos")
	if err != nil {
		closeController(ctx, ctrl)
		return fmt.Errorf("open window: %w", err)
	}
	w.Run(func() { closeController(ctx, ctrl) })
	return nil
}

func runTUI(ctx context.Context, cfg *config.Config, paths []string) error {
	if !terminal.IsTTY() {
		return fmt.Errorf("the terminal UI needs an interactive terminal; use 'localdos start' for headless runs")
	}
	ctrl, _, err := newController(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeController(ctx, ctrl)
	if err := preload(ctrl, paths); err != nil {
		return err
	}

	dropDir := cfg.DropDir
	if runDropDir != "" {
		dropDir = runDropDir
	}
	return tui.New(ctx, ctrl, tui.Options{DropDir: dropDir}).Run()
}

// closeController stops any session and releases the controller.
func closeController(ctx context.Context, ctrl interface {
	Close(context.Context) error
}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := ctrl.Close(ctx); err != nil {
		log.G(ctx).WithError(err).Warn("closing session")
	}
}
