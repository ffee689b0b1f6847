package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"

	"github.com/javanstorm/localdos/internal/config"
	"github.com/javanstorm/localdos/internal/media"
	"github.com/javanstorm/localdos/internal/session"
	"github.com/javanstorm/localdos/pkg/engine"
	"github.com/javanstorm/localdos/pkg/engine/dosbox"
)

// quietMode suppresses progress output of the headless commands.
var quietMode bool

// SetQuietMode enables or disables quiet mode (minimal output).
func SetQuietMode(quiet bool) {
	quietMode = quiet
}

// printIfNotQuiet prints only when not in quiet mode.
func printIfNotQuiet(w io.Writer, format string, args ...interface{}) {
	if !quietMode {
		fmt.Fprintf(w, format, args...)
	}
}

// currentConfig returns the loaded configuration, or defaults when the
// command skipped loading.
func currentConfig() *config.Config {
	if config.Global != nil {
		return config.Global
	}
	return config.DefaultConfig()
}

// newEngine builds the DOSBox backend and starts its readiness probe.
func newEngine(ctx context.Context, cfg *config.Config) *dosbox.Engine {
	eng := dosbox.New(dosbox.Options{
		Binary:       cfg.EngineBinary,
		WorkDir:      cfg.WorkDir,
		StartupGrace: cfg.StartupGrace,
	})
	eng.Init(ctx)
	return eng
}

// engineConfig maps the user configuration onto engine instance settings.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		RenderTarget: cfg.RenderTarget,
		Machine:      cfg.Machine,
		Cycles:       cfg.Cycles,
		MemoryMB:     cfg.MemoryMB,
		Fullscreen:   cfg.Fullscreen,
		ExtraArgs:    cfg.EngineArgs,
	}
}

// sessionOptions builds controller options from cfg. LOCALDOS_TIMING=1
// prints a per-phase load report to stderr.
func sessionOptions(ctx context.Context, cfg *config.Config, eng engine.Engine) session.Options {
	opts := session.Options{
		Engine:       eng,
		EngineConfig: engineConfig(cfg),
		WorkDir:      cfg.WorkDir,
		Progress: session.ProgressOptions{
			Interval: cfg.ProgressInterval,
			Step:     cfg.ProgressStep,
			Cap:      cfg.ProgressCap,
		},
		Restart: session.RestartOptions{
			Delay:           cfg.RestartDelay,
			TeardownTimeout: cfg.TeardownTimeout,
		},
		LoadTimeout: cfg.LoadTimeout,
		Context:     ctx,
	}
	if os.Getenv("LOCALDOS_TIMING") == "1" {
		opts.TimingOutput = os.Stderr
	}
	return opts
}

// checkConfig prints configuration warnings and fails on fatal ones.
func checkConfig(w io.Writer, cfg *config.Config, caps engine.Capabilities) error {
	errs := config.ValidateConfig(cfg, caps)
	if len(errs) == 0 {
		return nil
	}
	fmt.Fprint(w, config.FormatValidationErrors(errs))
	if config.HasFatal(errs) {
		return errors.New("invalid configuration")
	}
	return nil
}

// newController wires the engine, validates the configuration, and
// returns a controller ready for use.
func newController(ctx context.Context, cfg *config.Config) (*session.Controller, *dosbox.Engine, error) {
	eng := newEngine(ctx, cfg)
	if err := checkConfig(os.Stderr, cfg, eng.Capabilities()); err != nil {
		return nil, nil, err
	}

	ctrl, err := session.New(sessionOptions(ctx, cfg, eng))
	if err != nil {
		return nil, nil, fmt.Errorf("create session controller: %w", err)
	}
	log.G(ctx).WithFields(log.Fields{
		"engine":  cfg.EngineBinary,
		"workdir": cfg.WorkDir,
	}).Debug("controller ready")
	return ctrl, eng, nil
}

// preload routes command-line paths the same way a drop does: one boot
// image becomes current, everything else goes to the file list.
func preload(ctrl *session.Controller, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	boot, files := media.SplitDrop(paths)
	if boot != "" {
		if err := media.NewBootSelector(ctrl).SubmitPath(boot); err != nil {
			return err
		}
	}
	staging := media.NewStaging(ctrl)
	if err := staging.AddPaths(files...); err != nil {
		return err
	}
	staging.Commit()
	return nil
}
