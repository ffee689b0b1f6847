package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/javanstorm/localdos/internal/media"
	"github.com/javanstorm/localdos/internal/session"
	"github.com/javanstorm/localdos/internal/status"
	"github.com/javanstorm/localdos/internal/terminal"
)

var startCmd = &cobra.Command{
	Use:   "start [boot-image] [files...]",
	Short: "Boot an image without a front-end",
	Long: `Boot a disk image and stay in the foreground until the emulator exits.

Extra files are added to the session and mounted once it is running.
Bundle images see them on drive D:. DOSBox caches directory listings, so
run RESCAN in the guest if a file added later does not show up.

While running:
  Ctrl+C    stop the emulator and exit
  SIGHUP    restart the emulator

On an interactive terminal single keys are also available:
  i status, r restart, s stop, q quit`,
	RunE: runStart,
}

var (
	startBoot   string
	startFiles  []string
	startNoKeys bool
)

func init() {
	startCmd.Flags().StringVar(&startBoot, "boot", "", "boot image (default: first argument)")
	startCmd.Flags().StringArrayVar(&startFiles, "file", nil, "file to add to the session (repeatable)")
	startCmd.Flags().BoolVar(&startNoKeys, "no-keys", false, "do not read key commands from the terminal")
	startCmd.Flags().BoolVarP(&quietMode, "quiet", "q", false, "only print errors")
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	out := cmd.OutOrStdout()
	cfg := currentConfig()

	bootPath, files, err := startInputs(startBoot, startFiles, args)
	if err != nil {
		return err
	}

	ctrl, eng, err := newController(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeController(ctx, ctrl)

	printIfNotQuiet(out, "Waiting for emulator %s...\n", cfg.EngineBinary)
	if err := eng.WaitReady(ctx); err != nil {
		return fmt.Errorf("emulator unavailable: %w", err)
	}

	if err := media.NewBootSelector(ctrl).SubmitPath(bootPath); err != nil {
		return err
	}
	staging := media.NewStaging(ctrl)
	if err := staging.AddPaths(files...); err != nil {
		return err
	}
	staging.Commit()

	ch, sub, err := ctrl.Channel(16)
	if err != nil {
		return err
	}
	defer ctrl.Unsubscribe(sub)

	if err := boot(ctx, out, ctrl); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// Raw mode turns "\n" into a bare line feed; say restores the carriage
	// return.
	nl := "\n"
	var keys <-chan terminal.Command
	if !startNoKeys && terminal.IsTTY() {
		restore, err := terminal.Current().SetRaw()
		if err != nil {
			log.G(ctx).WithError(err).Warn("key commands disabled")
		} else {
			defer restore()
			nl = "\r\n"
			keys = terminal.ReadCommands(ctx, os.Stdin)
			printIfNotQuiet(out, "%s%s", terminal.KeyHelp, nl)
		}
	}
	say := func(format string, args ...any) {
		printIfNotQuiet(out, format+nl, args...)
	}

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				say("Restarting emulator...")
				if err := restart(ctx, ctrl); err != nil {
					return err
				}
				continue
			}
			say("Stopping emulator...")
			return ctrl.Stop(ctx)

		case c := <-keys:
			switch c {
			case terminal.CmdStatus:
				st := ctrl.Snapshot()
				say("%s", crlf(st.String(), nl))
			case terminal.CmdRestart:
				say("Restarting emulator...")
				if err := restart(ctx, ctrl); err != nil {
					return err
				}
			case terminal.CmdStop, terminal.CmdQuit:
				say("Stopping emulator...")
				return ctrl.Stop(ctx)
			}

		case ev := <-ch.C:
			switch e := ev.(type) {
			case session.NoticeEvent:
				if e.Level != session.LevelInfo {
					say("[%s] %s", e.Level, e.Message)
				}
			case session.StateEvent:
				// A restart passes through idle; only a settled idle state
				// means the emulator is gone.
				if e.Status.State == session.StateIdle.String() && ctrl.State() == session.StateIdle {
					say("Emulator exited")
					return nil
				}
			}

		case <-ch.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// startInputs picks the boot image and file list. Without --boot the first
// positional argument is the boot image, unlike run which routes by
// extension.
func startInputs(boot string, flagFiles, args []string) (string, []string, error) {
	files := append([]string(nil), flagFiles...)
	if boot == "" {
		if len(args) == 0 {
			return "", nil, errors.New("no boot image given")
		}
		boot, args = args[0], args[1:]
	}
	files = append(files, args...)
	if err := media.ValidateBootImage(boot); err != nil {
		return "", nil, err
	}
	return boot, files, nil
}

// boot starts the session and waits until it is running or has failed.
func boot(ctx context.Context, out io.Writer, ctrl *session.Controller) error {
	img, _ := ctrl.BootImage()
	printIfNotQuiet(out, "Booting %s (%s)...\n", img.Name, status.FormatMB(img.Size()))
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	if err := ctrl.WaitLoad(ctx); err != nil {
		return err
	}
	if err := ctrl.LastError(); err != nil {
		return fmt.Errorf("%w\n%s", err, session.LoadFailureHint)
	}
	st := ctrl.Snapshot()
	printIfNotQuiet(out, "Emulator running [session %s], %d file(s)\n", st.SessionID, len(st.Files))
	return nil
}

func restart(ctx context.Context, ctrl *session.Controller) error {
	if err := ctrl.Restart(ctx); err != nil {
		return err
	}
	if err := ctrl.WaitLoad(ctx); err != nil {
		return err
	}
	return ctrl.LastError()
}

func crlf(s, nl string) string {
	if nl == "\n" {
		return s
	}
	return strings.ReplaceAll(s, "\n", nl)
}
