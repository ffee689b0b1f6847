// Package tui provides the terminal front-end for localdos.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/log"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/sync/errgroup"

	"github.com/javanstorm/localdos/internal/media"
	"github.com/javanstorm/localdos/internal/session"
	"github.com/javanstorm/localdos/internal/status"
)

const keyHelp = "[yellow]s[white] start  [yellow]x[white] stop  [yellow]r[white] restart  " +
	"[yellow]c[white] commit  [yellow]d[white] remove  [yellow]b[white] remove boot  " +
	"[yellow]:[white] add path  [yellow]tab[white] focus  [yellow]q[white] quit"

// Options configures the terminal UI.
type Options struct {
	// DropDir is watched for new files. Empty disables the drop folder.
	DropDir string

	// Screen overrides the terminal screen, for tests.
	Screen tcell.Screen
}

// App is the terminal UI bound to one controller.
type App struct {
	ctx   context.Context
	ctrl  *session.Controller
	boot  *media.BootSelector
	stage *media.Staging
	opts  Options

	app    *tview.Application
	status *tview.TextView
	staged *tview.List
	files  *tview.List
	logs   *tview.TextView
	input  *tview.InputField
	footer *tview.TextView
	pages  *tview.Flex
}

// New builds the UI. Nothing is drawn until Run.
func New(ctx context.Context, ctrl *session.Controller, opts Options) *App {
	a := &App{
		ctx:   ctx,
		ctrl:  ctrl,
		boot:  media.NewBootSelector(ctrl),
		stage: media.NewStaging(ctrl),
		opts:  opts,
		app:   tview.NewApplication(),
		status: tview.NewTextView().
			SetDynamicColors(true).
			SetWrap(false),
		staged: tview.NewList().
			ShowSecondaryText(false),
		files: tview.NewList().
			ShowSecondaryText(false),
		logs: tview.NewTextView().
			SetMaxLines(500),
		input: tview.NewInputField().
			SetLabel("Add path: "),
		footer: tview.NewTextView().
			SetDynamicColors(true).
			SetText(keyHelp),
	}
	if opts.Screen != nil {
		a.app.SetScreen(opts.Screen)
	}

	a.status.SetBorder(true).SetTitle(" Status ")
	a.staged.SetBorder(true).SetTitle(" Staged ")
	a.files.SetBorder(true).SetTitle(" Mounted on D: ")
	a.logs.SetBorder(true).SetTitle(" Log ")
	a.logs.SetChangedFunc(func() { a.app.Draw() })
	a.footer.SetBackgroundColor(tcell.ColorDarkBlue)

	lists := tview.NewFlex().
		AddItem(a.staged, 0, 1, true).
		AddItem(a.files, 0, 1, false)
	main := tview.NewFlex().
		AddItem(a.status, 0, 1, false).
		AddItem(lists, 0, 2, true)
	a.pages = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(main, 0, 3, true).
		AddItem(a.logs, 8, 0, false).
		AddItem(a.input, 1, 0, false).
		AddItem(a.footer, 1, 0, false)

	a.input.SetDoneFunc(a.onInputDone)
	a.app.SetInputCapture(a.handleKey)
	a.app.SetRoot(a.pages, true).SetFocus(a.staged)

	a.apply(ctrl.Snapshot())
	return a
}

// Run draws the UI and blocks until the user quits or ctx is done.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	ch, sub, err := a.ctrl.Channel(64)
	if err != nil {
		return fmt.Errorf("subscribe to session events: %w", err)
	}
	defer a.ctrl.Unsubscribe(sub)

	// Logs go to the log pane while the UI owns the terminal.
	logger := log.L.Logger
	prev := logger.Out
	logger.SetOutput(a.logs)
	defer logger.SetOutput(prev)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case ev := <-ch.C:
				a.dispatch(ev)
			case <-ch.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
	if a.opts.DropDir != "" {
		dw, err := NewDropWatcher(a.opts.DropDir, DefaultSettle)
		if err != nil {
			return err
		}
		log.G(ctx).WithField("dir", dw.Dir()).Info("watching drop folder")
		g.Go(func() error {
			return dw.Run(ctx, func(paths []string) {
				a.app.QueueUpdateDraw(func() { a.route(paths) })
			})
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		a.app.Stop()
		return nil
	})

	runErr := a.app.Run()
	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) dispatch(ev any) {
	switch e := ev.(type) {
	case session.StateEvent:
		a.app.QueueUpdateDraw(func() { a.apply(e.Status) })
	case session.NoticeEvent:
		fmt.Fprintf(a.logs, "[%s] %s\n", e.Level, e.Message)
	}
}

// apply renders st. Must run on the UI goroutine.
func (a *App) apply(st status.Status) {
	st.Staged = a.stage.Len()
	a.status.SetText(renderStatus(st))

	a.files.Clear()
	for i, f := range st.Files {
		a.files.AddItem(fmt.Sprintf("%d. %s (%s)", i+1, f.Name, status.FormatKB(f.Size)), "", 0, nil)
	}
	a.refreshStaged()
}

func (a *App) refreshStaged() {
	cur := a.staged.GetCurrentItem()
	a.staged.Clear()
	for _, b := range a.stage.Files() {
		a.staged.AddItem(fmt.Sprintf("%s (%s)", b.Name, status.FormatKB(b.Size())), "", 0, nil)
	}
	if cur < a.staged.GetItemCount() {
		a.staged.SetCurrentItem(cur)
	}
}

func renderStatus(st status.Status) string {
	var b strings.Builder
	badge := "[red]Stopped[white]"
	if st.Running {
		badge = "[green]Running[white]"
	}
	fmt.Fprintf(&b, "LocalDOS  %s\n\n", badge)
	if st.Loading {
		fmt.Fprintf(&b, "%s\n\n", progressBar(st.Progress, 20))
	}
	if hint := st.Hint(); hint != "" {
		fmt.Fprintf(&b, "[::i]%s[::-]\n\n", hint)
	}
	b.WriteString(tview.Escape(st.String()))
	return b.String()
}

func progressBar(pct, width int) string {
	filled := pct * width / 100
	return fmt.Sprintf("[%s%s] %d%%",
		strings.Repeat("#", filled), strings.Repeat(".", width-filled), pct)
}

// handleKey implements the global key bindings. Keys typed into the path
// input are left alone.
func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if a.app.GetFocus() == a.input {
		if ev.Key() == tcell.KeyEscape {
			a.input.SetText("")
			a.app.SetFocus(a.staged)
			return nil
		}
		return ev
	}

	switch ev.Key() {
	case tcell.KeyTab:
		if a.app.GetFocus() == a.staged {
			a.app.SetFocus(a.files)
		} else {
			a.app.SetFocus(a.staged)
		}
		return nil
	case tcell.KeyCtrlC:
		a.app.Stop()
		return nil
	case tcell.KeyRune:
	default:
		return ev
	}

	switch ev.Rune() {
	case 's':
		if err := a.ctrl.Start(a.ctx); err != nil {
			log.G(a.ctx).WithError(err).Debug("start refused")
		}
	case 'x':
		if err := a.ctrl.Stop(a.ctx); err != nil {
			log.G(a.ctx).WithError(err).Warn("stop")
		}
	case 'r':
		go func() {
			if err := a.ctrl.Restart(a.ctx); err != nil {
				log.G(a.ctx).WithError(err).Warn("restart")
			}
		}()
	case 'c':
		a.stage.Commit()
		a.apply(a.ctrl.Snapshot())
	case 'd':
		a.removeSelected()
	case 'b':
		if err := a.boot.Remove(a.ctx); err != nil {
			log.G(a.ctx).WithError(err).Warn("remove boot image")
		}
	case ':':
		a.app.SetFocus(a.input)
	case 'q':
		a.app.Stop()
	default:
		return ev
	}
	return nil
}

func (a *App) removeSelected() {
	if a.app.GetFocus() == a.files {
		if err := a.ctrl.RemoveFile(a.files.GetCurrentItem()); err != nil {
			log.G(a.ctx).WithError(err).Debug("remove file")
		}
		return
	}
	if err := a.stage.Remove(a.staged.GetCurrentItem()); err != nil {
		log.G(a.ctx).WithError(err).Debug("remove staged file")
		return
	}
	a.apply(a.ctrl.Snapshot())
}

func (a *App) onInputDone(key tcell.Key) {
	if key == tcell.KeyEnter {
		if path := strings.TrimSpace(a.input.GetText()); path != "" {
			a.route([]string{path})
		}
	}
	a.input.SetText("")
	a.app.SetFocus(a.staged)
}

// route hands files to the boot selector or the staging list.
func (a *App) route(paths []string) {
	boot, files := media.SplitDrop(paths)
	if boot != "" {
		if err := a.boot.SubmitPath(boot); err != nil {
			a.logf("warning", "%v", err)
		}
	}
	if len(files) > 0 {
		if err := a.stage.AddPaths(files...); err != nil {
			a.logf("warning", "%v", err)
		}
	}
	a.apply(a.ctrl.Snapshot())
}

func (a *App) logf(level, format string, args ...any) {
	fmt.Fprintf(a.logs, "[%s] %s\n", level, fmt.Sprintf(format, args...))
}

// Stop quits the UI from any goroutine.
func (a *App) Stop() { a.app.Stop() }
