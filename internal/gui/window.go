// Package gui provides the desktop window for localdos.
package gui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/containerd/log"
	events "github.com/docker/go-events"

	"github.com/javanstorm/localdos/internal/media"
	"github.com/javanstorm/localdos/internal/session"
	"github.com/javanstorm/localdos/internal/status"
)

const helpText = `## Getting started

1. Open the **Boot** tab and choose a boot image (.jsdos, .img, .ima or .zip).
2. Optionally add files in the **Files** tab and press **Commit**. They appear on drive D: in the emulator. Files committed while a game is running may need ` + "`RESCAN`" + ` at the DOS prompt before they show up.
3. Press **Start**.

Files can also be dropped onto the window. A single boot image among the dropped files becomes the boot image; everything else is staged.

**Restart** stops the emulator, waits for it to exit and starts it again with the current boot image.`

// Window is the main application window.
type Window struct {
	app   fyne.App
	win   fyne.Window
	ctx   context.Context
	ctrl  *session.Controller
	boot  *media.BootSelector
	stage *media.Staging

	events *events.Channel
	sub    *session.Subscription

	badge    *widget.Label
	hint     *widget.Label
	notice   *widget.Label
	progress *widget.ProgressBar

	startBtn   *widget.Button
	stopBtn    *widget.Button
	restartBtn *widget.Button

	bootName   *widget.Label
	bootSize   *widget.Label
	bootBadge  *widget.Label
	removeBoot *widget.Button

	stagedList  *widget.List
	filesList   *widget.List
	commitBtn   *widget.Button
	staged      []media.Blob
	files       []status.File
	stagedSel   int
	filesSel    int
	systemLabel *widget.Label

	last status.Status
}

// New builds the window for ctrl on a. The window is not shown yet.
func New(ctx context.Context, a fyne.App, ctrl *session.Controller, title string) (*Window, error) {
	w := &Window{
		app:       a,
		win:       a.NewWindow(title),
		ctx:       ctx,
		ctrl:      ctrl,
		boot:      media.NewBootSelector(ctrl),
		stage:     media.NewStaging(ctrl),
		stagedSel: -1,
		filesSel:  -1,
	}
	w.build()

	ch, sub, err := ctrl.Channel(64)
	if err != nil {
		return nil, fmt.Errorf("subscribe to session events: %w", err)
	}
	w.events, w.sub = ch, sub
	go w.watch()

	w.apply(ctrl.Snapshot())
	return w, nil
}

func (w *Window) build() {
	w.win.Resize(fyne.NewSize(900, 640))

	w.badge = widget.NewLabelWithStyle("Stopped", fyne.TextAlignTrailing, fyne.TextStyle{Bold: true})
	w.hint = widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{Italic: true})
	w.notice = widget.NewLabel("")
	w.notice.Wrapping = fyne.TextWrapWord
	w.progress = widget.NewProgressBar()
	w.progress.Max = 100
	w.progress.Hide()

	w.startBtn = widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), w.onStart)
	w.startBtn.Importance = widget.HighImportance
	w.stopBtn = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), w.onStop)
	w.restartBtn = widget.NewButtonWithIcon("Restart", theme.MediaReplayIcon(), w.onRestart)

	header := container.NewBorder(nil, nil,
		widget.NewLabelWithStyle("LocalDOS", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		w.badge,
		container.NewHBox(w.startBtn, w.stopBtn, w.restartBtn),
	)

	tabs := container.NewAppTabs(
		container.NewTabItemWithIcon("Boot", theme.StorageIcon(), w.buildBootTab()),
		container.NewTabItemWithIcon("Files", theme.FolderIcon(), w.buildFilesTab()),
		container.NewTabItemWithIcon("System", theme.InfoIcon(), w.buildSystemTab()),
		container.NewTabItemWithIcon("Help", theme.HelpIcon(), container.NewVScroll(widget.NewRichTextFromMarkdown(helpText))),
	)

	w.win.SetContent(container.NewBorder(
		container.NewVBox(header, w.progress, w.hint),
		w.notice,
		nil, nil,
		tabs,
	))
	w.win.SetOnDropped(func(_ fyne.Position, uris []fyne.URI) {
		w.HandleDrop(uris)
	})
}

func (w *Window) buildBootTab() fyne.CanvasObject {
	w.bootBadge = widget.NewLabelWithStyle("Not Loaded", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	w.bootName = widget.NewLabel("")
	w.bootSize = widget.NewLabel("")

	choose := widget.NewButtonWithIcon("Choose Boot Image...", theme.FolderOpenIcon(), w.chooseBootImage)
	w.removeBoot = widget.NewButtonWithIcon("Remove", theme.DeleteIcon(), func() {
		if err := w.boot.Remove(w.ctx); err != nil {
			dialog.ShowError(err, w.win)
		}
	})

	formats := widget.NewLabel("Supported formats: " + strings.Join(media.FilterExtensions(), ", "))
	return container.NewVBox(
		container.NewHBox(widget.NewLabel("Boot Image:"), w.bootBadge),
		w.bootName,
		w.bootSize,
		container.NewHBox(choose, w.removeBoot),
		formats,
	)
}

func (w *Window) buildFilesTab() fyne.CanvasObject {
	w.stagedList = widget.NewList(
		func() int { return len(w.staged) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, o fyne.CanvasObject) {
			b := w.staged[id]
			o.(*widget.Label).SetText(fmt.Sprintf("%s (%s)", b.Name, status.FormatKB(b.Size())))
		},
	)
	w.stagedList.OnSelected = func(id widget.ListItemID) { w.stagedSel = id }
	w.stagedList.OnUnselected = func(widget.ListItemID) { w.stagedSel = -1 }

	w.filesList = widget.NewList(
		func() int { return len(w.files) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, o fyne.CanvasObject) {
			f := w.files[id]
			o.(*widget.Label).SetText(fmt.Sprintf("%d. %s (%s)", id+1, f.Name, status.FormatKB(f.Size)))
		},
	)
	w.filesList.OnSelected = func(id widget.ListItemID) { w.filesSel = id }
	w.filesList.OnUnselected = func(widget.ListItemID) { w.filesSel = -1 }

	add := widget.NewButtonWithIcon("Add Files...", theme.ContentAddIcon(), w.chooseFiles)
	removeStaged := widget.NewButtonWithIcon("Remove", theme.ContentRemoveIcon(), func() {
		w.removeStaged(w.stagedSel)
	})
	w.commitBtn = widget.NewButtonWithIcon("Commit", theme.ConfirmIcon(), w.commit)
	removeFile := widget.NewButtonWithIcon("Remove", theme.DeleteIcon(), func() {
		w.removeFile(w.filesSel)
	})

	staged := container.NewBorder(
		widget.NewLabelWithStyle("Staged", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		container.NewHBox(add, removeStaged, w.commitBtn),
		nil, nil, w.stagedList,
	)
	committed := container.NewBorder(
		widget.NewLabelWithStyle("Mounted on D:", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		container.NewHBox(removeFile),
		nil, nil, w.filesList,
	)
	return container.NewHSplit(staged, committed)
}

func (w *Window) buildSystemTab() fyne.CanvasObject {
	w.systemLabel = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Monospace: true})
	return container.NewVScroll(w.systemLabel)
}

// watch forwards controller events to the UI thread until unsubscribed.
func (w *Window) watch() {
	for {
		select {
		case ev := <-w.events.C:
			switch e := ev.(type) {
			case session.StateEvent:
				st := e.Status
				fyne.Do(func() { w.apply(st) })
			case session.NoticeEvent:
				fyne.Do(func() { w.showNotice(e) })
			}
		case <-w.events.Done():
			return
		}
	}
}

// apply renders st. Must run on the UI thread.
func (w *Window) apply(st status.Status) {
	st.Staged = w.stage.Len()
	w.last = st

	w.badge.SetText(st.Badge())
	w.hint.SetText(st.Hint())

	if st.Loading {
		w.progress.SetValue(float64(st.Progress))
		w.progress.Show()
	} else {
		w.progress.Hide()
	}

	setEnabled(w.startBtn, st.CanStart())
	setEnabled(w.stopBtn, st.Running || st.Loading)
	setEnabled(w.restartBtn, st.Running && st.BootImage != nil)

	w.bootBadge.SetText(st.BootBadge())
	if st.BootImage != nil {
		w.bootName.SetText("File: " + st.BootImage.Name)
		w.bootSize.SetText("Size: " + status.FormatMB(st.BootImage.Size))
		w.removeBoot.Enable()
	} else {
		w.bootName.SetText("No boot image selected")
		w.bootSize.SetText("")
		w.removeBoot.Disable()
	}

	// A selection only goes stale when the list changes size.
	if len(st.Files) != len(w.files) {
		w.filesList.UnselectAll()
		w.filesSel = -1
	}
	w.files = st.Files
	w.filesList.Refresh()
	w.refreshStaged()

	w.systemLabel.SetText(st.String())
}

func (w *Window) refreshStaged() {
	staged := w.stage.Files()
	if len(staged) != len(w.staged) {
		w.stagedList.UnselectAll()
		w.stagedSel = -1
	}
	w.staged = staged
	w.stagedList.Refresh()
	setEnabled(w.commitBtn, len(w.staged) > 0)
}

func (w *Window) showNotice(n session.NoticeEvent) {
	w.notice.SetText(n.Message)
	var lerr *session.LoadError
	if n.Level == session.LevelError && errors.As(n.Err, &lerr) {
		dialog.ShowError(fmt.Errorf("%s. %s", lerr.Error(), session.LoadFailureHint), w.win)
	}
}

func (w *Window) onStart() {
	if err := w.ctrl.Start(w.ctx); err != nil {
		log.G(w.ctx).WithError(err).Debug("start refused")
	}
}

func (w *Window) onStop() {
	if err := w.ctrl.Stop(w.ctx); err != nil {
		log.G(w.ctx).WithError(err).Warn("stop")
	}
}

// onRestart runs off the UI thread because it waits for teardown.
func (w *Window) onRestart() {
	w.restartBtn.Disable()
	go func() {
		if err := w.ctrl.Restart(w.ctx); err != nil {
			log.G(w.ctx).WithError(err).Warn("restart")
		}
	}()
}

func (w *Window) chooseBootImage() {
	d := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, w.win)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()
		b, err := media.FromReader(r.URI().Name(), r)
		if err != nil {
			dialog.ShowError(err, w.win)
			return
		}
		w.submitBoot(b)
	}, w.win)
	d.SetFilter(storage.NewExtensionFileFilter(media.FilterExtensions()))
	d.Show()
}

func (w *Window) chooseFiles() {
	dialog.ShowFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, w.win)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()
		b, err := media.FromReader(r.URI().Name(), r)
		if err != nil {
			dialog.ShowError(err, w.win)
			return
		}
		w.stage.Add(b)
		w.apply(w.ctrl.Snapshot())
	}, w.win)
}

func (w *Window) submitBoot(b media.Blob) {
	if err := w.boot.Submit(b); err != nil {
		w.notice.SetText(err.Error())
		dialog.ShowError(err, w.win)
	}
}

// HandleDrop routes dropped files: one boot image among them becomes the
// boot image, the rest are staged.
func (w *Window) HandleDrop(uris []fyne.URI) {
	paths := make([]string, 0, len(uris))
	for _, u := range uris {
		if u.Scheme() != "file" {
			continue
		}
		paths = append(paths, u.Path())
	}

	boot, files := media.SplitDrop(paths)
	if boot != "" {
		if err := w.boot.SubmitPath(boot); err != nil {
			dialog.ShowError(err, w.win)
		}
	}
	if len(files) > 0 {
		if err := w.stage.AddPaths(files...); err != nil {
			dialog.ShowError(err, w.win)
		}
		w.apply(w.ctrl.Snapshot())
	}
}

func (w *Window) commit() {
	if n := w.stage.Commit(); n > 0 {
		log.G(w.ctx).WithField("count", n).Debug("files committed")
	}
	w.apply(w.ctrl.Snapshot())
}

func (w *Window) removeStaged(idx int) {
	if err := w.stage.Remove(idx); err != nil {
		log.G(w.ctx).WithError(err).Debug("remove staged file")
		return
	}
	w.apply(w.ctrl.Snapshot())
}

func (w *Window) removeFile(idx int) {
	if err := w.ctrl.RemoveFile(idx); err != nil {
		log.G(w.ctx).WithError(err).Debug("remove file")
	}
}

// Close detaches the window from the controller.
func (w *Window) Close() {
	if err := w.ctrl.Unsubscribe(w.sub); err != nil {
		log.G(w.ctx).WithError(err).Debug("unsubscribe")
	}
}

// Run shows the window and blocks until it is closed. onClose runs once
// when the user closes the window or on the first SIGINT/SIGTERM.
func (w *Window) Run(onClose func()) {
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			w.Close()
			if onClose != nil {
				onClose()
			}
			w.app.Quit()
		})
	}
	w.win.SetCloseIntercept(shutdown)

	// First signal: graceful close. Second: force exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fyne.Do(shutdown)
		<-sigCh
		os.Exit(1)
	}()

	w.win.ShowAndRun()
}

func setEnabled(b *widget.Button, enabled bool) {
	if enabled {
		b.Enable()
	} else {
		b.Disable()
	}
}
