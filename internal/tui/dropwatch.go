package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/containerd/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a drop folder must stay quiet before the new
// files are handed over. Copies in progress keep resetting it.
const DefaultSettle = 300 * time.Millisecond

// DropWatcher reports files that appear in a folder, in batches.
type DropWatcher struct {
	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
}

// NewDropWatcher starts watching dir, creating it if needed.
func NewDropWatcher(dir string, settle time.Duration) (*DropWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create drop folder: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch drop folder: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch drop folder: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &DropWatcher{dir: dir, settle: settle, watcher: w}, nil
}

// Dir returns the watched folder.
func (d *DropWatcher) Dir() string { return d.dir }

// Run delivers batches of new file paths to fn until ctx is done. Paths in a
// batch are sorted by name. Run closes the watcher when it returns.
func (d *DropWatcher) Run(ctx context.Context, fn func(paths []string)) error {
	defer d.watcher.Close()

	pending := map[string]struct{}{}
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			pending[ev.Name] = struct{}{}
			settle = time.After(d.settle)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			log.G(ctx).WithError(err).Warn("drop folder watch error")
		case <-settle:
			settle = nil
			batch := make([]string, 0, len(pending))
			for p := range pending {
				if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
					batch = append(batch, p)
				}
			}
			clear(pending)
			if len(batch) == 0 {
				continue
			}
			slices.Sort(batch)
			fn(batch)
		}
	}
}
