// Package timing records how long each phase of a session load takes.
package timing

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Timer tracks durations of named phases.
type Timer struct {
	mu     sync.Mutex
	start  time.Time
	last   time.Time
	phases []Phase
}

// Phase is a named slice of the load.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a Timer starting now.
func New() *Timer {
	now := time.Now()
	return &Timer{start: now, last: now}
}

// Mark records a phase ending now. Its duration runs from the previous mark,
// or from the start for the first one.
func (t *Timer) Mark(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.phases = append(t.phases, Phase{Name: name, Duration: now.Sub(t.last)})
	t.last = now
}

// Total returns the time elapsed since New.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Phases returns a copy of the recorded phases.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Phase(nil), t.phases...)
}

// Summary returns the phases on one line, for log fields.
func (t *Timer) Summary() string {
	phases := t.Phases()
	parts := make([]string, 0, len(phases)+1)
	for _, p := range phases {
		parts = append(parts, p.Name+"="+formatDuration(p.Duration))
	}
	parts = append(parts, "total="+formatDuration(t.Total()))
	return strings.Join(parts, " ")
}

// Report prints a timing table to w.
func (t *Timer) Report(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "=== Load Timing ===")
	for _, p := range t.Phases() {
		fmt.Fprintf(w, "  %-12s %s\n", p.Name+":", formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-12s %s\n", "TOTAL:", formatDuration(t.Total()))
	fmt.Fprintln(w, "===================")
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
