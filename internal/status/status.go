// Package status renders a read-only view of the session state.
package status

import (
	"fmt"
	"io"
	"strings"
)

// File is a named file size entry.
type File struct {
	Name string
	Size int64
}

// Notice is the last user-visible message.
type Notice struct {
	Level   string // "info", "warning" or "error"
	Message string
}

// Status is a snapshot of everything the status display shows. It is a
// plain value; front-ends replace it wholesale on every change.
type Status struct {
	EngineName    string
	EngineVersion string
	EngineReady   bool

	BootImage *File

	State     string // "idle", "loading" or "running"
	Running   bool
	Loading   bool
	Progress  int
	SessionID string

	Files  []File
	Staged int

	LastNotice *Notice
}

// Badge returns the short running indicator used in window headers.
func (s Status) Badge() string {
	if s.Running {
		return "Running"
	}
	return "Stopped"
}

// BootBadge returns whether a boot image is present.
func (s Status) BootBadge() string {
	if s.BootImage != nil {
		return "Loaded"
	}
	return "Not Loaded"
}

// CanStart reports whether a start request would pass its preconditions.
func (s Status) CanStart() bool {
	return s.BootImage != nil && s.EngineReady && !s.Running && !s.Loading
}

// Hint returns the idle screen message.
func (s Status) Hint() string {
	switch {
	case s.Loading:
		return "Loading Boot Image..."
	case s.Running:
		return ""
	case !s.EngineReady:
		return "Loading emulation engine..."
	case s.BootImage == nil:
		return "Upload a boot image to start"
	default:
		return "Click Start to begin emulation"
	}
}

// Render writes the text report of s to w.
func Render(w io.Writer, s Status) {
	engine := s.EngineName
	if engine == "" {
		engine = "none"
	}
	ready := "ready"
	if !s.EngineReady {
		ready = "not ready"
	}
	fmt.Fprintf(w, "Emulator: %s %s (%s)\n", engine, s.EngineVersion, ready)

	fmt.Fprintf(w, "Boot Image: %s\n", s.BootBadge())
	if s.BootImage != nil {
		fmt.Fprintf(w, "  File: %s\n", s.BootImage.Name)
		fmt.Fprintf(w, "  Size: %s\n", FormatMB(s.BootImage.Size))
	}

	fmt.Fprintf(w, "Status: %s", s.Badge())
	if s.Loading {
		fmt.Fprintf(w, " (loading %d%%)", s.Progress)
	}
	if s.SessionID != "" {
		fmt.Fprintf(w, " [session %s]", s.SessionID)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Files: %d", len(s.Files))
	if s.Staged > 0 {
		fmt.Fprintf(w, " (+%d staged)", s.Staged)
	}
	fmt.Fprintln(w)
	for i, f := range s.Files {
		fmt.Fprintf(w, "  %d. %s (%s)\n", i+1, f.Name, FormatKB(f.Size))
	}

	if s.LastNotice != nil {
		fmt.Fprintf(w, "Last message: [%s] %s\n", s.LastNotice.Level, s.LastNotice.Message)
	}
}

// String renders s into a string.
func (s Status) String() string {
	var b strings.Builder
	Render(&b, s)
	return b.String()
}

// FormatKB formats a file size the way auxiliary files are listed.
func FormatKB(size int64) string {
	return fmt.Sprintf("%.1f KB", float64(size)/1024)
}

// FormatMB formats a boot image size.
func FormatMB(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}
