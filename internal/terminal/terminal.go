// Package terminal answers questions about the controlling terminal and
// reads single-key session controls for headless runs.
package terminal

import (
	"os"
	"runtime"

	"golang.org/x/term"
)

// Console wraps the process terminal.
type Console struct {
	stdin *os.File
	fd    int
}

// Current returns the current console.
func Current() *Console {
	return &Console{
		stdin: os.Stdin,
		fd:    int(os.Stdin.Fd()),
	}
}

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// HasDisplay reports whether a graphical session is likely available.
func HasDisplay() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

// SetRaw puts the terminal into raw mode and returns restore function.
func (c *Console) SetRaw() (func(), error) {
	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, err
	}
	return func() {
		term.Restore(c.fd, oldState)
	}, nil
}

// Size returns the current terminal size.
func (c *Console) Size() (width, height int, err error) {
	return term.GetSize(c.fd)
}

// Stdin returns the console input.
func (c *Console) Stdin() *os.File {
	return c.stdin
}
