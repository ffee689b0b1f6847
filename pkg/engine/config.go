package engine

import "strings"

// Config holds engine instance parameters.
type Config struct {
	// RenderTarget names the surface the engine draws into. The DOSBox
	// backend writes it as the window title text, which DOSBox-X shows in
	// its caption.
	RenderTarget string

	// Machine is the emulated machine type ("svga_s3", "vgaonly", ...).
	// Empty leaves the engine default.
	Machine string

	// Cycles is the emulated CPU speed ("auto", "max", or a number).
	Cycles string

	// MemoryMB is the emulated conventional+extended memory in megabytes.
	MemoryMB int

	// Fullscreen starts the render target fullscreen.
	Fullscreen bool

	// ExtraArgs are passed to the engine verbatim.
	ExtraArgs []string
}

// Validate performs basic validation of the configuration and fills
// defaults for empty fields.
func (c *Config) Validate() error {
	if c.RenderTarget == "" {
		c.RenderTarget = "localdos"
	}
	if c.MemoryMB < 0 || c.MemoryMB > 63 {
		return ErrInvalidMemory
	}
	if c.Cycles == "" {
		c.Cycles = "auto"
	}
	switch {
	case c.Cycles == "auto", c.Cycles == "max":
	case strings.Trim(c.Cycles, "0123456789") == "":
	default:
		return ErrInvalidCycles
	}
	return nil
}
