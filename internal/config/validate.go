package config

import (
	"fmt"
	"strings"

	"github.com/javanstorm/localdos/pkg/engine"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

// ValidateConfig checks configuration against engine capabilities.
// Returns a list of validation errors/warnings.
func ValidateConfig(cfg *Config, caps engine.Capabilities) []ValidationError {
	var errs []ValidationError

	if cfg.ProgressCap < 1 || cfg.ProgressCap >= 100 {
		errs = append(errs, ValidationError{
			Field:   "ProgressCap",
			Message: fmt.Sprintf("must be between 1 and 99, got %d (100 means loaded)", cfg.ProgressCap),
			Fatal:   true,
		})
	}
	if cfg.ProgressStep < 1 {
		errs = append(errs, ValidationError{
			Field:   "ProgressStep",
			Message: fmt.Sprintf("must be positive, got %d", cfg.ProgressStep),
			Fatal:   true,
		})
	}

	ec := engine.Config{Cycles: cfg.Cycles, MemoryMB: cfg.MemoryMB}
	if err := ec.Validate(); err != nil {
		field := "Cycles"
		if err == engine.ErrInvalidMemory {
			field = "MemoryMB"
		}
		errs = append(errs, ValidationError{Field: field, Message: err.Error(), Fatal: true})
	}

	if !caps.Mount {
		errs = append(errs, ValidationError{
			Field:   "Files",
			Message: "Engine cannot mount files into a running session; files are only visible on the next start",
			Fatal:   false,
		})
	}
	if cfg.Fullscreen && !caps.Fullscreen {
		errs = append(errs, ValidationError{
			Field:   "Fullscreen",
			Message: "Fullscreen not supported by this engine",
			Fatal:   false,
		})
	}
	if !caps.Teardown && cfg.RestartDelay <= 0 {
		errs = append(errs, ValidationError{
			Field:   "RestartDelay",
			Message: "Engine cannot confirm teardown; a positive restart delay is required",
			Fatal:   false,
		})
	}

	return errs
}

// HasFatal reports whether any error in errs is fatal.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errs {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
