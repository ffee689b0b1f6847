package media

import (
	"errors"
	"fmt"
	"strings"
)

// BootImageExtensions is the list of file extensions accepted for boot
// images. Matching is case-insensitive.
var BootImageExtensions = [...]string{".jsdos", ".img", ".ima", ".zip"}

// ErrUnsupportedExtension is the reason of a ValidationError for names
// outside BootImageExtensions.
var ErrUnsupportedExtension = errors.New("unsupported file type")

// ErrEmptyName is the reason of a ValidationError for blobs without a name.
var ErrEmptyName = errors.New("file has no name")

// ValidationError reports a boot image candidate that was rejected before
// it became current.
type ValidationError struct {
	Name   string
	Reason error
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid boot image: %v", e.Reason)
	}
	return fmt.Sprintf("invalid boot image %q: %v (supported: %s)",
		e.Name, e.Reason, strings.Join(BootImageExtensions[:], ", "))
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// IsBootImage reports whether name carries a boot image extension.
func IsBootImage(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range BootImageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ValidateBootImage returns a *ValidationError if name cannot be used as a
// boot image.
func ValidateBootImage(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Reason: ErrEmptyName}
	}
	if !IsBootImage(name) {
		return &ValidationError{Name: name, Reason: ErrUnsupportedExtension}
	}
	return nil
}

// FilterExtensions returns the boot image extensions in the form expected
// by file picker filters.
func FilterExtensions() []string {
	out := make([]string, len(BootImageExtensions))
	copy(out, BootImageExtensions[:])
	return out
}
