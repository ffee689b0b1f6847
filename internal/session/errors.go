package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBootImage means Start was requested without a boot image.
	ErrNoBootImage = errors.New("no boot image loaded")

	// ErrEngineNotReady means the emulation engine has not finished
	// initialising.
	ErrEngineNotReady = errors.New("emulation engine not ready")

	// ErrBusy means a session is already loading or running.
	ErrBusy = errors.New("emulator already loading or running")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session controller closed")

	// ErrNoEngine is returned by New when Options.Engine is nil.
	ErrNoEngine = errors.New("no emulation engine configured")
)

// PreconditionError reports a request refused without any state change.
type PreconditionError struct {
	Op     string
	Reason error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot %s: %v", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return e.Reason
}

// LoadError reports a boot image the engine failed to load. The controller
// is back in StateIdle when this is surfaced.
type LoadError struct {
	Image string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to start emulator with %s: %v", e.Image, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadFailureHint is appended to load failure notices.
const LoadFailureHint = "Please check your boot image file."

// MountError reports an auxiliary file that could not be mounted into a
// running session. It never stops the session.
type MountError struct {
	File string
	Err  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s: %v", e.File, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}
