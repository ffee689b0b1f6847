package engine

import "errors"

// Configuration errors
var (
	ErrInvalidMemory = errors.New("engine: memory must be between 0 and 63 MB")
	ErrInvalidCycles = errors.New("engine: cycles must be 'auto', 'max' or a number")
)

// Runtime errors
var (
	ErrNotReady       = errors.New("engine: not ready")
	ErrUnknownHandle  = errors.New("engine: unknown instance handle")
	ErrUnknownSession = errors.New("engine: unknown session")
	ErrSessionExited  = errors.New("engine: session exited")
	ErrEmptyResource  = errors.New("engine: resource has no data")
)
