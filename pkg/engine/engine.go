// Package engine defines the capability interface of an external DOS
// emulation engine. The session controller drives an Engine without knowing
// how CPU, BIOS, or disk emulation is done behind it.
package engine

import (
	"context"
)

// Engine is the set of operations the session controller consumes.
// Backends (dosbox, test fakes) satisfy this interface and are injected by
// the caller.
type Engine interface {
	// Ready reports whether the engine finished initialising. It flips from
	// false to true at most once and never flips back.
	Ready() bool

	Info() Info

	// Capabilities returns what features the engine supports.
	Capabilities() Capabilities

	// Create prepares an engine instance bound to the configured render
	// target. Nothing is running yet.
	Create(ctx context.Context, cfg *Config) (Handle, error)

	// Load boots the resource inside the instance. It returns once the
	// engine considers the session up, or with an error if the resource was
	// rejected.
	Load(ctx context.Context, h Handle, res Resource) (Session, error)

	// Terminate tears the session down. The returned channel is closed once
	// the engine has released every resource the session held. A nil channel
	// means the engine cannot confirm teardown.
	Terminate(s Session) (<-chan struct{}, error)

	// Mount exposes data inside the session's virtual filesystem under name.
	Mount(ctx context.Context, s Session, name string, data []byte) error
}

// Handle is an engine instance returned by Create.
type Handle interface {
	ID() string
}

// Session is a running emulation returned by Load.
type Session interface {
	ID() string
}

// Capabilities describes engine feature support.
// Used for early validation before a session is started.
type Capabilities struct {
	Mount      bool // files can be pushed into a live session
	Teardown   bool // Terminate returns a confirmation channel
	Fullscreen bool
}

// Info contains engine metadata.
type Info struct {
	Name    string // "dosbox"
	Version string
}

// Exiter is implemented by sessions that can end on their own, for example
// when the user closes the engine window.
type Exiter interface {
	// Exited is closed once the session is gone, whoever ended it.
	Exited() <-chan struct{}
}
