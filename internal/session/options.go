package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/javanstorm/localdos/pkg/engine"
)

// Progress defaults. The indicator advances by DefaultProgressStep every
// DefaultProgressInterval while a load is in flight and never passes
// DefaultProgressCap until the load succeeds.
const (
	DefaultProgressInterval = 200 * time.Millisecond
	DefaultProgressStep     = 10
	DefaultProgressCap      = 90
)

// Restart defaults.
const (
	DefaultRestartDelay    = time.Second
	DefaultTeardownTimeout = 10 * time.Second
)

// ProgressOptions tunes the load progress indicator.
type ProgressOptions struct {
	Interval time.Duration
	Step     int
	// Cap must stay below 100; 100 is reserved for a completed load.
	Cap int
}

// RestartOptions tunes how Restart waits for the old session.
type RestartOptions struct {
	// Delay is waited after stopping when the engine cannot confirm
	// teardown.
	Delay time.Duration

	// TeardownTimeout bounds the wait for a teardown confirmation.
	TeardownTimeout time.Duration
}

// Options configures a Controller.
type Options struct {
	// Engine is the emulation backend. Required.
	Engine engine.Engine

	// EngineConfig is passed to Engine.Create for every start.
	EngineConfig engine.Config

	// WorkDir is where boot image resources are written. Empty means the
	// system temp dir.
	WorkDir string

	Progress ProgressOptions
	Restart  RestartOptions

	// LoadTimeout bounds a single load. Zero means no bound.
	LoadTimeout time.Duration

	// Context is the base context for background work and logging.
	Context context.Context

	// TimingOutput receives a phase report after each load when set.
	TimingOutput io.Writer
}

func (o *Options) applyDefaults() error {
	if o.Engine == nil {
		return ErrNoEngine
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.WorkDir == "" {
		o.WorkDir = filepath.Join(os.TempDir(), "localdos")
	}
	if err := o.EngineConfig.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if o.Progress.Interval <= 0 {
		o.Progress.Interval = DefaultProgressInterval
	}
	if o.Progress.Step <= 0 {
		o.Progress.Step = DefaultProgressStep
	}
	if o.Progress.Cap == 0 {
		o.Progress.Cap = DefaultProgressCap
	}
	if o.Progress.Cap < 0 || o.Progress.Cap >= 100 {
		return fmt.Errorf("progress cap %d must be in [1, 99]", o.Progress.Cap)
	}
	if o.Restart.Delay <= 0 {
		o.Restart.Delay = DefaultRestartDelay
	}
	if o.Restart.TeardownTimeout <= 0 {
		o.Restart.TeardownTimeout = DefaultTeardownTimeout
	}
	return nil
}
