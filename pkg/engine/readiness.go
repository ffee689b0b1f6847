package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// Readiness tracks the one-time initialisation of an engine. The flag moves
// from not-ready to ready at most once; a failed probe leaves it false for
// the lifetime of the value.
type Readiness struct {
	ready atomic.Bool
	once  sync.Once
	done  chan struct{}
	err   error
}

// NewReadiness returns a Readiness whose probe has not run yet.
func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// Probe runs fn in the background. Only the first call has any effect.
func (r *Readiness) Probe(ctx context.Context, fn func(context.Context) error) {
	r.once.Do(func() {
		go func() {
			defer close(r.done)
			if err := fn(ctx); err != nil {
				r.err = err
				return
			}
			r.ready.Store(true)
		}()
	})
}

// Ready reports whether the probe succeeded.
func (r *Readiness) Ready() bool {
	return r.ready.Load()
}

// Done is closed once the probe has settled.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Err returns the probe failure, if any. It is nil while the probe is still
// running.
func (r *Readiness) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the probe settles or ctx is done.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		if r.err != nil {
			return r.err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
