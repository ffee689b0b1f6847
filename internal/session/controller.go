// Package session owns the emulator session lifecycle: the current boot
// image, the committed auxiliary files, and the Idle/Loading/Running state
// machine that drives an engine.Engine.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/log"
	events "github.com/docker/go-events"

	"github.com/javanstorm/localdos/internal/media"
	"github.com/javanstorm/localdos/internal/status"
	"github.com/javanstorm/localdos/internal/timing"
	"github.com/javanstorm/localdos/pkg/engine"
)

// Controller runs at most one emulator session at a time. All methods are
// safe for concurrent use; front-ends call them from their event loops and
// observe changes through Subscribe.
type Controller struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	bus    *events.Broadcaster
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	progress int
	boot     *media.Blob
	files    []media.Blob

	sess    engine.Session
	res     engine.Resource
	stopped chan struct{} // closed when the current session is torn down

	gen         uint64        // bumped on every Start
	loading     chan struct{} // closed when the in-flight load settles
	pendingStop bool

	lastErr    error
	lastNotice *status.Notice
	subs       map[*Subscription]struct{}
	closed     bool
}

// New creates an idle controller.
func New(opts Options) (*Controller, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(opts.Context)
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("component", "session"))

	return &Controller{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		bus:    events.NewBroadcaster(),
		state:  StateIdle,
		subs:   make(map[*Subscription]struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns the load indicator value in [0, 100].
func (c *Controller) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// LastError returns the error of the most recent failed load, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// EngineInfo returns the engine metadata.
func (c *Controller) EngineInfo() engine.Info {
	return c.opts.Engine.Info()
}

// Snapshot returns the current status.
func (c *Controller) Snapshot() status.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() status.Status {
	info := c.opts.Engine.Info()
	st := status.Status{
		EngineName:    info.Name,
		EngineVersion: info.Version,
		EngineReady:   c.opts.Engine.Ready(),
		State:         c.state.String(),
		Running:       c.state == StateRunning,
		Loading:       c.state == StateLoading,
		Progress:      c.progress,
	}
	if c.boot != nil {
		st.BootImage = &status.File{Name: c.boot.Name, Size: c.boot.Size()}
	}
	if c.sess != nil {
		st.SessionID = c.sess.ID()
	}
	st.Files = make([]status.File, len(c.files))
	for i, f := range c.files {
		st.Files[i] = status.File{Name: f.Name, Size: f.Size()}
	}
	if c.lastNotice != nil {
		n := *c.lastNotice
		st.LastNotice = &n
	}
	return st
}

// SetBootImage makes b the current boot image, replacing any previous one.
// A running session keeps running on the image it was started with.
func (c *Controller) SetBootImage(b media.Blob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.boot = &b
	log.G(c.ctx).WithFields(log.Fields{"image": b.Name, "size": b.Size()}).Info("boot image selected")
	c.noticeLocked(LevelInfo, fmt.Sprintf("Boot image loaded: %s", b.Name), nil)
	c.publishLocked()
}

// RemoveBootImage stops any session, then clears the boot image. A load in
// flight is stopped as soon as it settles.
func (c *Controller) RemoveBootImage(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	var err error
	switch c.state {
	case StateRunning:
		_, err = c.teardownLocked(ctx)
	case StateLoading:
		c.pendingStop = true
	}
	c.boot = nil
	c.publishLocked()
	return err
}

// BootImage returns the current boot image.
func (c *Controller) BootImage() (media.Blob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.boot == nil {
		return media.Blob{}, false
	}
	return *c.boot, true
}

// AddFiles appends committed auxiliary files. When a session is running
// they are mounted into it right away; otherwise they are mounted on the
// next start.
func (c *Controller) AddFiles(bs ...media.Blob) {
	if len(bs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.files = append(c.files, bs...)
	c.noticeLocked(LevelInfo, fmt.Sprintf("%d file(s) added", len(bs)), nil)
	c.publishLocked()

	if c.state == StateRunning && c.opts.Engine.Capabilities().Mount {
		sess := c.sess
		files := append([]media.Blob(nil), bs...)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.mountAll(c.ctx, sess, files)
		}()
	}
}

// RemoveFile deletes the committed file at index. Files already mounted into
// a running session stay there.
func (c *Controller) RemoveFile(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	files, err := media.RemoveAt(c.files, index)
	if err != nil {
		return err
	}
	c.files = files
	c.publishLocked()
	return nil
}

// Files returns the committed files in order.
func (c *Controller) Files() []media.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.Blob(nil), c.files...)
}

// Start begins loading the current boot image. It returns as soon as the
// load is underway; completion is reported through events and WaitLoad.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkStartLocked(); err != nil {
		log.G(ctx).WithError(err).Warn("start refused")
		c.noticeLocked(LevelWarning, err.Error(), err)
		return err
	}

	boot := *c.boot
	c.gen++
	gen := c.gen
	c.state = StateLoading
	c.progress = 0
	c.pendingStop = false
	c.lastErr = nil
	settled := make(chan struct{})
	c.loading = settled
	c.publishLocked()

	loadCtx, cancel := context.WithCancel(c.ctx)
	loadCtx = log.WithLogger(loadCtx, log.G(loadCtx).WithFields(log.Fields{
		"image": boot.Name,
		"load":  gen,
	}))
	log.G(loadCtx).Info("starting emulator")

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.tick(loadCtx, gen, settled)
	}()
	go func() {
		defer c.wg.Done()
		defer c.settle(settled)
		defer cancel()
		c.load(loadCtx, gen, boot)
	}()
	return nil
}

func (c *Controller) checkStartLocked() error {
	var reason error
	switch {
	case c.closed:
		return ErrClosed
	case c.state != StateIdle:
		reason = ErrBusy
	case c.boot == nil:
		reason = ErrNoBootImage
	case !c.opts.Engine.Ready():
		reason = ErrEngineNotReady
	default:
		return nil
	}
	return &PreconditionError{Op: "start", Reason: reason}
}

// tick advances the fake progress indicator until the load settles.
func (c *Controller) tick(ctx context.Context, gen uint64, settled <-chan struct{}) {
	ticker := time.NewTicker(c.opts.Progress.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-settled:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.gen != gen || c.state != StateLoading {
			c.mu.Unlock()
			return
		}
		if c.progress < c.opts.Progress.Cap {
			c.progress = min(c.progress+c.opts.Progress.Step, c.opts.Progress.Cap)
			c.publishLocked()
		}
		c.mu.Unlock()
	}
}

// load runs one engine load and applies its outcome.
func (c *Controller) load(ctx context.Context, gen uint64, boot media.Blob) {
	timer := timing.New()
	sess, res, err := c.bootSession(ctx, boot, timer)

	c.mu.Lock()
	if gen != c.gen || c.state != StateLoading {
		// Stale completion.
		c.mu.Unlock()
		c.discard(sess, res)
		return
	}

	if err != nil {
		lerr := &LoadError{Image: boot.Name, Err: err}
		c.state = StateIdle
		c.progress = 0
		c.pendingStop = false
		c.lastErr = lerr
		log.G(ctx).WithError(err).Error("load failed")
		c.noticeLocked(LevelError, lerr.Error()+". "+LoadFailureHint, lerr)
		c.publishLocked()
		c.mu.Unlock()
		return
	}

	if c.pendingStop || c.closed {
		log.G(ctx).Info("stop requested during load, tearing down")
		c.state = StateIdle
		c.progress = 0
		c.pendingStop = false
		c.publishLocked()
		c.mu.Unlock()
		c.discard(sess, res)
		return
	}

	c.state = StateRunning
	c.progress = 100
	c.sess = sess
	c.res = res
	c.stopped = make(chan struct{})
	stopped := c.stopped
	files := append([]media.Blob(nil), c.files...)
	log.G(ctx).WithField("session", sess.ID()).Info("emulator running")
	c.noticeLocked(LevelInfo, fmt.Sprintf("Emulator started with %s", boot.Name), nil)
	c.publishLocked()
	c.mu.Unlock()

	if ex, ok := sess.(engine.Exiter); ok {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.watch(sess, ex.Exited(), stopped)
		}()
	}

	if c.opts.Engine.Capabilities().Mount {
		c.mountAll(ctx, sess, files)
		timer.Mark("mount")
	}

	log.G(ctx).WithField("timing", timer.Summary()).Debug("load phases")
	if c.opts.TimingOutput != nil {
		timer.Report(c.opts.TimingOutput)
	}
}

// bootSession materialises the resource and drives the engine through
// Create and Load. A panic inside the engine is returned as an error.
func (c *Controller) bootSession(ctx context.Context, boot media.Blob, timer *timing.Timer) (engine.Session, engine.Resource, error) {
	res, err := engine.NewResource(c.opts.WorkDir, boot.Name, boot.Data)
	if err != nil {
		return nil, engine.Resource{}, fmt.Errorf("prepare boot image: %w", err)
	}
	timer.Mark("resource")

	if c.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.LoadTimeout)
		defer cancel()
	}

	type result struct {
		sess engine.Session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		cfg := c.opts.EngineConfig
		h, err := c.opts.Engine.Create(ctx, &cfg)
		if err != nil {
			ch <- result{err: fmt.Errorf("create instance: %w", err)}
			return
		}
		timer.Mark("create")
		s, err := c.opts.Engine.Load(ctx, h, res)
		ch <- result{sess: s, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.sess == nil {
			r.err = engine.ErrUnknownSession
		}
		if r.err != nil {
			c.discard(r.sess, res)
			return nil, engine.Resource{}, r.err
		}
		timer.Mark("load")
		return r.sess, res, nil
	case <-ctx.Done():
		// The engine ignored cancellation; reap whatever it returns later.
		// The reaper is not tracked by wg so Close never waits on the engine.
		go func() {
			r := <-ch
			c.discard(r.sess, res)
		}()
		return nil, engine.Resource{}, fmt.Errorf("load aborted: %w", ctx.Err())
	}
}

// discard terminates an orphaned session and releases its resource.
func (c *Controller) discard(sess engine.Session, res engine.Resource) {
	if sess != nil {
		if _, err := c.opts.Engine.Terminate(sess); err != nil {
			log.G(c.ctx).WithError(err).Warn("terminate orphaned session")
		}
	}
	if err := res.Release(); err != nil {
		log.G(c.ctx).WithError(err).Warn("release boot image")
	}
}

// settle marks the load as finished for WaitLoad callers.
func (c *Controller) settle(settled chan struct{}) {
	c.mu.Lock()
	if c.loading == settled {
		c.loading = nil
	}
	c.mu.Unlock()
	close(settled)
}

// mountAll pushes files into sess in order. Failures are reported and
// skipped; they never stop the session.
func (c *Controller) mountAll(ctx context.Context, sess engine.Session, files []media.Blob) {
	for _, f := range files {
		c.mu.Lock()
		current := c.sess == sess && c.state == StateRunning
		c.mu.Unlock()
		if !current {
			return
		}

		err := c.opts.Engine.Mount(ctx, sess, f.Name, f.Data)
		if err == nil {
			log.G(ctx).WithField("file", f.Name).Debug("mounted")
			continue
		}
		merr := &MountError{File: f.Name, Err: err}
		log.G(ctx).WithError(err).WithField("file", f.Name).Warn("mount failed")
		c.mu.Lock()
		c.noticeLocked(LevelWarning, merr.Error(), merr)
		c.mu.Unlock()
	}
}

// watch returns the controller to Idle when the session ends on its own.
func (c *Controller) watch(sess engine.Session, exited, stopped <-chan struct{}) {
	select {
	case <-stopped:
		return
	case <-exited:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	log.G(c.ctx).WithField("session", sess.ID()).Info("emulator exited")
	res := c.res
	c.clearSessionLocked()
	if err := res.Release(); err != nil {
		log.G(c.ctx).WithError(err).Warn("release boot image")
	}
	c.noticeLocked(LevelInfo, "Emulator exited", nil)
	c.publishLocked()
}

// Stop ends the running session. It is a no-op when idle. While a load is
// in flight the stop is queued and applied as soon as the load settles.
func (c *Controller) Stop(ctx context.Context) error {
	_, _, err := c.stop(ctx)
	return err
}

func (c *Controller) stop(ctx context.Context) (<-chan struct{}, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrClosed
	}

	switch c.state {
	case StateIdle:
		return nil, false, nil
	case StateLoading:
		log.G(ctx).Info("stop queued until load settles")
		c.pendingStop = true
		return nil, false, nil
	}
	done, err := c.teardownLocked(ctx)
	return done, true, err
}

// teardownLocked terminates the running session and moves to Idle. The
// state change happens even if the engine reports an error.
func (c *Controller) teardownLocked(ctx context.Context) (<-chan struct{}, error) {
	sess, res := c.sess, c.res
	c.clearSessionLocked()

	logger := log.G(ctx).WithField("session", sess.ID())
	done, err := c.opts.Engine.Terminate(sess)
	if err != nil {
		logger.WithError(err).Warn("terminate failed")
		err = fmt.Errorf("terminate session: %w", err)
		c.noticeLocked(LevelWarning, err.Error(), err)
	} else {
		logger.Info("emulator stopped")
		c.noticeLocked(LevelInfo, "Emulator stopped", nil)
	}
	if rerr := res.Release(); rerr != nil {
		logger.WithError(rerr).Warn("release boot image")
	}
	c.publishLocked()
	return done, err
}

func (c *Controller) clearSessionLocked() {
	if c.stopped != nil {
		close(c.stopped)
		c.stopped = nil
	}
	c.sess = nil
	c.res = engine.Resource{}
	c.state = StateIdle
	c.progress = 0
}

// Restart stops the current session, waits for the engine to release it,
// then starts again with the current boot image. A load in flight is allowed
// to settle first. From Idle this is a plain Start.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.WaitLoad(ctx); err != nil {
		return err
	}

	done, stopped, err := c.stop(ctx)
	if err != nil && !stopped {
		return err
	}
	if stopped {
		if err := c.awaitTeardown(ctx, done); err != nil {
			return err
		}
	}
	return c.Start(ctx)
}

func (c *Controller) awaitTeardown(ctx context.Context, done <-chan struct{}) error {
	wait := c.opts.Restart.Delay
	if done != nil {
		wait = c.opts.Restart.TeardownTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		if done != nil {
			log.G(ctx).WithField("timeout", wait).Warn("teardown not confirmed, restarting anyway")
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
	return nil
}

// WaitLoad blocks until the in-flight load, including its mounts, has
// settled. It returns immediately when nothing is loading.
func (c *Controller) WaitLoad(ctx context.Context) error {
	c.mu.Lock()
	ch := c.loading
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any session, waits for background work, and closes every
// subscription. The wait for background work is bounded by ctx. The
// controller cannot be used afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	var err error
	switch c.state {
	case StateRunning:
		_, err = c.teardownLocked(ctx)
	case StateLoading:
		c.pendingStop = true
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	idle := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		log.G(ctx).WithError(ctx.Err()).Warn("close: background work still running")
		if err == nil {
			err = ctx.Err()
		}
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[*Subscription]struct{})
	c.mu.Unlock()
	for sub := range subs {
		if ch, ok := sub.sink.(*events.Channel); ok {
			ch.Close()
		}
	}
	if cerr := c.bus.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
