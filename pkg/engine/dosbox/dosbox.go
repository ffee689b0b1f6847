// Package dosbox implements engine.Engine on top of a host DOSBox binary.
// Every session is one DOSBox process; its window is the render target.
package dosbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sync/errgroup"

	"github.com/javanstorm/localdos/pkg/engine"
)

const (
	// DefaultBinary is looked up in PATH when Options.Binary is empty.
	DefaultBinary = "dosbox"

	// DefaultStartupGrace is how long a freshly started process has to stay
	// alive before the load counts as successful.
	DefaultStartupGrace = 750 * time.Millisecond

	probeTimeout = 5 * time.Second
)

// ErrMountUnsupported is returned when files are pushed into a session that
// booted its own DOS from a floppy image; DOSBox drives are gone there.
var ErrMountUnsupported = errors.New("dosbox: booted guest cannot see host drives")

// Options configures the DOSBox backend.
type Options struct {
	// Binary is the DOSBox executable (name or path).
	Binary string

	// WorkDir holds per-instance directories (C: and D: drives, conf).
	WorkDir string

	// StartupGrace is the startup survival window. Zero uses the default.
	StartupGrace time.Duration

	// Env is appended to the process environment.
	Env []string
}

// Engine runs DOSBox processes. It satisfies engine.Engine.
type Engine struct {
	opts      Options
	readiness *engine.Readiness

	mu        sync.Mutex
	version   string
	instances map[string]*instance
	sessions  map[string]*process
	nextID    atomic.Uint64
}

var _ engine.Engine = (*Engine)(nil)

// New creates a DOSBox engine. It is not ready until Init has found the
// binary.
func New(opts Options) *Engine {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = DefaultStartupGrace
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "localdos")
	}
	return &Engine{
		opts:      opts,
		readiness: engine.NewReadiness(),
		instances: make(map[string]*instance),
		sessions:  make(map[string]*process),
	}
}

// Init starts the asynchronous readiness probe. Calling it again is a no-op.
func (e *Engine) Init(ctx context.Context) {
	e.readiness.Probe(ctx, e.probe)
}

// WaitReady blocks until the probe settled and returns its failure, if any.
func (e *Engine) WaitReady(ctx context.Context) error {
	return e.readiness.Wait(ctx)
}

// ProbeError returns why the engine never became ready.
func (e *Engine) ProbeError() error {
	return e.readiness.Err()
}

func (e *Engine) probe(ctx context.Context) error {
	path, err := exec.LookPath(e.opts.Binary)
	if err != nil {
		return fmt.Errorf("dosbox: find binary: %w", err)
	}

	version := "unknown"
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(pctx, path, "--version").CombinedOutput()
	if err == nil {
		if v := parseVersion(string(out)); v != "" {
			version = v
		}
	} else {
		log.G(ctx).WithError(err).Debug("dosbox --version failed, continuing")
	}

	e.mu.Lock()
	e.version = version
	e.mu.Unlock()

	log.G(ctx).WithFields(log.Fields{
		"binary":  path,
		"version": version,
	}).Info("dosbox engine ready")
	return nil
}

// parseVersion picks the first dotted number from a --version banner.
func parseVersion(out string) string {
	for _, f := range strings.Fields(out) {
		f = strings.TrimPrefix(strings.TrimSuffix(f, ","), "v")
		if strings.Count(f, ".") >= 1 && strings.Trim(f, "0123456789.-") == "" {
			return f
		}
	}
	return ""
}

func (e *Engine) Ready() bool {
	return e.readiness.Ready()
}

func (e *Engine) Info() engine.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.version
	if v == "" {
		v = "unknown"
	}
	return engine.Info{Name: "dosbox", Version: v}
}

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Mount:      true, // D: drive exchange directory
		Teardown:   true, // process reaped before the channel closes
		Fullscreen: true,
	}
}

// instance is an engine.Handle: a prepared directory tree for one session.
type instance struct {
	id  string
	dir string
	cfg engine.Config
}

func (i *instance) ID() string { return i.id }

func (e *Engine) Create(ctx context.Context, cfg *engine.Config) (engine.Handle, error) {
	if !e.Ready() {
		return nil, engine.ErrNotReady
	}
	c := engine.Config{}
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	id := strconv.FormatUint(e.nextID.Add(1), 10)
	dir := filepath.Join(e.opts.WorkDir, "instance-"+id)
	for _, sub := range []string{"c", "d"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("dosbox: create instance dir: %w", err)
		}
	}
	if err := writeConf(filepath.Join(dir, "localdos.conf"), &c); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("dosbox: write conf: %w", err)
	}

	inst := &instance{id: id, dir: dir, cfg: c}
	e.mu.Lock()
	e.instances[id] = inst
	e.mu.Unlock()

	log.G(ctx).WithFields(log.Fields{
		"instance": id,
		"target":   c.RenderTarget,
	}).Debug("dosbox instance created")
	return inst, nil
}

// args builds the DOSBox command line for booting res inside inst.
// booted reports whether the guest boots its own DOS from the image.
func (e *Engine) args(inst *instance, res engine.Resource) (args Arguments, booted bool, err error) {
	c := filepath.Join(inst.dir, "c")
	d := filepath.Join(inst.dir, "d")

	args.Add(ArgConf(filepath.Join(inst.dir, "localdos.conf")))

	switch res.Ext() {
	case ".img", ".ima":
		args.Add(
			ArgCommand("imgmount a "+quote(res.Path)+" -t floppy"),
			ArgCommand("boot a:"),
		)
		booted = true
	case ".zip", ".jsdos":
		conf, err := extractBundle(res.Path, c)
		if err != nil {
			return nil, false, err
		}
		if conf != "" {
			args.Add(ArgConf(conf))
		}
		args.Add(
			ArgCommand("mount c "+quote(c)),
			ArgCommand("mount d "+quote(d)),
			ArgCommand("c:"),
		)
	default:
		return nil, false, fmt.Errorf("dosbox: unsupported image type %q", res.Ext())
	}

	if inst.cfg.Fullscreen {
		args.Add(ArgFullscreen())
	}
	return args, booted, nil
}

// commandLine renders the full argv for res. ExtraArgs follow the generated
// arguments exactly as configured.
func (e *Engine) commandLine(inst *instance, res engine.Resource) ([]string, bool, error) {
	args, booted, err := e.args(inst, res)
	if err != nil {
		return nil, false, err
	}
	argv, err := args.Build()
	if err != nil {
		return nil, false, err
	}
	return append(argv, inst.cfg.ExtraArgs...), booted, nil
}

func (e *Engine) Load(ctx context.Context, h engine.Handle, res engine.Resource) (engine.Session, error) {
	if !e.Ready() {
		return nil, engine.ErrNotReady
	}
	if h == nil {
		return nil, engine.ErrUnknownHandle
	}
	e.mu.Lock()
	inst, ok := e.instances[h.ID()]
	delete(e.instances, h.ID())
	e.mu.Unlock()
	if !ok {
		return nil, engine.ErrUnknownHandle
	}

	argv, booted, err := e.commandLine(inst, res)
	if err != nil {
		os.RemoveAll(inst.dir)
		return nil, err
	}

	// The process outlives the load call, so it gets its own context. Log
	// fields from ctx are kept.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, e.opts.Binary, argv...)
	cmd.Dir = inst.dir
	cmd.Env = append(os.Environ(), e.opts.Env...)

	p := &process{
		id:     inst.id,
		inst:   inst,
		booted: booted,
		cancel: cancel,
		done:   make(chan struct{}),
		names:  make(nameTable),
		tail:   newTail(8),
	}
	if err := p.start(runCtx, cmd); err != nil {
		cancel()
		os.RemoveAll(inst.dir)
		return nil, fmt.Errorf("dosbox: start: %w", err)
	}

	logger := log.G(ctx).WithFields(log.Fields{
		"session": p.id,
		"image":   res.Name,
	})
	logger.WithField("args", strings.Join(argv, " ")).Debug("dosbox process started")

	timer := time.NewTimer(e.opts.StartupGrace)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-p.done:
		err := p.exitError()
		if err == nil {
			err = fmt.Errorf("%w: %s", engine.ErrSessionExited, p.tail)
		}
		return nil, fmt.Errorf("dosbox exited during startup: %w", err)
	case <-ctx.Done():
		cancel()
		<-p.done
		return nil, ctx.Err()
	}

	e.mu.Lock()
	e.sessions[p.id] = p
	e.mu.Unlock()

	go func() {
		<-p.done
		e.mu.Lock()
		delete(e.sessions, p.id)
		e.mu.Unlock()
		if err := p.exitError(); err != nil && !p.terminated() {
			logger.WithError(err).Warn("dosbox session exited")
		} else {
			logger.Info("dosbox session ended")
		}
	}()

	logger.Info("dosbox session running")
	return p, nil
}

func (e *Engine) Terminate(s engine.Session) (<-chan struct{}, error) {
	p, ok := s.(*process)
	if !ok || p == nil {
		return nil, engine.ErrUnknownSession
	}
	p.terminate()
	return p.done, nil
}

// Mount copies data into the session's D: directory under a unique 8.3
// name. DOSBox caches host directory listings, so a guest that already
// listed D: needs RESCAN to see the file.
func (e *Engine) Mount(ctx context.Context, s engine.Session, name string, data []byte) error {
	p, ok := s.(*process)
	if !ok || p == nil {
		return engine.ErrUnknownSession
	}
	select {
	case <-p.done:
		return engine.ErrSessionExited
	default:
	}
	if p.booted {
		return ErrMountUnsupported
	}

	p.mu.Lock()
	dosname := p.names.assign(name)
	p.mu.Unlock()

	path := filepath.Join(p.inst.dir, "d", dosname)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("dosbox: mount %s: %w", name, err)
	}

	log.G(ctx).WithFields(log.Fields{
		"session": p.id,
		"file":    name,
		"dosname": "D:\\" + dosname,
	}).Info("file mounted")
	return nil
}

// process is an engine.Session backed by a running DOSBox.
type process struct {
	id     string
	inst   *instance
	booted bool
	cancel context.CancelFunc
	done   chan struct{}
	tail   *tail

	mu     sync.Mutex
	names  nameTable
	err    error
	killed bool
}

func (p *process) ID() string { return p.id }

// start launches cmd and reaps it in the background. done is closed after
// the process exited and its instance directory was removed.
func (p *process) start(ctx context.Context, cmd *exec.Cmd) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	logger := log.G(ctx).WithField("session", p.id)
	var g errgroup.Group
	g.Go(func() error { return pump(stdout, logger.Debug, nil) })
	g.Go(func() error { return pump(stderr, logger.Debug, p.tail) })

	go func() {
		pumpErr := g.Wait()
		err := cmd.Wait()
		if err == nil && pumpErr != nil && !errors.Is(pumpErr, os.ErrClosed) {
			err = pumpErr
		}
		if rmErr := os.RemoveAll(p.inst.dir); rmErr != nil {
			logger.WithError(rmErr).Warn("failed to remove instance dir")
		}
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return nil
}

func (p *process) terminate() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.cancel()
}

func (p *process) terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// exitError returns the exit error enriched with the last stderr lines.
func (p *process) exitError() error {
	p.mu.Lock()
	err := p.err
	p.mu.Unlock()
	if err == nil {
		return nil
	}
	if lines := p.tail.String(); lines != "" {
		return fmt.Errorf("%w: %s", err, lines)
	}
	return err
}

// pump forwards output lines to logf and into t, if set.
func pump(r io.Reader, logf func(...interface{}), t *tail) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if t != nil {
			t.add(line)
		}
		logf(line)
	}
	return scanner.Err()
}

// tail keeps the last n lines written to it.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}

// Exited implements engine.Exiter.
func (p *process) Exited() <-chan struct{} { return p.done }
