package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/javanstorm/localdos/pkg/engine"
)

// ErrInjected is the default error used by failure injection helpers.
var ErrInjected = errors.New("injected failure")

// FakeEngine is a scripted engine.Engine for controller and front-end tests.
type FakeEngine struct {
	mu sync.Mutex

	ready bool
	caps  engine.Capabilities

	loadErr      error
	panicOnLoad  bool
	gate         chan struct{}
	ignoreCtx    bool
	mountErrs    map[string]error
	holdTeardown bool
	teardowns    []chan struct{}
	terminateErr error

	nextID     int
	creates    int
	loads      int
	terminates int
	mounts     []string
	sessions   []*FakeSession
	lastConfig engine.Config
}

// NewFakeEngine returns a ready engine that supports mounts and confirms
// teardown.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		ready:     true,
		caps:      engine.Capabilities{Mount: true, Teardown: true},
		mountErrs: make(map[string]error),
	}
}

// FakeSession is the session type returned by FakeEngine.
type FakeSession struct {
	id     string
	Image  string
	Data   []byte
	exited chan struct{}
	once   sync.Once
}

func (s *FakeSession) ID() string { return s.id }

// Exited implements engine.Exiter.
func (s *FakeSession) Exited() <-chan struct{} { return s.exited }

// Exit ends the session as if the user closed the emulator window.
func (s *FakeSession) Exit() {
	s.once.Do(func() { close(s.exited) })
}

type fakeHandle string

func (h fakeHandle) ID() string { return string(h) }

// SetReady sets the readiness flag.
func (f *FakeEngine) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

// SetCapabilities replaces the advertised capabilities.
func (f *FakeEngine) SetCapabilities(caps engine.Capabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = caps
}

// FailLoads makes every Load return err until called again with nil.
func (f *FakeEngine) FailLoads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
}

// PanicOnLoad makes Load panic.
func (f *FakeEngine) PanicOnLoad(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicOnLoad = v
}

// BlockLoads makes Load wait until the returned release func is called.
// With ignoreCtx set, Load also ignores context cancellation.
func (f *FakeEngine) BlockLoads(ignoreCtx bool) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	f.ignoreCtx = ignoreCtx
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// FailMount makes Mount of name return err.
func (f *FakeEngine) FailMount(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mountErrs[name] = err
}

// FailTerminate makes Terminate return err.
func (f *FakeEngine) FailTerminate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateErr = err
}

// HoldTeardown keeps teardown channels open until ReleaseTeardown.
func (f *FakeEngine) HoldTeardown(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdTeardown = hold
}

// ReleaseTeardown confirms every held teardown.
func (f *FakeEngine) ReleaseTeardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.teardowns {
		close(ch)
	}
	f.teardowns = nil
}

// Ready implements engine.Engine.
func (f *FakeEngine) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// Info implements engine.Engine.
func (f *FakeEngine) Info() engine.Info {
	return engine.Info{Name: "fake", Version: "1.0"}
}

// Capabilities implements engine.Engine.
func (f *FakeEngine) Capabilities() engine.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps
}

// Create implements engine.Engine.
func (f *FakeEngine) Create(ctx context.Context, cfg *engine.Config) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.lastConfig = *cfg
	return fakeHandle(fmt.Sprintf("handle-%d", f.creates)), nil
}

// Load implements engine.Engine.
func (f *FakeEngine) Load(ctx context.Context, h engine.Handle, res engine.Resource) (engine.Session, error) {
	f.mu.Lock()
	f.loads++
	gate, ignoreCtx := f.gate, f.ignoreCtx
	f.mu.Unlock()

	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnLoad {
		panic("fake engine exploded")
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		return nil, fmt.Errorf("read resource: %w", err)
	}
	f.nextID++
	s := &FakeSession{
		id:     fmt.Sprintf("fake-%d", f.nextID),
		Image:  res.Name,
		Data:   data,
		exited: make(chan struct{}),
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Terminate implements engine.Engine.
func (f *FakeEngine) Terminate(s engine.Session) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++

	fs, ok := s.(*FakeSession)
	if !ok {
		return nil, engine.ErrUnknownSession
	}
	fs.Exit()
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	if !f.caps.Teardown {
		return nil, nil
	}
	ch := make(chan struct{})
	if f.holdTeardown {
		f.teardowns = append(f.teardowns, ch)
	} else {
		close(ch)
	}
	return ch, nil
}

// Mount implements engine.Engine.
func (f *FakeEngine) Mount(ctx context.Context, s engine.Session, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.mountErrs[name]; ok {
		return err
	}
	f.mounts = append(f.mounts, s.ID()+":"+name)
	return nil
}

// Creates returns how many instances were created.
func (f *FakeEngine) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// Loads returns how many loads were started.
func (f *FakeEngine) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// Terminates returns how many sessions were terminated.
func (f *FakeEngine) Terminates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminates
}

// Mounts returns the successful mounts as "session:name" in call order.
func (f *FakeEngine) Mounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mounts...)
}

// Sessions returns every session created so far.
func (f *FakeEngine) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.sessions...)
}

// LastConfig returns the config passed to the latest Create.
func (f *FakeEngine) LastConfig() engine.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastConfig
}

var _ engine.Engine = (*FakeEngine)(nil)
var _ engine.Exiter = (*FakeSession)(nil)
