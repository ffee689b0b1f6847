package session

import (
	"context"
	"errors"
	"testing"
	"time"

	events "github.com/docker/go-events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/javanstorm/localdos/internal/media"
	"github.com/javanstorm/localdos/internal/status"
	"github.com/javanstorm/localdos/internal/testutil"
	"github.com/javanstorm/localdos/pkg/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

func newController(t *testing.T, eng *testutil.FakeEngine, mods ...func(*Options)) *Controller {
	t.Helper()

	opts := Options{
		Engine:  eng,
		WorkDir: t.TempDir(),
		Progress: ProgressOptions{
			Interval: 5 * time.Millisecond,
		},
		Restart: RestartOptions{
			Delay:           10 * time.Millisecond,
			TeardownTimeout: 5 * time.Second,
		},
	}
	for _, mod := range mods {
		mod(&opts)
	}

	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c
}

// startRunning boots blob and waits until the session is up.
func startRunning(t *testing.T, c *Controller, boot media.Blob) {
	t.Helper()

	c.SetBootImage(boot)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))
	require.Equal(t, StateRunning, c.State())
}

// nextStatus reads events until one matches.
func nextStatus(t *testing.T, ch *events.Channel, match func(status.Status) bool) status.Status {
	t.Helper()

	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-ch.C:
			if se, ok := ev.(StateEvent); ok && match(se.Status) {
				return se.Status
			}
		case <-timeout:
			t.Fatal("timed out waiting for status event")
			return status.Status{}
		}
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no engine", Options{}},
		{"progress cap 100", Options{Engine: testutil.NewFakeEngine(), Progress: ProgressOptions{Cap: 100}}},
		{"negative cap", Options{Engine: testutil.NewFakeEngine(), Progress: ProgressOptions{Cap: -1}}},
		{"bad memory", Options{Engine: testutil.NewFakeEngine(), EngineConfig: engine.Config{MemoryMB: 99}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}

	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestStartWithoutBootImage(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)

	err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrNoBootImage)

	var perr *PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "start", perr.Op)

	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, eng.Loads())
	assert.Equal(t, LevelWarning, c.Snapshot().LastNotice.Level)
}

func TestStartEngineNotReady(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.SetReady(false)
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	require.ErrorIs(t, c.Start(context.Background()), ErrEngineNotReady)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, eng.Creates())
}

func TestStartRunsAndMountsInOrder(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng, func(o *Options) {
		o.EngineConfig = engine.Config{Machine: "svga_s3"}
	})

	c.AddFiles(testutil.Blob("A.TXT", 1), testutil.Blob("B.TXT", 2), testutil.Blob("C.TXT", 3))
	boot := testutil.Blob("GAME.IMG", 1024)
	startRunning(t, c, boot)

	assert.Equal(t, 100, c.Progress())
	assert.Equal(t, []string{"fake-1:A.TXT", "fake-1:B.TXT", "fake-1:C.TXT"}, eng.Mounts())

	sessions := eng.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "GAME.IMG", sessions[0].Image)
	assert.Equal(t, boot.Data, sessions[0].Data)

	cfg := eng.LastConfig()
	assert.Equal(t, "svga_s3", cfg.Machine)
	assert.Equal(t, "localdos", cfg.RenderTarget)

	st := c.Snapshot()
	assert.True(t, st.Running)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "fake-1", st.SessionID)
	assert.Len(t, st.Files, 3)
}

func TestStartWhileLoadingIsBusy(t *testing.T) {
	eng := testutil.NewFakeEngine()
	release := eng.BlockLoads(false)
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateLoading, c.State())
	require.ErrorIs(t, c.Start(context.Background()), ErrBusy)

	release()
	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 1, eng.Loads())

	require.ErrorIs(t, c.Start(context.Background()), ErrBusy)
}

func TestProgressIsMonotonicAndCapped(t *testing.T) {
	eng := testutil.NewFakeEngine()
	release := eng.BlockLoads(false)
	defer release()
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	ch, sub, err := c.Channel(512)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return c.Progress() == DefaultProgressCap }, waitFor, time.Millisecond)
	require.Never(t, func() bool { return c.Progress() != DefaultProgressCap }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StateLoading, c.State())

	release()
	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, 100, c.Progress())

	last := -1
	nextStatus(t, ch, func(st status.Status) bool {
		assert.GreaterOrEqual(t, st.Progress, last, "progress went backwards")
		if st.Loading {
			assert.LessOrEqual(t, st.Progress, DefaultProgressCap)
		}
		last = st.Progress
		return st.Running
	})
	assert.Equal(t, 100, last)
}

func TestLoadFailureReturnsToIdle(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.FailLoads(testutil.ErrInjected)
	c := newController(t, eng)
	c.AddFiles(testutil.Blob("A.TXT", 1))
	c.SetBootImage(testutil.Blob("BROKEN.IMG", 64))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))

	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Progress())
	assert.Empty(t, eng.Mounts())

	var lerr *LoadError
	require.ErrorAs(t, c.LastError(), &lerr)
	assert.Equal(t, "BROKEN.IMG", lerr.Image)
	assert.ErrorIs(t, lerr, testutil.ErrInjected)

	notice := c.Snapshot().LastNotice
	require.NotNil(t, notice)
	assert.Equal(t, LevelError, notice.Level)
	assert.Contains(t, notice.Message, LoadFailureHint)

	// A failed load leaves the controller usable.
	eng.FailLoads(nil)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	assert.NoError(t, c.LastError())
}

func TestLoadPanicIsRecovered(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.PanicOnLoad(true)
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))

	assert.Equal(t, StateIdle, c.State())
	var lerr *LoadError
	require.ErrorAs(t, c.LastError(), &lerr)
	assert.Contains(t, lerr.Error(), "engine panic")
}

func TestLoadTimeout(t *testing.T) {
	eng := testutil.NewFakeEngine()
	release := eng.BlockLoads(true)
	c := newController(t, eng, func(o *Options) {
		o.LoadTimeout = 30 * time.Millisecond
	})
	c.SetBootImage(testutil.Blob("SLOW.IMG", 64))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	assert.ErrorIs(t, c.LastError(), context.DeadlineExceeded)

	// The late session is reaped once the engine returns it.
	release()
	require.Eventually(t, func() bool { return eng.Terminates() == 1 }, waitFor, time.Millisecond)
}

func TestStopDuringLoadIsQueued(t *testing.T) {
	eng := testutil.NewFakeEngine()
	release := eng.BlockLoads(false)
	c := newController(t, eng)
	c.AddFiles(testutil.Blob("A.TXT", 1))
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateLoading, c.State())

	release()
	require.NoError(t, c.WaitLoad(context.Background()))

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, eng.Terminates())
	assert.Empty(t, eng.Mounts())
	assert.Empty(t, c.Snapshot().SessionID)
}

func TestStopRunning(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Progress())
	assert.Equal(t, 1, eng.Terminates())

	// Stopping again is a no-op.
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 1, eng.Terminates())

	// The boot image survives a stop.
	_, ok := c.BootImage()
	assert.True(t, ok)
}

func TestStopTerminateErrorStillIdle(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	eng.FailTerminate(testutil.ErrInjected)
	err := c.Stop(context.Background())
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, LevelWarning, c.Snapshot().LastNotice.Level)
}

func TestRemoveBootImageStopsSession(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.RemoveBootImage(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, eng.Terminates())

	_, ok := c.BootImage()
	assert.False(t, ok)
	assert.Nil(t, c.Snapshot().BootImage)
	require.ErrorIs(t, c.Start(context.Background()), ErrNoBootImage)
}

func TestRemoveBootImageDuringLoad(t *testing.T) {
	eng := testutil.NewFakeEngine()
	release := eng.BlockLoads(false)
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.RemoveBootImage(context.Background()))
	release()
	require.NoError(t, c.WaitLoad(context.Background()))

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, eng.Terminates())
	_, ok := c.BootImage()
	assert.False(t, ok)
}

func TestSetBootImageReplaces(t *testing.T) {
	c := newController(t, testutil.NewFakeEngine())

	c.SetBootImage(testutil.Blob("FIRST.IMG", 10))
	c.SetBootImage(testutil.Blob("SECOND.ZIP", 20))

	b, ok := c.BootImage()
	require.True(t, ok)
	assert.Equal(t, "SECOND.ZIP", b.Name)
	assert.Equal(t, int64(20), c.Snapshot().BootImage.Size)
}

func TestRemoveFile(t *testing.T) {
	c := newController(t, testutil.NewFakeEngine())
	c.AddFiles(testutil.Blob("A", 1), testutil.Blob("B", 1), testutil.Blob("C", 1))

	require.NoError(t, c.RemoveFile(1))
	names := func() []string {
		var out []string
		for _, f := range c.Files() {
			out = append(out, f.Name)
		}
		return out
	}
	assert.Equal(t, []string{"A", "C"}, names())

	require.ErrorIs(t, c.RemoveFile(5), media.ErrIndexOutOfRange)
	require.ErrorIs(t, c.RemoveFile(-1), media.ErrIndexOutOfRange)
	assert.Equal(t, []string{"A", "C"}, names())
}

func TestMountFailureIsNonFatal(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.FailMount("B.TXT", testutil.ErrInjected)
	c := newController(t, eng)

	ch, sub, err := c.Channel(512)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)

	c.AddFiles(testutil.Blob("A.TXT", 1), testutil.Blob("B.TXT", 1), testutil.Blob("C.TXT", 1))
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, []string{"fake-1:A.TXT", "fake-1:C.TXT"}, eng.Mounts())

	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-ch.C:
			ne, ok := ev.(NoticeEvent)
			if !ok || ne.Level != LevelWarning {
				continue
			}
			var merr *MountError
			require.ErrorAs(t, ne.Err, &merr)
			assert.Equal(t, "B.TXT", merr.File)
			return
		case <-timeout:
			t.Fatal("no mount warning published")
		}
	}
}

func TestAddFilesWhileRunningMounts(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	c.AddFiles(testutil.Blob("LATE.TXT", 4))
	require.Eventually(t, func() bool {
		m := eng.Mounts()
		return len(m) == 1 && m[0] == "fake-1:LATE.TXT"
	}, waitFor, time.Millisecond)
}

func TestNoMountCapability(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.SetCapabilities(engine.Capabilities{Teardown: true})
	c := newController(t, eng)
	c.AddFiles(testutil.Blob("A.TXT", 1))
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	c.AddFiles(testutil.Blob("B.TXT", 1))
	assert.Empty(t, eng.Mounts())
	assert.Len(t, c.Files(), 2)
}

func TestSessionExitReturnsIdle(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	eng.Sessions()[0].Exit()
	require.Eventually(t, func() bool { return c.State() == StateIdle }, waitFor, time.Millisecond)
	assert.Empty(t, c.Snapshot().SessionID)
	assert.Zero(t, eng.Terminates())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, "fake-2", c.Snapshot().SessionID)
}

func TestRestartWaitsForTeardown(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.HoldTeardown(true)
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Restart(context.Background()) }()

	require.Eventually(t, func() bool { return eng.Terminates() == 1 }, waitFor, time.Millisecond)
	require.Never(t, func() bool { return eng.Loads() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	eng.ReleaseTeardown()
	require.NoError(t, <-errCh)
	require.NoError(t, c.WaitLoad(context.Background()))

	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 2, eng.Loads())
	assert.Equal(t, "fake-2", c.Snapshot().SessionID)
}

func TestRestartWithoutTeardownUsesDelay(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.SetCapabilities(engine.Capabilities{Mount: true})
	c := newController(t, eng, func(o *Options) {
		o.Restart.Delay = 80 * time.Millisecond
	})
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	begin := time.Now()
	require.NoError(t, c.Restart(context.Background()))
	assert.GreaterOrEqual(t, time.Since(begin), 80*time.Millisecond)

	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 2, eng.Loads())
}

func TestRestartTeardownTimeout(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.HoldTeardown(true)
	c := newController(t, eng, func(o *Options) {
		o.Restart.TeardownTimeout = 30 * time.Millisecond
	})
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Restart(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	eng.ReleaseTeardown()
}

func TestRestartFromIdleStarts(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Restart(context.Background()))
	require.NoError(t, c.WaitLoad(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	assert.Zero(t, eng.Terminates())
}

func TestRestartEventSequence(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	ch, sub, err := c.Channel(512)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)

	require.NoError(t, c.Restart(context.Background()))

	var states []string
	nextStatus(t, ch, func(st status.Status) bool {
		if len(states) == 0 || states[len(states)-1] != st.State {
			states = append(states, st.State)
		}
		return st.SessionID == "fake-2"
	})
	assert.Equal(t, []string{"running", "idle", "loading", "running"}, states)
}

func TestCloseDuringLoad(t *testing.T) {
	eng := testutil.NewFakeEngine()
	release := eng.BlockLoads(false)
	defer release()
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("GAME.IMG", 64))

	ch, _, err := c.Channel(512)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	assert.Equal(t, StateIdle, c.State())
	require.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	_, _, err = c.Channel(1)
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-ch.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription not closed")
	}
}

func TestCloseDoesNotWaitForStuckLoad(t *testing.T) {
	eng := testutil.NewFakeEngine()
	release := eng.BlockLoads(true)
	c := newController(t, eng)
	c.SetBootImage(testutil.Blob("HANG.IMG", 64))
	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	closed := make(chan error, 1)
	go func() { closed <- c.Close(ctx) }()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		release()
		t.Fatal("Close blocked on a load that ignores cancellation")
	}
	assert.Equal(t, StateIdle, c.State())

	// The session the engine hands back late is still reaped.
	release()
	require.Eventually(t, func() bool { return eng.Terminates() == 1 }, waitFor, time.Millisecond)
}

func TestCloseStopsRunningSession(t *testing.T) {
	eng := testutil.NewFakeEngine()
	c := newController(t, eng)
	startRunning(t, c, testutil.Blob("GAME.IMG", 64))

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, eng.Terminates())
	require.NoError(t, c.Close(context.Background()))
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateLoading, "loading"},
		{StateRunning, "running"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String(), "State(%d)", tt.state)
	}
}

func TestErrorMessages(t *testing.T) {
	perr := &PreconditionError{Op: "start", Reason: ErrNoBootImage}
	assert.Equal(t, "cannot start: no boot image loaded", perr.Error())

	lerr := &LoadError{Image: "X.IMG", Err: errors.New("bad sector")}
	assert.Equal(t, "failed to start emulator with X.IMG: bad sector", lerr.Error())

	merr := &MountError{File: "A.TXT", Err: errors.New("full")}
	assert.Equal(t, "mount A.TXT: full", merr.Error())
}
