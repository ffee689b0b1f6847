package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/localdos/internal/config"
	"github.com/javanstorm/localdos/internal/session"
	"github.com/javanstorm/localdos/internal/testutil"
	"github.com/javanstorm/localdos/internal/version"
)

func TestQuietMode(t *testing.T) {
	orig := quietMode
	defer func() { quietMode = orig }()

	var buf bytes.Buffer
	SetQuietMode(false)
	printIfNotQuiet(&buf, "hello %s\n", "dos")
	assert.Equal(t, "hello dos\n", buf.String())

	buf.Reset()
	SetQuietMode(true)
	printIfNotQuiet(&buf, "hello %s\n", "dos")
	assert.Empty(t, buf.String())
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Machine = "svga_s3"
	cfg.Cycles = "3000"
	cfg.MemoryMB = 32
	cfg.Fullscreen = true
	cfg.EngineArgs = []string{"-noautoexec"}

	ec := engineConfig(cfg)
	assert.Equal(t, "localdos", ec.RenderTarget)
	assert.Equal(t, "svga_s3", ec.Machine)
	assert.Equal(t, "3000", ec.Cycles)
	assert.Equal(t, 32, ec.MemoryMB)
	assert.True(t, ec.Fullscreen)
	assert.Equal(t, []string{"-noautoexec"}, ec.ExtraArgs)
}

func TestSessionOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ProgressStep = 5
	cfg.ProgressCap = 80
	cfg.RestartDelay = 2 * time.Second
	cfg.LoadTimeout = time.Minute

	t.Setenv("LOCALDOS_TIMING", "")
	opts := sessionOptions(context.Background(), cfg, testutil.NewFakeEngine())
	assert.Equal(t, 5, opts.Progress.Step)
	assert.Equal(t, 80, opts.Progress.Cap)
	assert.Equal(t, cfg.ProgressInterval, opts.Progress.Interval)
	assert.Equal(t, 2*time.Second, opts.Restart.Delay)
	assert.Equal(t, cfg.TeardownTimeout, opts.Restart.TeardownTimeout)
	assert.Equal(t, time.Minute, opts.LoadTimeout)
	assert.Nil(t, opts.TimingOutput)

	t.Setenv("LOCALDOS_TIMING", "1")
	opts = sessionOptions(context.Background(), cfg, testutil.NewFakeEngine())
	assert.NotNil(t, opts.TimingOutput)
}

func TestCheckConfig(t *testing.T) {
	fake := testutil.NewFakeEngine()

	var buf bytes.Buffer
	cfg := config.DefaultConfig()
	require.NoError(t, checkConfig(&buf, cfg, fake.Capabilities()))
	assert.Empty(t, buf.String())

	cfg.ProgressCap = 100
	err := checkConfig(&buf, cfg, fake.Capabilities())
	require.Error(t, err)
	assert.Contains(t, buf.String(), "ProgressCap")
}

func TestPreload(t *testing.T) {
	dir := t.TempDir()
	boot := filepath.Join(dir, "GAME.IMG")
	testutil.CreateTestImage(t, boot, 4)
	readme := testutil.WriteFile(t, dir, "README.TXT", []byte("hello"))
	save := testutil.WriteFile(t, dir, "SAVE.DAT", []byte{1, 2, 3})

	ctrl, err := session.New(session.Options{Engine: testutil.NewFakeEngine(), WorkDir: t.TempDir()})
	require.NoError(t, err)
	defer ctrl.Close(context.Background())

	require.NoError(t, preload(ctrl, []string{readme, boot, save}))

	img, ok := ctrl.BootImage()
	require.True(t, ok)
	assert.Equal(t, "GAME.IMG", img.Name)

	var names []string
	for _, f := range ctrl.Files() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"README.TXT", "SAVE.DAT"}, names)
}

func TestPreloadMissingFile(t *testing.T) {
	ctrl, err := session.New(session.Options{Engine: testutil.NewFakeEngine(), WorkDir: t.TempDir()})
	require.NoError(t, err)
	defer ctrl.Close(context.Background())

	err = preload(ctrl, []string{filepath.Join(t.TempDir(), "missing.txt")})
	require.Error(t, err)
	assert.Empty(t, ctrl.Files())
}

func TestCheckBootImages(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "disk.ima")
	testutil.CreateTestImage(t, good, 1440)
	bad := testutil.WriteFile(t, dir, "notes.txt", []byte("x"))
	missing := filepath.Join(dir, "gone.img")

	tests := []struct {
		name    string
		paths   []string
		wantErr bool
		want    []string
	}{
		{"good", []string{good}, false, []string{"OK    disk.ima (1.41 MB)"}},
		{"bad extension", []string{bad}, true, []string{"FAIL  notes.txt"}},
		{"missing", []string{missing}, true, []string{"FAIL  gone.img"}},
		{"mixed", []string{good, bad}, true, []string{"OK    disk.ima", "FAIL  notes.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := checkBootImages(&buf, tt.paths)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestPrintSettings(t *testing.T) {
	var buf bytes.Buffer
	printSettings(&buf, map[string]any{"cycles": "auto", "memory_mb": 16, "engine_binary": "dosbox"})
	assert.Equal(t, "cycles: auto\nengine_binary: dosbox\nmemory_mb: 16\n", buf.String())
}

func TestCRLF(t *testing.T) {
	assert.Equal(t, "a\nb\n", crlf("a\nb\n", "\n"))
	assert.Equal(t, "a\r\nb\r\n", crlf("a\nb\n", "\r\n"))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	require.NoError(t, Execute())
	assert.Equal(t, version.String(), strings.TrimSpace(buf.String()))
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"check", "config", "gui", "run", "start", "status", "tui", "version"}
	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestStartInputs(t *testing.T) {
	tests := []struct {
		name      string
		boot      string
		flagFiles []string
		args      []string
		wantBoot  string
		wantFiles []string
		wantErr   bool
	}{
		{"positional", "", nil, []string{"game.img", "a.txt", "b.dat"}, "game.img", []string{"a.txt", "b.dat"}, false},
		{"flag boot", "disk.ima", nil, []string{"a.txt"}, "disk.ima", []string{"a.txt"}, false},
		{"flag files first", "game.zip", []string{"x.cfg"}, []string{"y.dat"}, "game.zip", []string{"x.cfg", "y.dat"}, false},
		{"nothing", "", nil, nil, "", nil, true},
		{"bad boot", "", nil, []string{"readme.txt"}, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boot, files, err := startInputs(tt.boot, tt.flagFiles, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBoot, boot)
			assert.Equal(t, tt.wantFiles, files)
		})
	}
}
