package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all localdos configuration.
type Config struct {
	// EngineBinary is the DOSBox executable name or path.
	EngineBinary string `mapstructure:"engine_binary"`

	// EngineArgs are passed to the engine verbatim after the generated ones.
	EngineArgs []string `mapstructure:"engine_args"`

	// RenderTarget names the emulator window.
	RenderTarget string `mapstructure:"render_target"`

	// Machine is the emulated machine type. Empty keeps the engine default.
	Machine string `mapstructure:"machine"`

	// Cycles is the emulated CPU speed: auto, max, or a number.
	Cycles string `mapstructure:"cycles"`

	// MemoryMB is the emulated memory size (0 = engine default).
	MemoryMB int `mapstructure:"memory_mb"`

	Fullscreen bool `mapstructure:"fullscreen"`

	// StartupGrace is how long a fresh engine process must stay alive to
	// count as loaded.
	StartupGrace time.Duration `mapstructure:"startup_grace"`

	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ProgressStep     int           `mapstructure:"progress_step"`
	ProgressCap      int           `mapstructure:"progress_cap"`

	// RestartDelay is waited between stop and start when the engine cannot
	// confirm teardown.
	RestartDelay    time.Duration `mapstructure:"restart_delay"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout"`

	// LoadTimeout bounds a single load (0 = unbounded).
	LoadTimeout time.Duration `mapstructure:"load_timeout"`

	WorkDir string `mapstructure:"work_dir"`
	DropDir string `mapstructure:"drop_dir"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	paths, err := GetPaths()
	if err != nil {
		tmp := filepath.Join(os.TempDir(), "localdos")
		paths = &Paths{
			DataDir: tmp,
			WorkDir: filepath.Join(tmp, "work"),
			DropDir: filepath.Join(tmp, "drop"),
		}
	}

	return &Config{
		EngineBinary:     "dosbox",
		EngineArgs:       []string{},
		RenderTarget:     "localdos",
		Machine:          "",
		Cycles:           "auto",
		MemoryMB:         16,
		Fullscreen:       false,
		StartupGrace:     750 * time.Millisecond,
		ProgressInterval: 200 * time.Millisecond,
		ProgressStep:     10,
		ProgressCap:      90,
		RestartDelay:     time.Second,
		TeardownTimeout:  10 * time.Second,
		LoadTimeout:      0,
		WorkDir:          paths.WorkDir,
		DropDir:          paths.DropDir,
		LogLevel:         "info",
	}
}

// Global holds the loaded configuration.
var Global *Config

// Load reads configuration from file, environment, and defaults into Global.
func Load() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to determine paths: %w", err)
	}

	cfg, err := LoadFrom(viper.GetViper(), paths.DataDir, paths.ConfigDir)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// LoadFrom reads configuration through v, looking for config.yaml in dirs.
func LoadFrom(v *viper.Viper, dirs ...string) (*Config, error) {
	defaults := DefaultConfig()
	v.SetDefault("engine_binary", defaults.EngineBinary)
	v.SetDefault("engine_args", defaults.EngineArgs)
	v.SetDefault("render_target", defaults.RenderTarget)
	v.SetDefault("machine", defaults.Machine)
	v.SetDefault("cycles", defaults.Cycles)
	v.SetDefault("memory_mb", defaults.MemoryMB)
	v.SetDefault("fullscreen", defaults.Fullscreen)
	v.SetDefault("startup_grace", defaults.StartupGrace)
	v.SetDefault("progress_interval", defaults.ProgressInterval)
	v.SetDefault("progress_step", defaults.ProgressStep)
	v.SetDefault("progress_cap", defaults.ProgressCap)
	v.SetDefault("restart_delay", defaults.RestartDelay)
	v.SetDefault("teardown_timeout", defaults.TeardownTimeout)
	v.SetDefault("load_timeout", defaults.LoadTimeout)
	v.SetDefault("work_dir", defaults.WorkDir)
	v.SetDefault("drop_dir", defaults.DropDir)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	// LOCALDOS_ENGINE_BINARY, LOCALDOS_CYCLES, etc.
	v.SetEnvPrefix("LOCALDOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the path of the config file being used, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// Settings returns every effective key and value, for display.
func Settings() map[string]any {
	return viper.AllSettings()
}
