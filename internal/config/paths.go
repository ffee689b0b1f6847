// Package config provides configuration management for localdos.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds platform-specific directory paths for localdos.
type Paths struct {
	// ConfigDir is the directory for configuration files.
	// macOS: ~/Library/Application Support/localdos
	// Linux: ~/.config/localdos (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir holds engine instances and materialised boot images.
	// All platforms: ~/.localdos
	DataDir string

	// ConfigFile is the path to the main config file.
	ConfigFile string

	// WorkDir is the default engine work directory.
	WorkDir string

	// DropDir is the default folder watched by the TUI for new files.
	DropDir string
}

// GetPaths returns platform-aware paths for localdos.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{
		DataDir: filepath.Join(home, ".localdos"),
	}

	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "localdos")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "localdos")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "localdos")
		}
	}

	p.ConfigFile = filepath.Join(p.DataDir, "config.yaml")
	p.WorkDir = filepath.Join(p.DataDir, "work")
	p.DropDir = filepath.Join(p.DataDir, "drop")

	return p, nil
}

// EnsureDirectories creates the config, data and work directories.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.WorkDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
