package dosbox

import (
	"fmt"
	"os"
	"strings"

	"github.com/javanstorm/localdos/pkg/engine"
)

// writeConf renders the instance configuration as a DOSBox .conf file.
func writeConf(path string, cfg *engine.Config) error {
	var b strings.Builder
	b.WriteString("[sdl]\n")
	fmt.Fprintf(&b, "fullscreen=%t\n", cfg.Fullscreen)
	b.WriteString("\n[dosbox]\n")
	// DOSBox-X adds title to the window caption; other builds skip the key.
	fmt.Fprintf(&b, "title=%s\n", cfg.RenderTarget)
	if cfg.Machine != "" {
		fmt.Fprintf(&b, "machine=%s\n", cfg.Machine)
	}
	if cfg.MemoryMB > 0 {
		fmt.Fprintf(&b, "memsize=%d\n", cfg.MemoryMB)
	}
	b.WriteString("\n[cpu]\n")
	fmt.Fprintf(&b, "cycles=%s\n", cfg.Cycles)

	return os.WriteFile(path, []byte(b.String()), 0644)
}
