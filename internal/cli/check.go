package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/javanstorm/localdos/internal/media"
	"github.com/javanstorm/localdos/internal/status"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>...",
	Short: "Check whether files can be used as boot images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkBootImages(cmd.OutOrStdout(), args)
	},
}

// checkBootImages prints one line per path and fails if any is unusable.
func checkBootImages(w io.Writer, paths []string) error {
	failed := 0
	for _, p := range paths {
		name := filepath.Base(p)
		if err := media.ValidateBootImage(p); err != nil {
			fmt.Fprintf(w, "FAIL  %s: %v\n", name, err)
			failed++
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			fmt.Fprintf(w, "FAIL  %s: %v\n", name, err)
			failed++
			continue
		}
		if fi.IsDir() {
			fmt.Fprintf(w, "FAIL  %s: is a directory\n", name)
			failed++
			continue
		}
		fmt.Fprintf(w, "OK    %s (%s)\n", name, status.FormatMB(fi.Size()))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) cannot be booted", failed, len(paths))
	}
	return nil
}
