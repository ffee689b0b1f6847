package dosbox

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// bundleConf is where js-dos bundles keep their DOSBox configuration.
const bundleConf = ".jsdos/dosbox.conf"

// extractBundle unpacks a .zip or .jsdos archive into dir. It returns the
// path of the bundled dosbox.conf, or "" if the archive has none.
func extractBundle(archive, dir string) (string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	var conf string
	for _, f := range zr.File {
		dest := filepath.Join(root, filepath.FromSlash(f.Name))
		if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
			return "", fmt.Errorf("bundle entry %q escapes target directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return "", err
			}
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return "", fmt.Errorf("extract %s: %w", f.Name, err)
		}
		if strings.EqualFold(f.Name, bundleConf) {
			conf = dest
		}
	}

	return conf, nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
