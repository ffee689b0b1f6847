// Package testutil provides common test helpers for localdos tests.
package testutil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/javanstorm/localdos/internal/media"
)

// Blob returns a blob of size deterministic bytes.
func Blob(name string, size int) media.Blob {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return media.Blob{Name: name, Data: data}
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// CreateTestImage creates a zero-filled floppy image of sizeKB at path.
// The file is sparse, so it doesn't actually allocate the space.
func CreateTestImage(t *testing.T, path string, sizeKB int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image at %s: %v", path, err)
	}
	defer f.Close()

	if err := f.Truncate(sizeKB * 1024); err != nil {
		t.Fatalf("failed to truncate test image to %d KB: %v", sizeKB, err)
	}
}

// CreateTestBundle writes a zip archive holding files (name to contents)
// and returns its bytes.
func CreateTestBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create bundle: %v", err)
	}

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to add %s to bundle: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("failed to write %s to bundle: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish bundle: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close bundle: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read bundle: %v", err)
	}
	return data
}
