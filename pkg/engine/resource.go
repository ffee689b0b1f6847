package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resource is a boot image materialised where the engine can load it.
type Resource struct {
	// Name is the original file name, including its extension.
	Name string
	// Path is the on-disk location of the bytes.
	Path string
}

// NewResource writes data into a fresh directory below dir and returns a
// Resource pointing at it. Release removes it again.
func NewResource(dir, name string, data []byte) (Resource, error) {
	if len(data) == 0 {
		return Resource{}, ErrEmptyResource
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Resource{}, fmt.Errorf("create resource dir: %w", err)
	}
	tmp, err := os.MkdirTemp(dir, "res-*")
	if err != nil {
		return Resource{}, fmt.Errorf("create resource dir: %w", err)
	}

	path := filepath.Join(tmp, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		os.RemoveAll(tmp)
		return Resource{}, fmt.Errorf("write resource: %w", err)
	}

	return Resource{Name: filepath.Base(name), Path: path}, nil
}

// Release deletes the resource from disk. Safe to call on a zero Resource.
func (r Resource) Release() error {
	if r.Path == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(r.Path)); err != nil {
		return fmt.Errorf("release resource: %w", err)
	}
	return nil
}

// Ext returns the lower-cased extension of the resource name.
func (r Resource) Ext() string {
	return strings.ToLower(filepath.Ext(r.Name))
}
