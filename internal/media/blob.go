// Package media holds the user-supplied files of a session: the boot image
// selector and the auxiliary file staging list.
package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Blob is a named chunk of bytes picked by the user.
type Blob struct {
	Name string
	Data []byte
}

// Size returns the byte length of the blob.
func (b Blob) Size() int64 {
	return int64(len(b.Data))
}

// Reader returns a reader over the blob contents.
func (b Blob) Reader() io.Reader {
	return bytes.NewReader(b.Data)
}

// ReadFile loads a host file into a Blob named after its base name.
func ReadFile(path string) (Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Blob{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return Blob{Name: filepath.Base(path), Data: data}, nil
}

// FromReader drains r into a Blob.
func FromReader(name string, r io.Reader) (Blob, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Blob{}, fmt.Errorf("read %s: %w", name, err)
	}
	return Blob{Name: name, Data: data}, nil
}
