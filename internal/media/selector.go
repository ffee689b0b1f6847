package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrIndexOutOfRange is returned when removing a file by a position that is
// not in the list. The list is left unchanged.
var ErrIndexOutOfRange = errors.New("file index out of range")

// BootTarget receives accepted boot images. The session controller
// implements it.
type BootTarget interface {
	SetBootImage(b Blob)
	RemoveBootImage(ctx context.Context) error
}

// FileTarget receives committed auxiliary files.
type FileTarget interface {
	AddFiles(bs ...Blob)
}

// BootSelector validates boot image candidates and forwards the accepted
// one to its target. It holds no state of its own; the target owns the
// current image.
type BootSelector struct {
	target BootTarget
}

// NewBootSelector creates a selector feeding target.
func NewBootSelector(target BootTarget) *BootSelector {
	return &BootSelector{target: target}
}

// Submit accepts b as the current boot image if its name has a supported
// extension. A rejected candidate leaves the current image untouched.
func (s *BootSelector) Submit(b Blob) error {
	if err := ValidateBootImage(b.Name); err != nil {
		return err
	}
	s.target.SetBootImage(b)
	return nil
}

// SubmitPath validates the name first so that unsupported files are never
// read.
func (s *BootSelector) SubmitPath(path string) error {
	if err := ValidateBootImage(path); err != nil {
		return err
	}
	b, err := ReadFile(path)
	if err != nil {
		return err
	}
	return s.Submit(b)
}

// Remove clears the current boot image, stopping any session that runs it.
func (s *BootSelector) Remove(ctx context.Context) error {
	return s.target.RemoveBootImage(ctx)
}

// Staging is the ordered list of auxiliary files picked but not yet handed
// to the controller.
type Staging struct {
	target FileTarget

	mu    sync.Mutex
	files []Blob
}

// NewStaging creates an empty staging list committing into target.
func NewStaging(target FileTarget) *Staging {
	return &Staging{target: target}
}

// Add appends files in the given order.
func (s *Staging) Add(bs ...Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, bs...)
}

// AddPaths reads and appends each path. Nothing is added if any read fails.
func (s *Staging) AddPaths(paths ...string) error {
	bs := make([]Blob, 0, len(paths))
	for _, p := range paths {
		b, err := ReadFile(p)
		if err != nil {
			return err
		}
		bs = append(bs, b)
	}
	s.Add(bs...)
	return nil
}

// Remove deletes the file at index.
func (s *Staging) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := RemoveAt(s.files, index)
	if err != nil {
		return err
	}
	s.files = files
	return nil
}

// Files returns a copy of the staged files.
func (s *Staging) Files() []Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Blob(nil), s.files...)
}

// Len returns the number of staged files.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Commit hands all staged files to the target and clears the list. It
// returns the number of files committed.
func (s *Staging) Commit() int {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	if len(files) == 0 {
		return 0
	}
	s.target.AddFiles(files...)
	return len(files)
}

// RemoveAt returns bs without the element at index. The input slice is not
// modified.
func RemoveAt(bs []Blob, index int) ([]Blob, error) {
	if index < 0 || index >= len(bs) {
		return bs, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(bs))
	}
	out := make([]Blob, 0, len(bs)-1)
	out = append(out, bs[:index]...)
	return append(out, bs[index+1:]...), nil
}
