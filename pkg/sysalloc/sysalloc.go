// Package sysalloc provides the raw allocation primitives a tracker wraps.
package sysalloc

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"modernc.org/memory"
)

var (
	// ErrUnsupported is returned for a backend the platform cannot provide.
	ErrUnsupported = errors.New("sysalloc: backend not supported on this platform")

	// ErrUnknownBackend is returned by ByName for an unrecognised name.
	ErrUnknownBackend = errors.New("sysalloc: unknown backend")
)

// Allocator hands out and takes back byte slices.
//
// Free must be given a slice returned by Malloc, possibly resliced; the
// backing array's capacity identifies the block.
type Allocator interface {
	Malloc(size int) ([]byte, error)
	Free(b []byte) error
}

// Backend names accepted by ByName.
const (
	BackendManual = "manual"
	BackendMmap   = "mmap"
	BackendGo     = "go"
)

// ByName returns a fresh allocator for the named backend.
func ByName(name string) (Allocator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendManual:
		return NewManual(), nil
	case BackendMmap:
		m, err := NewMmap()
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendGo:
		return NewGo(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// Address returns the address of b's backing array, or 0 for a slice with
// no backing array.
func Address(b []byte) uintptr {
	if cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Manual allocates outside the Go heap with modernc.org/memory. The GC
// never sees these blocks, so they cannot be moved or reclaimed behind the
// tracker's back.
type Manual struct {
	a memory.Allocator
}

// NewManual returns an empty manual allocator.
func NewManual() *Manual {
	return &Manual{}
}

// Malloc returns size bytes of uninitialised memory.
func (m *Manual) Malloc(size int) ([]byte, error) {
	b, err := m.a.Malloc(size)
	if err != nil {
		return nil, fmt.Errorf("sysalloc: malloc %d: %w", size, err)
	}
	return b, nil
}

// Free returns b to the allocator.
func (m *Manual) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}
	if err := m.a.Free(b[:cap(b)]); err != nil {
		return fmt.Errorf("sysalloc: free %#x: %w", Address(b), err)
	}
	return nil
}

// Close releases every block still held, including ones never freed.
func (m *Manual) Close() error {
	return m.a.Close()
}

// Go allocates on the Go heap. Free is a no-op; memory is reclaimed by the
// GC once the caller drops it.
type Go struct{}

// NewGo returns a Go heap allocator.
func NewGo() *Go { return &Go{} }

// Malloc returns size zeroed bytes.
func (*Go) Malloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Free does nothing.
func (*Go) Free([]byte) error { return nil }
