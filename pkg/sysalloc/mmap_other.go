//go:build !unix

package sysalloc

// Mmap is unavailable off unix.
type Mmap struct{}

// NewMmap always fails with ErrUnsupported.
func NewMmap() (*Mmap, error) {
	return nil, ErrUnsupported
}

func (*Mmap) Malloc(int) ([]byte, error) { return nil, ErrUnsupported }

func (*Mmap) Free([]byte) error { return ErrUnsupported }
