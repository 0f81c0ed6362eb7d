//go:build unix

package sysalloc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mmap gives every allocation its own anonymous private mapping. It suits
// large, long-lived blocks; small requests still cost a full page.
type Mmap struct{}

// NewMmap returns an mmap-backed allocator.
func NewMmap() (*Mmap, error) {
	return &Mmap{}, nil
}

// Malloc maps size bytes of zeroed memory.
func (*Mmap) Malloc(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("sysalloc: mmap %d: %w", size, err)
	}
	return b, nil
}

// Free unmaps b.
func (*Mmap) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b[:cap(b)]); err != nil {
		return fmt.Errorf("sysalloc: munmap %#x: %w", Address(b), err)
	}
	return nil
}
