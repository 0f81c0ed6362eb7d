// Package tracker wraps an allocator so that every allocate and free is
// recorded in a registry and the live set is rewritten to a snapshot file.
//
// The snapshot file is replaced, never appended to, on each operation, so it
// always shows the current live set rather than history. Failures to track
// or to write the file are reported through the logger and the error
// handler; they never turn a successful allocate or free into a failure.
//
// A Tracker serialises its operations with a mutex. Its registry and render
// buffer are fixed arrays inside the Tracker.
package tracker

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/registry"
	"github.com/willibrandon/dyno/pkg/sysalloc"
)

var (
	// ErrInvalidSize is returned for a negative allocation size.
	ErrInvalidSize = errors.New("tracker: invalid allocation size")

	// ErrClosed is returned by operations on a closed tracker.
	ErrClosed = errors.New("tracker: closed")
)

// Tracker is an allocation-tracking context.
type Tracker struct {
	mu sync.Mutex

	reg registry.Registry
	buf heapfile.Buffer
	// untracked holds blocks handed out while reg was full, so Free can
	// still tell them from blocks that were never allocated or already freed.
	untracked registry.Registry

	backend   sysalloc.Allocator
	path      string
	log       zerolog.Logger
	rec       recorder.Recorder
	observers []Observer
	onError   func(error)

	checkpointInterval int
	ops                int
	nextID             int64
	dropped            int
	closed             bool
}

// New returns a tracker with an empty live set and writes the empty
// snapshot. Unlike later writes, a failure here is returned so that a bad
// path is caught before any memory is handed out. The tracker owns the
// configured backend and recorder; New closes them when it fails.
func New(opts ...Option) (*Tracker, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backend == nil {
		cfg.backend = sysalloc.NewManual()
	}

	t := &Tracker{
		backend:            cfg.backend,
		path:               cfg.path,
		log:                cfg.logger,
		rec:                cfg.recorder,
		observers:          cfg.observers,
		onError:            cfg.onError,
		checkpointInterval: cfg.checkpointInterval,
	}

	if t.path != "" {
		out := heapfile.Render(t.buf[:0], t.reg.Snapshot())
		if err := heapfile.WriteFile(t.path, out); err != nil {
			if cerr := t.release(); cerr != nil {
				t.log.Warn().Err(cerr).Msg("release after failed start")
			}
			return nil, err
		}
	}
	return t, nil
}

// Allocate returns size bytes from the backend and records them as live.
// A zero size still yields a distinct address. When the registry is full
// the memory is returned untracked.
func (t *Tracker) Allocate(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	n := size
	if n == 0 {
		n = 1
	}
	b, err := t.backend.Malloc(n)
	if err != nil {
		return nil, fmt.Errorf("tracker: allocate %d bytes: %w", size, err)
	}
	b = b[:size]
	addr := sysalloc.Address(b)

	t.log.Debug().Str("address", formatAddress(addr)).Int("size", size).Msg("allocate")

	typ := recorder.Allocation
	before := t.reg.Len()
	if err := t.reg.Record(addr, uint64(size)); err != nil {
		typ = recorder.CapacityExceeded
		t.dropped++
		t.log.Warn().Err(err).
			Str("address", formatAddress(addr)).
			Int("size", size).
			Msg("allocation left untracked")
		t.report(err)
		if t.untracked.Record(addr, uint64(size)) != nil {
			t.log.Warn().Str("address", formatAddress(addr)).Msg("untracked block will not be returned to the backend")
		}
	} else if t.reg.Len() == before {
		t.log.Debug().Str("address", formatAddress(addr)).Msg("address already tracked")
	}

	t.writeSnapshot()
	t.emit(typ, addr, uint64(size))
	return b, nil
}

// Free returns b to the backend and drops it from the live set. Freeing a
// nil slice is a no-op. A block this tracker does not hold, one freed twice
// or never allocated here, is not passed to the backend.
func (t *Tracker) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	addr := sysalloc.Address(b)
	dropped := t.untracked.Contains(addr)
	if t.reg.Contains(addr) || dropped {
		if err := t.backend.Free(b); err != nil {
			return fmt.Errorf("tracker: free %s: %w", formatAddress(addr), err)
		}
		t.untracked.Release(addr)
		t.log.Debug().Str("address", formatAddress(addr)).Msg("free")
	} else {
		t.log.Debug().Str("address", formatAddress(addr)).Msg("free of unknown block ignored")
	}

	rec, _ := t.reg.Lookup(addr)
	t.reg.Release(addr)

	t.writeSnapshot()
	t.emit(recorder.Deallocation, addr, rec.Size)
	return nil
}

// Address returns the identity under which b is tracked.
func Address(b []byte) uintptr {
	return sysalloc.Address(b)
}

// Snapshot returns a copy of the live set in registry order.
func (t *Tracker) Snapshot() []registry.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Snapshot().Records()
}

// Render returns the current snapshot text.
func (t *Tracker) Render() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := heapfile.Render(t.buf[:0], t.reg.Snapshot())
	return append([]byte(nil), out...)
}

// Len returns the number of live tracked allocations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Len()
}

// LiveBytes returns the total size of live tracked allocations.
func (t *Tracker) LiveBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Snapshot().Bytes()
}

// Dropped returns how many allocations were left untracked because the
// registry was full.
func (t *Tracker) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Path returns the snapshot file path, empty when disabled.
func (t *Tracker) Path() string {
	return t.path
}

// Close closes the journal and the backend. Memory still held from a manual
// backend is released with it. Close is idempotent.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.release()
}

// release closes the journal and the backend.
func (t *Tracker) release() error {
	var errs []error
	if c, ok := t.rec.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tracker: close journal: %w", err))
		}
	}
	if c, ok := t.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tracker: close backend: %w", err))
		}
	}
	return errors.Join(errs...)
}

// writeSnapshot renders into the fixed buffer and replaces the file.
func (t *Tracker) writeSnapshot() {
	if t.path == "" {
		return
	}
	out := heapfile.Render(t.buf[:0], t.reg.Snapshot())
	if err := heapfile.WriteFile(t.path, out); err != nil {
		t.log.Error().Err(err).Str("path", t.path).Msg("snapshot write failed")
		t.report(err)
	}
}

func (t *Tracker) emit(typ recorder.EventType, addr uintptr, size uint64) {
	t.ops++
	t.publish(typ, addr, size, nil)

	if t.checkpointInterval > 0 && t.ops%t.checkpointInterval == 0 {
		t.publish(recorder.SnapshotEvent, 0, 0, t.reg.Snapshot().Records())
	}
}

func (t *Tracker) publish(typ recorder.EventType, addr uintptr, size uint64, snap []registry.Record) {
	if t.rec == nil && len(t.observers) == 0 {
		return
	}

	t.nextID++
	view := t.reg.Snapshot()
	e := recorder.Event{
		ID:        t.nextID,
		Timestamp: recorder.CurrentTime(),
		Type:      typ,
		Address:   addr,
		Size:      size,
		Live:      view.Len(),
		LiveBytes: view.Bytes(),
		Snapshot:  snap,
	}

	if t.rec != nil {
		if err := t.rec.RecordEvent(e); err != nil {
			t.log.Error().Err(err).Str("event", e.String()).Msg("journal write failed")
			t.report(err)
		}
	}
	for _, o := range t.observers {
		o.Observe(e)
	}
}

func (t *Tracker) report(err error) {
	if t.onError != nil {
		t.onError(err)
	}
}

func formatAddress(addr uintptr) string {
	return fmt.Sprintf("%#x", addr)
}
