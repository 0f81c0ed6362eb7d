// Package replay rebuilds the live set at any point of a recorded journal.
//
// The state at index i is the registry after applying events 0 through i;
// index -1 is the empty state before the first event. Rebuilding follows the
// tracker's own registry operations, so the rendered state at i matches the
// snapshot file the tracker wrote after event i.
package replay

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/registry"
)

// DefaultCacheSize is the number of rebuilt states kept by a BasicReplayer.
const DefaultCacheSize = 128

var (
	// ErrAtBeginning is returned when stepping back from the first state.
	ErrAtBeginning = errors.New("replay: already at the beginning")

	// ErrAtEnd is returned when stepping past the last event.
	ErrAtEnd = errors.New("replay: already at the end")

	// ErrIndexOutOfRange is returned for an index outside the loaded events.
	ErrIndexOutOfRange = errors.New("replay: event index out of range")
)

// Replayer interface defines methods for replaying recorded events
type Replayer interface {
	// LoadEvents loads recorded events and rewinds to the empty state
	LoadEvents([]recorder.Event) error

	// ReplayForward replays all events from the current position
	ReplayForward() error

	// ReplayUntilBreakpoint replays events until check reports a hit,
	// stopping on the matching event. It reports whether a hit occurred.
	ReplayUntilBreakpoint(check func(event recorder.Event) bool) (bool, error)

	// ReplayToEventIndex moves to the state after event idx
	ReplayToEventIndex(idx int) error

	// StepForward applies the next event and returns the new index
	StepForward() (int, error)

	// StepBackward undoes the current event and returns the new index
	StepBackward() (int, error)

	// CurrentIndex returns the current event index
	CurrentIndex() int

	// Events returns all loaded events
	Events() []recorder.Event

	// Live returns the live set at the current index
	Live() []registry.Record

	// Render returns the snapshot text of the current live set
	Render() []byte
}

// BasicReplayer implements the Replayer interface
type BasicReplayer struct {
	events      []recorder.Event
	checkpoints map[int]*recorder.Checkpoint
	currentIdx  int

	reg   registry.Registry
	buf   heapfile.Buffer
	cache *lru.Cache
}

// NewBasicReplayer creates a new BasicReplayer
func NewBasicReplayer() *BasicReplayer {
	r, err := NewBasicReplayerWithCache(DefaultCacheSize)
	if err != nil {
		// DefaultCacheSize is positive, lru.New cannot fail.
		panic(err)
	}
	return r
}

// NewBasicReplayerWithCache creates a BasicReplayer that keeps up to size
// rebuilt states.
func NewBasicReplayerWithCache(size int) (*BasicReplayer, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("replay: state cache: %w", err)
	}
	return &BasicReplayer{
		checkpoints: map[int]*recorder.Checkpoint{},
		currentIdx:  -1,
		cache:       cache,
	}, nil
}

// LoadEvents loads the given events into the replayer
func (r *BasicReplayer) LoadEvents(events []recorder.Event) error {
	r.events = events
	r.checkpoints = map[int]*recorder.Checkpoint{}
	for i, e := range events {
		if cp := recorder.CheckpointFromEvent(e, i); cp != nil {
			r.checkpoints[i] = cp
		}
	}
	r.cache.Purge()
	r.reg.Reset()
	r.currentIdx = -1
	return nil
}

// ReplayForward replays all events from current position to the end
func (r *BasicReplayer) ReplayForward() error {
	_, err := r.ReplayUntilBreakpoint(nil)
	return err
}

// ReplayUntilBreakpoint replays events until a breakpoint is hit.
// If check is nil, replay all events.
func (r *BasicReplayer) ReplayUntilBreakpoint(check func(event recorder.Event) bool) (bool, error) {
	for i := r.currentIdx + 1; i < len(r.events); i++ {
		r.apply(i)
		r.currentIdx = i
		if check != nil && check(r.events[i]) {
			r.remember()
			return true, nil
		}
	}
	r.remember()
	return false, nil
}

// ReplayToEventIndex moves to the state after event idx. An idx of -1 rewinds
// to the empty state.
func (r *BasicReplayer) ReplayToEventIndex(idx int) error {
	if idx < -1 || idx >= len(r.events) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, idx, len(r.events))
	}
	if idx == r.currentIdx {
		return nil
	}

	// Moving forward from the current state is cheapest.
	start := r.currentIdx
	if idx < r.currentIdx {
		start = r.restore(idx)
	}
	for i := start + 1; i <= idx; i++ {
		r.apply(i)
	}
	r.currentIdx = idx
	r.remember()
	return nil
}

// StepForward applies the next event
func (r *BasicReplayer) StepForward() (int, error) {
	if r.currentIdx+1 >= len(r.events) {
		return r.currentIdx, ErrAtEnd
	}
	r.apply(r.currentIdx + 1)
	r.currentIdx++
	r.remember()
	return r.currentIdx, nil
}

// StepBackward moves one step backward in the event log
func (r *BasicReplayer) StepBackward() (int, error) {
	if r.currentIdx < 0 {
		return r.currentIdx, ErrAtBeginning
	}
	if err := r.ReplayToEventIndex(r.currentIdx - 1); err != nil {
		return r.currentIdx, err
	}
	return r.currentIdx, nil
}

// CurrentIndex returns the current event index
func (r *BasicReplayer) CurrentIndex() int {
	return r.currentIdx
}

// Events returns all loaded events
func (r *BasicReplayer) Events() []recorder.Event {
	return r.events
}

// Current returns the event at the current index.
func (r *BasicReplayer) Current() (recorder.Event, bool) {
	if r.currentIdx < 0 || r.currentIdx >= len(r.events) {
		return recorder.Event{}, false
	}
	return r.events[r.currentIdx], true
}

// Checkpoints returns the number of checkpoint events loaded.
func (r *BasicReplayer) Checkpoints() int {
	return len(r.checkpoints)
}

// Live returns the live set at the current index
func (r *BasicReplayer) Live() []registry.Record {
	return r.reg.Snapshot().Records()
}

// Render returns the snapshot text of the current live set
func (r *BasicReplayer) Render() []byte {
	out := heapfile.Render(r.buf[:0], r.reg.Snapshot())
	return append([]byte(nil), out...)
}

// apply advances the working registry by event i.
func (r *BasicReplayer) apply(i int) {
	e := r.events[i]

	// IDs restart at 1 when a new tracker appends to the same journal.
	if i > 0 && e.ID == 1 {
		r.reg.Reset()
	}

	switch e.Type {
	case recorder.Allocation:
		r.reg.Record(e.Address, e.Size)
	case recorder.Deallocation:
		r.reg.Release(e.Address)
	case recorder.SnapshotEvent:
		r.reg.Reset()
		r.reg.Load(e.Snapshot)
	}
}

// restore loads the closest known state at or before idx into the working
// registry and returns its index.
func (r *BasicReplayer) restore(idx int) int {
	for j := idx; j >= 0; j-- {
		if v, ok := r.cache.Get(j); ok {
			r.reg.Reset()
			r.reg.Load(v.([]registry.Record))
			return j
		}
		if cp, ok := r.checkpoints[j]; ok {
			r.reg.Reset()
			r.reg.Load(cp.Records)
			return j
		}
		if j > 0 && r.events[j].ID == 1 {
			r.reg.Reset()
			return j - 1
		}
	}
	r.reg.Reset()
	return -1
}

func (r *BasicReplayer) remember() {
	if r.currentIdx >= 0 {
		r.cache.Add(r.currentIdx, r.reg.Snapshot().Records())
	}
}
