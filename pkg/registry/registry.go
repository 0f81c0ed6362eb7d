// Package registry keeps the set of live allocations in a fixed-size table.
//
// The table never grows: records live in an array embedded in the Registry,
// so bookkeeping never goes back through the allocator being tracked.
// Removal swaps the last record into the freed slot, which means iteration
// order is not allocation order once anything has been released.
package registry

import "errors"

// Capacity is the maximum number of live allocations a Registry can track.
const Capacity = 1024

// ErrCapacityExceeded is returned by Record when every slot is occupied.
var ErrCapacityExceeded = errors.New("registry: capacity exceeded")

// Record is one live allocation.
type Record struct {
	Address uintptr `json:"address" yaml:"address"`
	Size    uint64  `json:"size" yaml:"size"`
}

// Registry maps live allocation addresses to sizes.
//
// It is not safe for concurrent use.
type Registry struct {
	records [Capacity]Record
	count   int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Record adds a live allocation. An address that is already tracked is left
// as it is and nil is returned. When the table is full the registry is not
// modified and ErrCapacityExceeded is returned.
func (r *Registry) Record(addr uintptr, size uint64) error {
	if r.index(addr) >= 0 {
		return nil
	}
	if r.count == Capacity {
		return ErrCapacityExceeded
	}
	r.records[r.count] = Record{Address: addr, Size: size}
	r.count++
	return nil
}

// Release removes every record for addr and reports how many were removed.
// Releasing an untracked address is a no-op.
func (r *Registry) Release(addr uintptr) int {
	removed := 0
	for i := 0; i < r.count; {
		if r.records[i].Address != addr {
			i++
			continue
		}
		last := r.count - 1
		r.records[i] = r.records[last]
		r.records[last] = Record{}
		r.count--
		removed++
		// slot i now holds what was last; look at it again
	}
	return removed
}

// Contains reports whether addr is live.
func (r *Registry) Contains(addr uintptr) bool {
	return r.index(addr) >= 0
}

// Lookup returns the record for addr.
func (r *Registry) Lookup(addr uintptr) (Record, bool) {
	if i := r.index(addr); i >= 0 {
		return r.records[i], true
	}
	return Record{}, false
}

// Len returns the number of live records.
func (r *Registry) Len() int { return r.count }

// Cap returns the fixed capacity.
func (r *Registry) Cap() int { return Capacity }

// Reset drops every record.
func (r *Registry) Reset() {
	for i := 0; i < r.count; i++ {
		r.records[i] = Record{}
	}
	r.count = 0
}

// Load records each entry in order and returns the first error. Entries
// after a capacity failure are still attempted so that the registry ends up
// as full as it can be.
func (r *Registry) Load(records []Record) error {
	var firstErr error
	for _, rec := range records {
		if err := r.Record(rec.Address, rec.Size); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshot returns a read-only view over the live records in table order.
// The view aliases the registry and is only valid until the next mutation.
func (r *Registry) Snapshot() View {
	return View{records: r.records[:r.count:r.count]}
}

func (r *Registry) index(addr uintptr) int {
	for i := 0; i < r.count; i++ {
		if r.records[i].Address == addr {
			return i
		}
	}
	return -1
}
