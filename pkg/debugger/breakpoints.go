package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/willibrandon/dyno/pkg/recorder"
)

// BreakpointType defines the type of breakpoint
type BreakpointType int

const (
	// SizeBreakpoint breaks on events whose size satisfies a comparison
	SizeBreakpoint BreakpointType = iota
	// AddressBreakpoint breaks on events for one address
	AddressBreakpoint
	// EventTypeBreakpoint breaks at a specific event type
	EventTypeBreakpoint
)

func (t BreakpointType) String() string {
	switch t {
	case SizeBreakpoint:
		return "size"
	case AddressBreakpoint:
		return "addr"
	case EventTypeBreakpoint:
		return "type"
	}
	return "unknown"
}

// Breakpoint represents a heap event to stop at during replay
type Breakpoint struct {
	ID        int
	Type      BreakpointType
	Op        string             // For SizeBreakpoint: one of >=, <=, >, <, =
	Size      uint64             // For SizeBreakpoint
	Address   uintptr            // For AddressBreakpoint
	EventType recorder.EventType // For EventTypeBreakpoint
	Enabled   bool
	Hits      int
}

func (bp *Breakpoint) String() string {
	var cond string
	switch bp.Type {
	case SizeBreakpoint:
		cond = fmt.Sprintf("size%s%d", bp.Op, bp.Size)
	case AddressBreakpoint:
		cond = fmt.Sprintf("addr:%#x", bp.Address)
	case EventTypeBreakpoint:
		cond = "type:" + bp.EventType.String()
	}
	state := "enabled"
	if !bp.Enabled {
		state = "disabled"
	}
	return fmt.Sprintf("%d: %s (%s, %d hits)", bp.ID, cond, state, bp.Hits)
}

// Matches reports whether e satisfies the breakpoint condition, ignoring
// whether the breakpoint is enabled.
func (bp *Breakpoint) Matches(e recorder.Event) bool {
	switch bp.Type {
	case SizeBreakpoint:
		if e.Type != recorder.Allocation && e.Type != recorder.Deallocation && e.Type != recorder.CapacityExceeded {
			return false
		}
		return compareSize(bp.Op, e.Size, bp.Size)
	case AddressBreakpoint:
		return e.Address == bp.Address
	case EventTypeBreakpoint:
		return e.Type == bp.EventType
	}
	return false
}

func compareSize(op string, got, want uint64) bool {
	switch op {
	case ">=":
		return got >= want
	case "<=":
		return got <= want
	case ">":
		return got > want
	case "<":
		return got < want
	case "=", "==":
		return got == want
	}
	return false
}

// BreakpointManager manages breakpoints for the debugger
type BreakpointManager struct {
	breakpoints []*Breakpoint
	nextID      int
}

// NewBreakpointManager creates a new breakpoint manager
func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		breakpoints: make([]*Breakpoint, 0),
		nextID:      1,
	}
}

// eventAliases are the short names accepted after "type:".
var eventAliases = map[string]recorder.EventType{
	"alloc":      recorder.Allocation,
	"allocate":   recorder.Allocation,
	"free":       recorder.Deallocation,
	"capacity":   recorder.CapacityExceeded,
	"full":       recorder.CapacityExceeded,
	"checkpoint": recorder.SnapshotEvent,
	"snapshot":   recorder.SnapshotEvent,
}

// ParseBreakpoint parses a breakpoint condition of the form size>=N,
// addr:0xADDR or type:NAME.
func ParseBreakpoint(cond string) (*Breakpoint, error) {
	cond = strings.TrimSpace(cond)
	bp := &Breakpoint{Enabled: true}

	switch {
	case strings.HasPrefix(cond, "size"):
		rest := strings.TrimSpace(strings.TrimPrefix(cond, "size"))
		for _, op := range []string{">=", "<=", "==", ">", "<", "="} {
			if strings.HasPrefix(rest, op) {
				n, err := strconv.ParseUint(strings.TrimSpace(rest[len(op):]), 0, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid size in %q: %w", cond, err)
				}
				bp.Type = SizeBreakpoint
				bp.Op = op
				bp.Size = n
				return bp, nil
			}
		}
		return nil, fmt.Errorf("invalid size comparison: %s", cond)

	case strings.HasPrefix(cond, "addr:"):
		n, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(cond, "addr:")), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address in %q: %w", cond, err)
		}
		bp.Type = AddressBreakpoint
		bp.Address = uintptr(n)
		return bp, nil

	case strings.HasPrefix(cond, "type:"):
		name := strings.TrimSpace(strings.TrimPrefix(cond, "type:"))
		if et, ok := eventAliases[strings.ToLower(name)]; ok {
			bp.Type = EventTypeBreakpoint
			bp.EventType = et
			return bp, nil
		}
		var et recorder.EventType
		if err := et.UnmarshalText([]byte(name)); err != nil {
			return nil, fmt.Errorf("invalid event type %q", name)
		}
		bp.Type = EventTypeBreakpoint
		bp.EventType = et
		return bp, nil
	}

	return nil, fmt.Errorf("invalid breakpoint %q: want size>=N, addr:0xADDR or type:NAME", cond)
}

// AddBreakpoint parses cond and adds the resulting breakpoint
func (bm *BreakpointManager) AddBreakpoint(cond string) (*Breakpoint, error) {
	bp, err := ParseBreakpoint(cond)
	if err != nil {
		return nil, err
	}
	bp.ID = bm.nextID
	bm.nextID++
	bm.breakpoints = append(bm.breakpoints, bp)
	return bp, nil
}

// GetBreakpoints returns all breakpoints
func (bm *BreakpointManager) GetBreakpoints() []*Breakpoint {
	return bm.breakpoints
}

// RemoveBreakpoint removes a breakpoint by ID
func (bm *BreakpointManager) RemoveBreakpoint(id int) error {
	for i, bp := range bm.breakpoints {
		if bp.ID == id {
			bm.breakpoints = append(bm.breakpoints[:i], bm.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// EnableBreakpoint enables a breakpoint by ID
func (bm *BreakpointManager) EnableBreakpoint(id int) error {
	return bm.setEnabled(id, true)
}

// DisableBreakpoint disables a breakpoint by ID
func (bm *BreakpointManager) DisableBreakpoint(id int) error {
	return bm.setEnabled(id, false)
}

func (bm *BreakpointManager) setEnabled(id int, enabled bool) error {
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// CheckBreakpoint returns the first enabled breakpoint matching e and counts
// the hit.
func (bm *BreakpointManager) CheckBreakpoint(e recorder.Event) (*Breakpoint, bool) {
	for _, bp := range bm.breakpoints {
		if bp.Enabled && bp.Matches(e) {
			bp.Hits++
			return bp, true
		}
	}
	return nil, false
}
