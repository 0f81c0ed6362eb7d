package recorder

import (
	"fmt"
	"time"

	"github.com/willibrandon/dyno/pkg/registry"
)

// EventType identifies what a tracker did.
type EventType int

const (
	// Allocation is a tracked allocate.
	Allocation EventType = iota
	// Deallocation is a free, tracked or not.
	Deallocation
	// CapacityExceeded is an allocate that succeeded but could not be recorded.
	CapacityExceeded
	// SnapshotEvent carries the full live set at that point.
	SnapshotEvent
)

// Event is one journal entry. Live and LiveBytes describe the registry after
// the operation.
type Event struct {
	ID        int64             `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Address   uintptr           `json:"address,omitempty"`
	Size      uint64            `json:"size,omitempty"`
	Live      int               `json:"live"`
	LiveBytes uint64            `json:"live_bytes"`
	Snapshot  []registry.Record `json:"snapshot,omitempty"`
}

// CurrentTime returns the timestamp used for new events.
func CurrentTime() time.Time {
	return time.Now()
}

// String returns the string representation of the EventType
func (et EventType) String() string {
	switch et {
	case Allocation:
		return "Allocation"
	case Deallocation:
		return "Deallocation"
	case CapacityExceeded:
		return "CapacityExceeded"
	case SnapshotEvent:
		return "Snapshot"
	default:
		return "Unknown"
	}
}

// MarshalText writes the type by name so journals stay readable.
func (et EventType) MarshalText() ([]byte, error) {
	s := et.String()
	if s == "Unknown" {
		return nil, fmt.Errorf("recorder: unknown event type %d", int(et))
	}
	return []byte(s), nil
}

// UnmarshalText parses a name written by MarshalText.
func (et *EventType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Allocation":
		*et = Allocation
	case "Deallocation":
		*et = Deallocation
	case "CapacityExceeded":
		*et = CapacityExceeded
	case "Snapshot":
		*et = SnapshotEvent
	default:
		return fmt.Errorf("recorder: unknown event type %q", text)
	}
	return nil
}

// String renders an event on one line.
func (e Event) String() string {
	switch e.Type {
	case SnapshotEvent:
		return fmt.Sprintf("#%d %s live=%d bytes=%d", e.ID, e.Type, e.Live, e.LiveBytes)
	default:
		return fmt.Sprintf("#%d %s %#x size=%d live=%d bytes=%d",
			e.ID, e.Type, e.Address, e.Size, e.Live, e.LiveBytes)
	}
}
