package recorder

import (
	"fmt"
	"time"

	"github.com/willibrandon/dyno/pkg/registry"
)

// Checkpoint is a live set captured at a known event index, from which
// replay can move forward without starting over.
type Checkpoint struct {
	ID        int64
	Records   []registry.Record
	EventIdx  int
	Timestamp time.Time
}

// NewCheckpoint creates a checkpoint holding a copy of records.
func NewCheckpoint(records []registry.Record, eventIdx int) *Checkpoint {
	cp := make([]registry.Record, len(records))
	copy(cp, records)
	return &Checkpoint{
		ID:        time.Now().UnixNano(),
		Records:   cp,
		EventIdx:  eventIdx,
		Timestamp: time.Now(),
	}
}

// CheckpointFromEvent turns a snapshot event at index idx into a checkpoint.
// It returns nil for any other event type.
func CheckpointFromEvent(e Event, idx int) *Checkpoint {
	if e.Type != SnapshotEvent {
		return nil
	}
	return &Checkpoint{
		ID:        e.ID,
		Records:   e.Snapshot,
		EventIdx:  idx,
		Timestamp: e.Timestamp,
	}
}

// String returns a human-readable representation of the checkpoint
func (c *Checkpoint) String() string {
	return fmt.Sprintf("Checkpoint{ID: %d, EventIdx: %d, Live: %d, Time: %s}",
		c.ID, c.EventIdx, len(c.Records), c.Timestamp.Format(time.RFC3339))
}
