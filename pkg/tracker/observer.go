package tracker

import "github.com/willibrandon/dyno/pkg/recorder"

// Observer is told about every event after the snapshot file is written.
// It runs under the tracker's lock and must not call back into the tracker.
type Observer interface {
	Observe(e recorder.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(recorder.Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e recorder.Event) { f(e) }
