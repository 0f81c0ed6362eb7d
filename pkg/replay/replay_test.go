package replay

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/registry"
	"github.com/willibrandon/dyno/pkg/sysalloc"
	"github.com/willibrandon/dyno/pkg/tracker"
)

func testEvents() []recorder.Event {
	return []recorder.Event{
		{ID: 1, Type: recorder.Allocation, Address: 0x1000, Size: 16},
		{ID: 2, Type: recorder.Allocation, Address: 0x2000, Size: 32},
		{ID: 3, Type: recorder.Allocation, Address: 0x3000, Size: 48},
		{ID: 4, Type: recorder.Deallocation, Address: 0x1000, Size: 16},
		{ID: 5, Type: recorder.Deallocation, Address: 0x3000, Size: 48},
	}
}

func TestBasicReplayerLoading(t *testing.T) {
	replayer := NewBasicReplayer()

	events := testEvents()
	if err := replayer.LoadEvents(events); err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}

	if replayer.CurrentIndex() != -1 {
		t.Errorf("Expected current index to be -1, got %d", replayer.CurrentIndex())
	}
	if len(replayer.Events()) != len(events) {
		t.Errorf("Expected %d events, got %d", len(events), len(replayer.Events()))
	}
	if string(replayer.Render()) != "[\n]\n" {
		t.Errorf("Expected an empty render before the first event, got %q", replayer.Render())
	}
}

func TestReplayToEventIndex(t *testing.T) {
	replayer := NewBasicReplayer()
	replayer.LoadEvents(testEvents())

	if err := replayer.ReplayToEventIndex(3); err != nil {
		t.Fatalf("Failed to replay to event index: %v", err)
	}
	// A at 0, B at 1, C at 2; freeing A moves C into slot 0.
	want := []registry.Record{{Address: 0x3000, Size: 48}, {Address: 0x2000, Size: 32}}
	if got := replayer.Live(); !equalRecords(got, want) {
		t.Errorf("Live() = %v, want %v", got, want)
	}

	// Backward to index 1, then forward again.
	if err := replayer.ReplayToEventIndex(1); err != nil {
		t.Fatal(err)
	}
	want = []registry.Record{{Address: 0x1000, Size: 16}, {Address: 0x2000, Size: 32}}
	if got := replayer.Live(); !equalRecords(got, want) {
		t.Errorf("Live() = %v, want %v", got, want)
	}

	if err := replayer.ReplayToEventIndex(-5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
	}
	if err := replayer.ReplayToEventIndex(10); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
	}

	if err := replayer.ReplayToEventIndex(-1); err != nil {
		t.Fatal(err)
	}
	if len(replayer.Live()) != 0 {
		t.Errorf("Expected the empty state at -1, got %v", replayer.Live())
	}
}

func TestStepForwardAndBackward(t *testing.T) {
	replayer := NewBasicReplayer()
	replayer.LoadEvents(testEvents())

	if _, err := replayer.StepBackward(); !errors.Is(err, ErrAtBeginning) {
		t.Errorf("Expected ErrAtBeginning, got %v", err)
	}

	sizes := []int{1, 2, 3, 2, 1}
	for i, want := range sizes {
		idx, err := replayer.StepForward()
		if err != nil {
			t.Fatalf("StepForward at %d: %v", i, err)
		}
		if idx != i {
			t.Errorf("Expected index %d, got %d", i, idx)
		}
		if got := len(replayer.Live()); got != want {
			t.Errorf("After event %d expected %d live, got %d", i, want, got)
		}
	}
	if _, err := replayer.StepForward(); !errors.Is(err, ErrAtEnd) {
		t.Errorf("Expected ErrAtEnd, got %v", err)
	}

	for i := len(sizes) - 2; i >= 0; i-- {
		idx, err := replayer.StepBackward()
		if err != nil {
			t.Fatalf("StepBackward: %v", err)
		}
		if idx != i {
			t.Errorf("Expected index %d, got %d", i, idx)
		}
		if got := len(replayer.Live()); got != sizes[i] {
			t.Errorf("At %d expected %d live, got %d", i, sizes[i], got)
		}
	}
	idx, err := replayer.StepBackward()
	if err != nil || idx != -1 {
		t.Errorf("Expected to step back to -1, got %d, %v", idx, err)
	}
}

func TestReplayUntilBreakpoint(t *testing.T) {
	replayer := NewBasicReplayer()
	replayer.LoadEvents(testEvents())

	isFree := func(e recorder.Event) bool { return e.Type == recorder.Deallocation }

	hit, err := replayer.ReplayUntilBreakpoint(isFree)
	if err != nil {
		t.Fatalf("Failed to replay until breakpoint: %v", err)
	}
	if !hit || replayer.CurrentIndex() != 3 {
		t.Errorf("Expected a hit at index 3, got %v at %d", hit, replayer.CurrentIndex())
	}

	hit, _ = replayer.ReplayUntilBreakpoint(isFree)
	if !hit || replayer.CurrentIndex() != 4 {
		t.Errorf("Expected a hit at index 4, got %v at %d", hit, replayer.CurrentIndex())
	}

	hit, _ = replayer.ReplayUntilBreakpoint(isFree)
	if hit {
		t.Error("Expected no further hits")
	}

	replayer.ReplayToEventIndex(-1)
	if err := replayer.ReplayForward(); err != nil {
		t.Fatal(err)
	}
	if replayer.CurrentIndex() != 4 {
		t.Errorf("Expected ReplayForward to stop at the last event, got %d", replayer.CurrentIndex())
	}
}

func TestEmptyReplay(t *testing.T) {
	replayer := NewBasicReplayer()
	replayer.LoadEvents(nil)

	if err := replayer.ReplayForward(); err != nil {
		t.Errorf("ReplayForward on no events: %v", err)
	}
	if _, err := replayer.StepForward(); !errors.Is(err, ErrAtEnd) {
		t.Errorf("Expected ErrAtEnd, got %v", err)
	}
	if _, ok := replayer.Current(); ok {
		t.Error("Expected no current event")
	}
}

func TestSessionBoundaryResetsState(t *testing.T) {
	events := append(testEvents()[:2],
		recorder.Event{ID: 1, Type: recorder.Allocation, Address: 0x9000, Size: 8},
	)
	replayer := NewBasicReplayer()
	replayer.LoadEvents(events)
	replayer.ReplayForward()

	want := []registry.Record{{Address: 0x9000, Size: 8}}
	if got := replayer.Live(); !equalRecords(got, want) {
		t.Errorf("Live() = %v, want %v", got, want)
	}
}

// TestReplayMatchesSnapshotFile checks that the rebuilt state at every event
// renders exactly as the file the tracker wrote when that event happened.
func TestReplayMatchesSnapshotFile(t *testing.T) {
	for _, interval := range []int{0, 7} {
		path := filepath.Join(t.TempDir(), "mem.txt")
		rec := recorder.NewInMemoryRecorder()

		var files [][]byte
		capture := tracker.ObserverFunc(func(recorder.Event) {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			files = append(files, data)
		})

		tr, err := tracker.New(
			tracker.WithPath(path),
			tracker.WithBackend(sysalloc.NewManual()),
			tracker.WithLogger(zerolog.Nop()),
			tracker.WithRecorder(rec),
			tracker.WithObserver(capture),
			tracker.WithCheckpointInterval(interval),
		)
		if err != nil {
			t.Fatal(err)
		}

		rng := rand.New(rand.NewSource(int64(interval) + 1))
		var live [][]byte
		for i := 0; i < 200; i++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				k := rng.Intn(len(live))
				if err := tr.Free(live[k]); err != nil {
					t.Fatal(err)
				}
				live = append(live[:k], live[k+1:]...)
				continue
			}
			b, err := tr.Allocate(rng.Intn(256))
			if err != nil {
				t.Fatal(err)
			}
			live = append(live, b)
		}

		events := rec.GetEvents()
		if len(events) != len(files) {
			t.Fatalf("Captured %d files for %d events", len(files), len(events))
		}

		// Use a small cache so backward jumps exercise checkpoints and replays.
		replayer, err := NewBasicReplayerWithCache(4)
		if err != nil {
			t.Fatal(err)
		}
		replayer.LoadEvents(events)
		if interval > 0 && replayer.Checkpoints() == 0 {
			t.Error("Expected checkpoint events in the journal")
		}

		for _, i := range append(rng.Perm(len(events)), len(events)-1) {
			if err := replayer.ReplayToEventIndex(i); err != nil {
				t.Fatal(err)
			}
			if got := string(replayer.Render()); got != string(files[i]) {
				t.Fatalf("interval %d, event %d: replay render\n%s\nwant\n%s", interval, i, got, files[i])
			}
		}
		tr.Close()
	}
}

func equalRecords(a, b []registry.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
