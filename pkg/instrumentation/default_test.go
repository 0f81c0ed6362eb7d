package instrumentation

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/willibrandon/dyno/pkg/heapfile"
)

func testOptions(t *testing.T) Options {
	o := DefaultOptions()
	o.MemFile = filepath.Join(t.TempDir(), heapfile.DefaultPath)
	o.LogLevel = zerolog.Disabled
	return o
}

func TestNewAndDelete(t *testing.T) {
	o := testOptions(t)
	if err := Init(o); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	b, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	recs, err := heapfile.ReadFile(o.MemFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 1 || recs[0].Size != 16 {
		t.Fatalf("Expected one 16-byte record, got %v", recs)
	}

	if err := Delete(b); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	recs, err = heapfile.ReadFile(o.MemFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("Expected an empty snapshot, got %v", recs)
	}
}

func TestFailedInitKeepsFailing(t *testing.T) {
	o := testOptions(t)
	o.MemFile = filepath.Join(t.TempDir(), "missing", heapfile.DefaultPath)
	o.Journal = filepath.Join(t.TempDir(), "heap.journal")
	if err := Init(o); err == nil {
		t.Fatal("Expected Init to fail for a missing directory")
	}
	defer Close()

	if b, err := New(16); err == nil {
		t.Fatalf("New after a failed Init returned %d untracked bytes", len(b))
	}
	if tr, err := Default(); err == nil || tr != nil {
		t.Fatalf("Default() = %v, %v; want the Init error", tr, err)
	}
	if err := Delete(make([]byte, 1)); err == nil {
		t.Error("Expected Delete to report the Init error")
	}

	// A successful Init clears the failure.
	good := testOptions(t)
	if err := Init(good); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := Delete(b); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestDisabledFallsThrough(t *testing.T) {
	o := testOptions(t)
	o.Enabled = false
	if err := Init(o); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	tr, err := Default()
	if err != nil || tr != nil {
		t.Fatalf("Default() = %v, %v; want nil, nil", tr, err)
	}

	b, err := New(8)
	if err != nil || len(b) != 8 {
		t.Fatalf("New(8) = %d bytes, %v", len(b), err)
	}
	if err := Delete(b); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := New(-1); err == nil {
		t.Error("Expected an error for a negative size")
	}
	if CurrentOptions().Enabled {
		t.Error("CurrentOptions should report tracking disabled")
	}
}

func TestDefaultFromEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "env-mem.txt")
	t.Setenv("DYNO_MEM_FILE", path)
	t.Setenv("DYNO_LOG_LEVEL", "error")
	Close()
	defer Close()

	tr, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if tr == nil || tr.Path() != path {
		t.Fatalf("Expected a tracker writing %s", path)
	}
}

// TestConcurrentAllocations drives the default tracker from many goroutines.
func TestConcurrentAllocations(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	o := testOptions(t)
	if err := Init(o); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	const numGoroutines = 10
	const opsPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	errs := make(chan error, numGoroutines*opsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			held := make([][]byte, 0, opsPerGoroutine)
			for j := 0; j < opsPerGoroutine; j++ {
				b, err := New(id*opsPerGoroutine + j + 1)
				if err != nil {
					errs <- err
					return
				}
				held = append(held, b)
			}
			// Keep every other block.
			for j := 0; j < len(held); j += 2 {
				if err := Delete(held[j]); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}

	tr, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	want := numGoroutines * opsPerGoroutine / 2
	if tr.Len() != want {
		t.Errorf("Expected %d live allocations, got %d", want, tr.Len())
	}
	recs, err := heapfile.ReadFile(o.MemFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != want {
		t.Errorf("Snapshot has %d records, want %d", len(recs), want)
	}
}
