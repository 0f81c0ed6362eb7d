// Package instrumentation provides one process-wide tracker behind a pair of
// allocate and delete functions, so calling code can route its allocations
// through dyno without holding a tracker of its own.
//
// The default tracker is built from the DYNO_* environment variables on first
// use, or explicitly with Init.
package instrumentation

import (
	"fmt"
	"sync"

	"github.com/willibrandon/dyno/pkg/tracker"
)

var (
	mu             sync.Mutex
	defaultTracker *tracker.Tracker
	currentOptions Options
	initialized    bool
	// initErr is the failure of the last Init or environment setup. New and
	// Delete keep returning it until Init succeeds or Close is called.
	initErr error
)

// Init installs a new process-wide tracker built from options, closing any
// previous one. Extra tracker options are applied after those derived from
// options.
func Init(options Options, extra ...tracker.Option) error {
	mu.Lock()
	defer mu.Unlock()

	if err := closeLocked(); err != nil {
		return err
	}
	return initLocked(options, extra...)
}

func initLocked(options Options, extra ...tracker.Option) error {
	currentOptions = options
	if options.Enabled {
		opts, err := options.TrackerOptions()
		if err != nil {
			initErr = fmt.Errorf("instrumentation: %w", err)
			return initErr
		}
		// tracker.New closes the backend and journal on failure.
		t, err := tracker.New(append(opts, extra...)...)
		if err != nil {
			initErr = fmt.Errorf("instrumentation: %w", err)
			return initErr
		}
		defaultTracker = t
	}
	initErr = nil
	initialized = true
	return nil
}

// Default returns the process-wide tracker, creating it from the environment
// if Init has not run. It returns nil when tracking is disabled, and the
// setup error while the last Init failed.
func Default() (*tracker.Tracker, error) {
	mu.Lock()
	defer mu.Unlock()

	if initErr != nil {
		return nil, initErr
	}
	if !initialized {
		if err := initLocked(LoadOptionsFromEnvironment()); err != nil {
			return nil, err
		}
	}
	return defaultTracker, nil
}

// CurrentOptions returns the options the default tracker was built from.
func CurrentOptions() Options {
	mu.Lock()
	defer mu.Unlock()
	return currentOptions
}

// New allocates size bytes through the default tracker. With tracking
// disabled it returns ordinary Go memory.
func New(size int) ([]byte, error) {
	t, err := Default()
	if err != nil {
		return nil, err
	}
	if t == nil {
		if size < 0 {
			return nil, tracker.ErrInvalidSize
		}
		return make([]byte, size), nil
	}
	return t.Allocate(size)
}

// Delete frees b through the default tracker. With tracking disabled it does
// nothing.
func Delete(b []byte) error {
	t, err := Default()
	if err != nil || t == nil {
		return err
	}
	return t.Free(b)
}

// Close closes the default tracker. The next New or Default rebuilds it from
// the environment.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeLocked()
}

func closeLocked() error {
	var err error
	if defaultTracker != nil {
		err = defaultTracker.Close()
	}
	defaultTracker = nil
	initialized = false
	initErr = nil
	if err != nil {
		return fmt.Errorf("instrumentation: close default tracker: %w", err)
	}
	return nil
}
