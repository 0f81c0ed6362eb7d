package tracker

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/sysalloc"
)

// Option configures a Tracker.
type Option func(*config)

type config struct {
	path               string
	backend            sysalloc.Allocator
	logger             zerolog.Logger
	recorder           recorder.Recorder
	observers          []Observer
	onError            func(error)
	checkpointInterval int
}

func defaultConfig() config {
	return config{
		path:   heapfile.DefaultPath,
		logger: DefaultLogger(zerolog.WarnLevel),
	}
}

// DefaultLogger returns the logger used when none is configured.
func DefaultLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("component", "dyno").Logger()
}

// WithPath sets the snapshot file. An empty path turns the file off.
func WithPath(path string) Option {
	return func(c *config) {
		c.path = path
	}
}

// WithBackend sets the underlying allocator. The tracker takes ownership and
// closes it on Close if it implements io.Closer.
func WithBackend(a sysalloc.Allocator) Option {
	return func(c *config) {
		c.backend = a
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRecorder journals every event to r. The tracker closes r on Close if it
// implements io.Closer.
func WithRecorder(r recorder.Recorder) Option {
	return func(c *config) {
		c.recorder = r
	}
}

// WithObserver adds an observer notified after every operation.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observers = append(c.observers, o)
	}
}

// WithErrorHandler registers a callback for failures that are not returned
// to the caller: a full registry, a failed snapshot write or journal write.
func WithErrorHandler(fn func(error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}

// WithCheckpointInterval emits a snapshot event every n operations. Zero
// disables checkpoints.
func WithCheckpointInterval(n int) Option {
	return func(c *config) {
		if n < 0 {
			n = 0
		}
		c.checkpointInterval = n
	}
}
