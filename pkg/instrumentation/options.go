package instrumentation

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/sysalloc"
	"github.com/willibrandon/dyno/pkg/tracker"
)

// Options stores configuration for the process-wide tracker
type Options struct {
	// Enabled indicates whether allocations are tracked at all.
	// When false, New and Delete fall through to plain Go memory.
	Enabled bool

	// MemFile is the snapshot file. Empty disables it.
	MemFile string

	// Backend names the underlying allocator (manual, mmap or go)
	Backend string

	// Journal is the path of an event journal. Empty disables journaling.
	Journal string

	// JournalCompress enables zstd compression of the journal
	JournalCompress bool

	// CheckpointInterval emits a full live-set event every N operations
	CheckpointInterval int

	// LogLevel is the diagnostic log level
	LogLevel zerolog.Level
}

// DefaultOptions returns the default options
func DefaultOptions() Options {
	return Options{
		Enabled:  true,
		MemFile:  heapfile.DefaultPath,
		Backend:  sysalloc.BackendManual,
		LogLevel: zerolog.WarnLevel,
	}
}

// LoadOptionsFromEnvironment loads options from DYNO_* environment variables.
// Unparseable values keep their defaults.
func LoadOptionsFromEnvironment() Options {
	options := DefaultOptions()

	// DYNO_ENABLED controls whether tracking is enabled
	if enabled := os.Getenv("DYNO_ENABLED"); enabled != "" {
		options.Enabled = parseBool(enabled)
	}

	// DYNO_MEM_FILE overrides the snapshot path; "-" disables the file
	if path, ok := os.LookupEnv("DYNO_MEM_FILE"); ok {
		path = strings.TrimSpace(path)
		if path == "-" {
			path = ""
		}
		options.MemFile = path
	}

	if backend := os.Getenv("DYNO_BACKEND"); backend != "" {
		options.Backend = strings.TrimSpace(backend)
	}

	if journal := os.Getenv("DYNO_JOURNAL"); journal != "" {
		options.Journal = strings.TrimSpace(journal)
	}

	if compress := os.Getenv("DYNO_JOURNAL_COMPRESS"); compress != "" {
		options.JournalCompress = parseBool(compress)
	}

	if interval := os.Getenv("DYNO_CHECKPOINT_INTERVAL"); interval != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(interval)); err == nil && n >= 0 {
			options.CheckpointInterval = n
		}
	}

	if level := os.Getenv("DYNO_LOG_LEVEL"); level != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
			options.LogLevel = l
		}
	}

	return options
}

// TrackerOptions turns the options into tracker options. It opens the backend
// and the journal, both of which the resulting tracker owns.
func (o Options) TrackerOptions() ([]tracker.Option, error) {
	backend, err := sysalloc.ByName(o.Backend)
	if err != nil {
		return nil, err
	}

	opts := []tracker.Option{
		tracker.WithPath(o.MemFile),
		tracker.WithBackend(backend),
		tracker.WithLogger(tracker.DefaultLogger(o.LogLevel)),
		tracker.WithCheckpointInterval(o.CheckpointInterval),
	}

	if o.Journal != "" {
		ro := recorder.DefaultFileRecorderOptions()
		ro.CompressionType = recorder.NoCompression
		if o.JournalCompress {
			ro.CompressionType = recorder.ZstdCompression
		}
		rec, err := recorder.NewFileRecorderWithOptions(o.Journal, ro)
		if err != nil {
			if c, ok := backend.(io.Closer); ok {
				c.Close()
			}
			return nil, fmt.Errorf("instrumentation: open journal: %w", err)
		}
		opts = append(opts, tracker.WithRecorder(rec))
	}

	return opts, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
