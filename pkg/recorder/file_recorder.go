package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// FileRecorder appends events to a journal file with optional compression.
//
// Uncompressed events reach the file on every RecordEvent. Compressed events
// are buffered by the encoder and written when the frame ends, on Close or
// GetEvents.
type FileRecorder struct {
	file            *os.File
	writer          io.Writer
	bufWriter       *bufio.Writer
	path            string
	compressionType CompressionType
	eventCount      int
	// err is set once the writer can no longer be used; every later
	// write returns it.
	err error
}

// FileRecorderOptions contains options for creating a file recorder
type FileRecorderOptions struct {
	CompressionType CompressionType
}

// DefaultFileRecorderOptions returns default options for file recorder
func DefaultFileRecorderOptions() FileRecorderOptions {
	return FileRecorderOptions{
		CompressionType: DefaultCompression,
	}
}

// NewFileRecorder creates a new file recorder with default options
func NewFileRecorder(path string) (*FileRecorder, error) {
	return NewFileRecorderWithOptions(path, DefaultFileRecorderOptions())
}

// NewFileRecorderWithOptions opens path for appending. A new or empty file
// gets a journal header first.
func NewFileRecorderWithOptions(path string, options FileRecorderOptions) (*FileRecorder, error) {
	fr := &FileRecorder{
		path:            path,
		compressionType: options.CompressionType,
	}
	if err := fr.open(); err != nil {
		return nil, err
	}
	return fr, nil
}

func (fr *FileRecorder) open() error {
	f, err := os.OpenFile(fr.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	bufWriter := bufio.NewWriter(f)
	writer, err := NewCompressedWriter(bufWriter, fr.compressionType)
	if err != nil {
		f.Close()
		return err
	}
	fr.file = f
	fr.bufWriter = bufWriter
	fr.writer = writer

	if info.Size() == 0 {
		h := Header{Format: JournalFormat, Created: time.Now().UTC()}
		if err := fr.writeLine(h); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvent writes an event as one JSON line.
func (fr *FileRecorder) RecordEvent(e Event) error {
	if err := fr.writeLine(e); err != nil {
		return err
	}
	fr.eventCount++
	return nil
}

func (fr *FileRecorder) writeLine(v any) error {
	if fr.err != nil {
		return fr.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	// Write the JSON data
	if _, err := fr.writer.Write(data); err != nil {
		return err
	}

	// Write a newline
	if _, err := fr.writer.Write([]byte{'\n'}); err != nil {
		return err
	}

	// Flush bufWriter to ensure data is written to the file
	return fr.bufWriter.Flush()
}

// EventCount returns how many events this recorder has written since it
// was opened or cleared.
func (fr *FileRecorder) EventCount() int {
	return fr.eventCount
}

// Path returns the journal path.
func (fr *FileRecorder) Path() string {
	return fr.path
}

// GetEvents reads all events from the file, decompressing if necessary.
// Errors yield nil; use Events to see them.
func (fr *FileRecorder) GetEvents() []Event {
	events, err := fr.Events()
	if err != nil {
		return nil
	}
	return events
}

// Events reads all events written so far. A compressed journal has its
// current frame ended first and a new one started for further writes; if
// that fails the recorder stops accepting events.
func (fr *FileRecorder) Events() ([]Event, error) {
	if fr.err != nil {
		return nil, fr.err
	}
	if err := CloseCompressedWriter(fr.writer); err != nil {
		fr.err = fmt.Errorf("recorder: end frame: %w", err)
		return nil, fr.err
	}
	if err := fr.bufWriter.Flush(); err != nil {
		fr.err = fmt.Errorf("recorder: flush %s: %w", fr.path, err)
		return nil, fr.err
	}

	events, readErr := ReadJournal(fr.path)

	w, err := NewCompressedWriter(fr.bufWriter, fr.compressionType)
	if err != nil {
		fr.err = fmt.Errorf("recorder: start frame: %w", err)
		return nil, fr.err
	}
	fr.writer = w
	return events, readErr
}

// Clear truncates the journal and starts it afresh with a new header.
func (fr *FileRecorder) Clear() {
	// Ignore errors in Clear() as per interface
	CloseCompressedWriter(fr.writer)
	fr.bufWriter.Flush()
	fr.file.Close()
	os.Truncate(fr.path, 0)

	if err := fr.open(); err != nil {
		fr.err = fmt.Errorf("recorder: reopen %s: %w", fr.path, err)
		return
	}
	fr.err = nil
	fr.eventCount = 0
}

// Close flushes and closes the file. The file is closed even when the
// flush fails.
func (fr *FileRecorder) Close() error {
	var errs []error
	if fr.err == nil {
		if err := CloseCompressedWriter(fr.writer); err != nil {
			errs = append(errs, err)
		}
		if err := fr.bufWriter.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := fr.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
