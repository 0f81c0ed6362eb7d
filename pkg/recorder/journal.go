package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	semver "github.com/Masterminds/semver/v3"
)

// JournalFormat is the format version written in every journal header.
const JournalFormat = "1.0.0"

// supportedFormats is the range of header versions ReadJournal accepts.
const supportedFormats = "^1.0.0"

// maxLineSize bounds one journal line; snapshot events carry a full registry.
const maxLineSize = 4 << 20

var (
	// ErrNoHeader is returned for a journal whose first line is not a header.
	ErrNoHeader = errors.New("recorder: journal has no header")

	// ErrUnsupportedFormat is returned for a header outside the supported range.
	ErrUnsupportedFormat = errors.New("recorder: unsupported journal format")
)

// Header is the first line of a journal.
type Header struct {
	Format  string    `json:"format"`
	Created time.Time `json:"created"`
}

// CheckFormat verifies that a header version can be read.
func CheckFormat(format string) error {
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedFormat, format, err)
	}
	c, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s not in %s", ErrUnsupportedFormat, v, supportedFormats)
	}
	return nil
}

// ReadJournal reads every event from the journal at path. Compressed and
// plain journals are told apart by content. Lines that do not decode as events
// are skipped; a missing or unsupported header is an error.
func ReadJournal(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, release, err := NewDetectingReader(f)
	if err != nil {
		return nil, fmt.Errorf("recorder: %s: %w", path, err)
	}
	defer release()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	events := []Event{}
	sawHeader := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !sawHeader {
			var h Header
			if err := json.Unmarshal(line, &h); err != nil || h.Format == "" {
				return nil, fmt.Errorf("%w: %s", ErrNoHeader, path)
			}
			if err := CheckFormat(h.Format); err != nil {
				return nil, err
			}
			sawHeader = true
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recorder: %s: %w", path, err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("%w: %s", ErrNoHeader, path)
	}
	return events, nil
}
