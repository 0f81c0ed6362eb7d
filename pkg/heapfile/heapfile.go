// Package heapfile renders a registry snapshot to the mem.txt text form and
// reads it back.
//
// The form is a JSON array of {"address","size"} objects written by hand so
// that rendering can target a fixed buffer:
//
//	[
//	{"address":"0xc000012000", "size":16},
//	{"address":"0xc000014000", "size":32}
//	]
//
// An empty snapshot renders as "[\n]\n".
package heapfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/willibrandon/dyno/pkg/registry"
)

// DefaultPath is the snapshot file name used when none is configured.
const DefaultPath = "mem.txt"

const (
	// LineSize bounds the rendered length of one record: separator, braces,
	// field names, a 64-bit address in hex and a 64-bit size in decimal.
	LineSize = 64

	// BufferSize is large enough to render a full registry.
	BufferSize = LineSize*registry.Capacity + 8
)

// ErrMalformed is returned by Parse for input that is not a snapshot.
var ErrMalformed = errors.New("heapfile: malformed snapshot")

// Buffer is fixed render storage.
type Buffer [BufferSize]byte

// Render appends the text form of v to dst and returns the extended slice.
// When dst has at least BufferSize bytes of spare capacity no allocation
// takes place.
func Render(dst []byte, v registry.View) []byte {
	dst = append(dst, '[')
	for i := 0; i < v.Len(); i++ {
		rec := v.At(i)
		if i != 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, "\n{\"address\":\"0x"...)
		dst = strconv.AppendUint(dst, uint64(rec.Address), 16)
		dst = append(dst, "\", \"size\":"...)
		dst = strconv.AppendUint(dst, rec.Size, 10)
		dst = append(dst, '}')
	}
	return append(dst, "\n]\n"...)
}

// RenderRecords is Render for a plain slice. It allocates.
func RenderRecords(records []registry.Record) []byte {
	return Render(make([]byte, 0, LineSize*len(records)+8), registry.ViewOf(records))
}

// WriteFile replaces the contents of path with data. The file is opened
// truncating, written once and closed; the close runs even when the write
// fails. There is no fsync and no retry.
func WriteFile(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("heapfile: open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("heapfile: close %s: %w", path, cerr)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("heapfile: write %s: %w", path, err)
	}
	return nil
}

type wireRecord struct {
	Address string `json:"address"`
	Size    uint64 `json:"size"`
}

// Parse decodes a rendered snapshot. Empty or all-whitespace input is an
// empty snapshot, which is what a consumer sees before the first write.
func Parse(data []byte) ([]registry.Record, error) {
	if isBlank(data) {
		return []registry.Record{}, nil
	}

	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	records := make([]registry.Record, 0, len(wire))
	for i, w := range wire {
		addr, err := strconv.ParseUint(w.Address, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: address %q", ErrMalformed, i, w.Address)
		}
		records = append(records, registry.Record{Address: uintptr(addr), Size: w.Size})
	}
	return records, nil
}

// ReadFile reads and parses the snapshot at path.
func ReadFile(path string) ([]registry.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heapfile: read %s: %w", path, err)
	}
	return Parse(data)
}

func isBlank(data []byte) bool {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}
