package registry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordAndLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Record(0x1000, 16))
	require.NoError(t, r.Record(0x2000, 32))

	assert.Equal(t, 2, r.Len())
	rec, ok := r.Lookup(0x2000)
	require.True(t, ok)
	assert.Equal(t, uint64(32), rec.Size)
	assert.False(t, r.Contains(0x3000))
}

func TestRegistry_DuplicateIsNoop(t *testing.T) {
	r := New()

	require.NoError(t, r.Record(0x1000, 16))
	require.NoError(t, r.Record(0x1000, 64), "duplicate should be ignored, not fail")

	assert.Equal(t, 1, r.Len())
	rec, _ := r.Lookup(0x1000)
	assert.Equal(t, uint64(16), rec.Size, "original size must survive a duplicate")
}

func TestRegistry_CapacityBoundary(t *testing.T) {
	r := New()
	for i := 0; i < Capacity; i++ {
		require.NoError(t, r.Record(uintptr(0x1000+i*16), 16), "record %d", i)
	}
	require.Equal(t, Capacity, r.Len())

	err := r.Record(0xdead0000, 8)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, Capacity, r.Len())
	assert.False(t, r.Contains(0xdead0000))

	// A tracked address is still a no-op when full.
	require.NoError(t, r.Record(0x1000, 8))
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Record(0xa, 1))
	require.NoError(t, r.Record(0xb, 2))

	assert.Equal(t, 1, r.Release(0xa))
	before := r.Snapshot().Records()

	assert.Equal(t, 0, r.Release(0xa))
	assert.Equal(t, before, r.Snapshot().Records())
}

func TestRegistry_ReleaseUnknown(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Release(0x1234))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_UnorderedRemoval(t *testing.T) {
	r := New()
	require.NoError(t, r.Record(0xa, 1))
	require.NoError(t, r.Record(0xb, 2))
	require.NoError(t, r.Record(0xc, 3))

	r.Release(0xa)

	require.Equal(t, 2, r.Len())
	assert.ElementsMatch(t, []Record{{0xb, 2}, {0xc, 3}}, r.Snapshot().Records())
	// swap-with-last puts C where A was
	assert.Equal(t, Record{0xc, 3}, r.Snapshot().At(0))
}

func TestRegistry_ReleaseRemovesAllMatches(t *testing.T) {
	r := New()
	// Duplicates cannot be produced through Record, so build them directly.
	r.records[0] = Record{0xa, 1}
	r.records[1] = Record{0xb, 2}
	r.records[2] = Record{0xa, 3}
	r.records[3] = Record{0xa, 4}
	r.count = 4

	assert.Equal(t, 3, r.Release(0xa))
	assert.Equal(t, []Record{{0xb, 2}}, r.Snapshot().Records())
}

func TestRegistry_ResetAndLoad(t *testing.T) {
	r := New()
	require.NoError(t, r.Record(0xa, 1))
	r.Reset()
	assert.Equal(t, 0, r.Len())

	recs := []Record{{0x10, 1}, {0x20, 2}, {0x10, 9}}
	require.NoError(t, r.Load(recs))
	assert.Equal(t, []Record{{0x10, 1}, {0x20, 2}}, r.Snapshot().Records())
}

func TestView(t *testing.T) {
	r := New()
	require.NoError(t, r.Record(0xa, 10))
	require.NoError(t, r.Record(0xb, 5))

	v := r.Snapshot()
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, uint64(15), v.Bytes())

	cp := v.Records()
	r.Release(0xa)
	assert.Len(t, cp, 2, "copied records must not alias the table")
}

// TestRegistry_LiveSetProperty drives random allocate/free sequences and
// checks the registry against a map model.
func TestRegistry_LiveSetProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		r := New()
		model := map[uintptr]uint64{}
		next := uintptr(0x1000)

		for op := 0; op < 500; op++ {
			if len(model) == 0 || (rng.Intn(3) != 0 && len(model) < Capacity) {
				size := uint64(rng.Intn(4096))
				require.NoError(t, r.Record(next, size))
				model[next] = size
				next += 0x10
				continue
			}
			for addr := range model {
				require.Equal(t, 1, r.Release(addr))
				delete(model, addr)
				break
			}
		}

		got := map[uintptr]uint64{}
		v := r.Snapshot()
		for i := 0; i < v.Len(); i++ {
			rec := v.At(i)
			_, dup := got[rec.Address]
			require.False(t, dup, "address %#x appears twice", rec.Address)
			got[rec.Address] = rec.Size
		}
		require.Equal(t, model, got)
	}
}
