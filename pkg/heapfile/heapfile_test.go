package heapfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/dyno/pkg/registry"
)

func TestRender_Empty(t *testing.T) {
	got := Render(nil, registry.New().Snapshot())
	assert.Equal(t, "[\n]\n", string(got))
}

func TestRender_SingleRecord(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Record(0xABCD, 16))

	got := Render(nil, r.Snapshot())
	assert.Equal(t, "[\n{\"address\":\"0xabcd\", \"size\":16}\n]\n", string(got))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(got, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "0xabcd", decoded[0]["address"])
	assert.Equal(t, float64(16), decoded[0]["size"])
}

func TestRender_MultipleRecordsKeepOrder(t *testing.T) {
	recs := []registry.Record{{Address: 0x30, Size: 3}, {Address: 0x10, Size: 1}}

	got := RenderRecords(recs)
	want := "[\n{\"address\":\"0x30\", \"size\":3},\n{\"address\":\"0x10\", \"size\":1}\n]\n"
	assert.Equal(t, want, string(got))
}

func TestRender_FullRegistryFitsBuffer(t *testing.T) {
	r := registry.New()
	for i := 0; i < registry.Capacity; i++ {
		require.NoError(t, r.Record(^uintptr(0)-uintptr(i), ^uint64(0)))
	}

	var buf Buffer
	out := Render(buf[:0], r.Snapshot())
	assert.LessOrEqual(t, len(out), BufferSize)
	assert.Same(t, &buf[0], &out[0], "render must stay inside the fixed buffer")
}

func TestRender_DoesNotAllocate(t *testing.T) {
	r := registry.New()
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Record(uintptr(0x10000000+i*64), uint64(i)))
	}
	buf := new(Buffer)
	view := r.Snapshot()

	allocs := testing.AllocsPerRun(100, func() {
		_ = Render(buf[:0], view)
	})
	assert.Zero(t, allocs)
}

func TestParse_RoundTrip(t *testing.T) {
	recs := []registry.Record{
		{Address: 0xc000012000, Size: 16},
		{Address: 0xc000014000, Size: 0},
	}

	got, err := Parse(RenderRecords(recs))
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestParse_EmptyInputs(t *testing.T) {
	for _, in := range []string{"", "\n", "[\n]\n"} {
		got, err := Parse([]byte(in))
		require.NoError(t, err, "input %q", in)
		assert.Empty(t, got)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{"{", `[{"address":"zz","size":1}]`, `{"address":"0x1"}`} {
		_, err := Parse([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}

func TestWriteFile_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)

	require.NoError(t, WriteFile(path, []byte("a much longer first payload\n")))
	require.NoError(t, WriteFile(path, []byte("[\n]\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[\n]\n", string(data))

	recs, err := ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWriteFile_OpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", DefaultPath)
	err := WriteFile(path, []byte("[\n]\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
