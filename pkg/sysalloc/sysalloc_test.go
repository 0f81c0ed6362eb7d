package sysalloc

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	for _, name := range []string{"", "manual", " Manual ", "go"} {
		a, err := ByName(name)
		require.NoError(t, err, "backend %q", name)
		assert.NotNil(t, a)
	}

	_, err := ByName("jemalloc")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestManual_MallocFree(t *testing.T) {
	m := NewManual()
	defer m.Close()

	a, err := m.Malloc(16)
	require.NoError(t, err)
	require.Len(t, a, 16)
	b, err := m.Malloc(32)
	require.NoError(t, err)

	assert.NotEqual(t, Address(a), Address(b))
	copy(a, "hello world")
	assert.Equal(t, "hello world", string(a[:11]))

	require.NoError(t, m.Free(a[:4]), "a resliced block frees the whole block")
	require.NoError(t, m.Free(b))
	require.NoError(t, m.Free(nil))
}

func TestMmap_MallocFree(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" || runtime.GOOS == "js" {
		_, err := NewMmap()
		assert.ErrorIs(t, err, ErrUnsupported)
		return
	}

	m, err := NewMmap()
	require.NoError(t, err)

	b, err := m.Malloc(100)
	require.NoError(t, err)
	require.Len(t, b, 100)
	assert.Equal(t, byte(0), b[99])
	assert.NotZero(t, Address(b))

	require.NoError(t, m.Free(b))
}

func TestGo_FreeIsNoop(t *testing.T) {
	g := NewGo()
	b, err := g.Malloc(8)
	require.NoError(t, err)
	assert.Len(t, b, 8)
	assert.NoError(t, g.Free(b))
}

func TestAddress(t *testing.T) {
	assert.Zero(t, Address(nil))
	b := make([]byte, 0, 1)
	assert.NotZero(t, Address(b), "a zero-length slice with capacity still has an address")
}
