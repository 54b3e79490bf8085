package bitcask

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteExact_RoundTrips(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "rw.bin"))
	require.NoError(t, err)
	defer f.Close()

	want := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, writeExact(f, want, 7))

	got := make([]byte, len(want))
	require.NoError(t, readExact(f, got, 7))
	require.Equal(t, want, got)
}

func TestReadExact_ShortFileReturnsError(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "short.bin"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, writeExact(f, []byte("abc"), 0))

	buf := make([]byte, 10)
	err = readExact(f, buf, 0)
	require.Error(t, err)
}

func TestWriteGathered_ConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "gather.bin"))
	require.NoError(t, err)
	defer f.Close()

	header := []byte{1, 2, 3, 4}
	key := []byte("key")
	value := []byte("value")

	require.NoError(t, writeGathered(f, 0, header, key, value))

	got := make([]byte, len(header)+len(key)+len(value))
	require.NoError(t, readExact(f, got, 0))

	want := append(append(append([]byte{}, header...), key...), value...)
	require.Equal(t, want, got)
}
