package bitcask

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHintAppendAndScan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h, err := createHint(dir, 1)
	require.NoError(t, err)

	require.NoError(t, h.append(10, 5, 3, 20, []byte("alpha")))
	require.NoError(t, h.append(11, 4, 0, 0, []byte("beta")))
	require.NoError(t, h.close())

	f, err := os.Open(hintPath(dir, 1))
	require.NoError(t, err)
	defer f.Close()

	rows, err := scanHint(f, DefaultMaxKeySize)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	want := []hintRow{
		{timestamp: 10, keySize: 5, valueSize: 3, valuePos: 20, key: []byte("alpha")},
		{timestamp: 11, keySize: 4, valueSize: 0, valuePos: 0, key: []byte("beta")},
	}
	diff := cmp.Diff(want, rows, cmp.AllowUnexported(hintRow{}))
	assert.Empty(t, diff, "recovered hint rows mismatch")
}

func TestScanHint_FailsOnTruncatedRow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h, err := createHint(dir, 1)
	require.NoError(t, err)
	require.NoError(t, h.append(1, 3, 1, 0, []byte("abc")))
	require.NoError(t, h.close())

	path := hintPath(dir, 1)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = scanHint(f, DefaultMaxKeySize)
	require.Error(t, err)
}

func TestScanHint_RejectsRowAboveConfiguredMaxKeySize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h, err := createHint(dir, 1)
	require.NoError(t, err)
	require.NoError(t, h.append(1, 5, 1, 0, []byte("alpha")))
	require.NoError(t, h.close())

	f, err := os.Open(hintPath(dir, 1))
	require.NoError(t, err)
	defer f.Close()

	_, err = scanHint(f, 4)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCreateMergeHint_UsesMergeSuffix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h, err := createMergeHint(dir, 7)
	require.NoError(t, err)
	defer h.close()

	_, err = os.Stat(mergeHintPath(dir, 7))
	require.NoError(t, err)
}
