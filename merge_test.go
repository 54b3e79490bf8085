package bitcask

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeSeedSegment writes a legacy segment file directly (bypassing the
// Store) so a merge test can seed specific pre-existing on-disk state,
// the same way the teacher's merge tests hand-construct fixture segments.
func writeSeedSegment(t *testing.T, dir string, id uint32, entries [][2]string) {
	t.Helper()

	seg, err := openSegment(dir, id, true)
	require.NoError(t, err)
	for i, e := range entries {
		var value []byte
		if e[1] != "" {
			value = []byte(e[1])
		}
		_, _, err := seg.append(uint64(i+1), []byte(e[0]), value)
		require.NoError(t, err)
	}
	require.NoError(t, seg.close())
}

// S6 (merge compacts)
func TestMerge_CompactsAndPreservesLatestValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSeedSegment(t, dir, 1, [][2]string{
		{"alpha", "alpha-v1"},
		{"beta", "beta-v1"},
		{"gamma", "gamma-v1"},
	})
	writeSeedSegment(t, dir, 2, [][2]string{
		{"alpha", "alpha-v2"},
		{"beta", ""}, // tombstone
		{"delta", "delta-v1"},
	})

	s, err := Open(dir, WithReadWrite())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("gamma"), []byte("gamma-active")))
	require.NoError(t, s.Merge())

	got, err := s.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, "alpha-v2", string(got))

	_, err = s.Get([]byte("beta"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	got, err = s.Get([]byte("gamma"))
	require.NoError(t, err)
	require.Equal(t, "gamma-active", string(got))

	got, err = s.Get([]byte("delta"))
	require.NoError(t, err)
	require.Equal(t, "delta-v1", string(got))

	_, err = os.Stat(filepath.Join(dir, "0000000001.data"))
	require.True(t, os.IsNotExist(err), "old segment 1 should be unlinked")
	_, err = os.Stat(filepath.Join(dir, "0000000002.data"))
	require.True(t, os.IsNotExist(err), "old segment 2 should be unlinked")

	_, err = os.Stat(filepath.Join(dir, "0000000004.data"))
	require.NoError(t, err, "merged segment 4 should exist")
	_, err = os.Stat(filepath.Join(dir, "0000000004.hint"))
	require.NoError(t, err, "merged hint 4 should exist")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, isMergeArtifact(e.Name()), "no .merge files should remain, found %s", e.Name())
	}
}

func TestMerge_FailsWithNoInactiveSegments(t *testing.T) {
	t.Parallel()

	_, s := openRW(t)
	err := s.Merge()
	require.ErrorIs(t, err, ErrNoSegments)
}

func TestMerge_FailsReadOnly(t *testing.T) {
	t.Parallel()

	dir, s := openRW(t)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	ro, err := Open(dir)
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Merge()
	require.ErrorIs(t, err, ErrReadOnly)
}

// P6: merge never changes the live value for any key, and never
// increases total inactive on-disk size.
func TestMerge_PreservesValuesAndShrinksOrMaintainsSize(t *testing.T) {
	t.Parallel()

	dir, s := openRW(t, WithSegmentCap(128))

	const rounds = 20
	keys := []string{"k0", "k1", "k2", "k3"}
	for r := 0; r < rounds; r++ {
		for _, k := range keys {
			require.NoError(t, s.Put([]byte(k), []byte(fmt.Sprintf("%s-round-%d", k, r))))
		}
	}
	require.NoError(t, s.Delete([]byte("k0")))

	before := dirSize(t, dir)
	require.NoError(t, s.Merge())
	after := dirSize(t, dir)

	require.LessOrEqual(t, after, before)

	_, err := s.Get([]byte("k0"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	for _, k := range keys[1:] {
		got, err := s.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("%s-round-%d", k, rounds-1), string(got))
	}
}

// TestMerge_OrderStaysAscendingAcrossRotateAfterMerge guards against a
// merge producing higher segment ids than the still-active segment: a
// subsequent rotate must not leave s.order non-ascending, since merge's
// own scan walks s.order assuming oldest-first (ascending id) order.
func TestMerge_OrderStaysAscendingAcrossRotateAfterMerge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSeedSegment(t, dir, 1, [][2]string{{"a", "a1"}})
	writeSeedSegment(t, dir, 2, [][2]string{{"b", "b1"}})

	s, err := Open(dir, WithReadWrite(), WithSegmentCap(128))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("c"), []byte("c1")))

	// First merge compacts segments 1 and 2 into a new segment whose id
	// (s.nextID at the time) is higher than the still-active segment's id.
	require.NoError(t, s.Merge())
	activeBeforeRotate := s.active.id

	// Force the active segment to rotate, which appends its (lower) id to
	// s.order after the (higher) merged id already sitting there.
	big := make([]byte, 64)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Put([]byte(fmt.Sprintf("pad%d", i)), big))
	}

	require.Contains(t, s.order, activeBeforeRotate, "rotate should have sealed the pre-merge active segment")
	for i := 1; i < len(s.order); i++ {
		require.Less(t, s.order[i-1], s.order[i], "s.order must stay ascending after a rotate following a merge")
	}

	require.NoError(t, s.Put([]byte("d"), []byte("d1")))

	// Second merge must walk s.order oldest-first; if it were left
	// unsorted after the rotate above, this would process segments out of
	// the order spec.md §4.7 step 2 requires.
	require.NoError(t, s.Merge())

	for k, want := range map[string]string{"a": "a1", "b": "b1", "c": "c1", "d": "d1"} {
		got, err := s.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}

func dirSize(t *testing.T, dir string) int64 {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		total += info.Size()
	}
	return total
}
