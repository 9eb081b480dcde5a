package spec_test

import (
	"errors"
	"testing"

	"github.com/eak1mov/go-libpyramid/pack/spec"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func makeEntries(n int) spec.Directory {
	entries := make(spec.Directory, 0, n)
	offset := uint64(0)
	for i := range n {
		length := uint32(100 + i%37)
		entries = append(entries, spec.Entry{
			TileCode:  uint64(i*3 + i%2),
			Offset:    offset,
			Length:    length,
			RunLength: 1,
		})
		if i%5 != 0 {
			offset += uint64(length)
		}
	}
	return entries
}

func TestDirectorySerializer(t *testing.T) {
	for _, n := range []int{0, 1, 10, 1000, 50000} {
		entries := makeEntries(n)
		deserialized, err := spec.DeserializeDirectory(entries.Serialize())
		if err != nil {
			t.Errorf("DeserializeDirectory failed: %v", err)
		}
		if !cmp.Equal(entries, deserialized) {
			t.Errorf("DeserializeDirectory(Serialize(%d entries)) != input", n)
		}
	}

	_, err := spec.DeserializeDirectory([]byte{0xff, 0xff, 0xff})
	require.True(t, errors.Is(err, spec.ErrInvalidDirectory))
}

func TestCompactAndFind(t *testing.T) {
	entries := spec.Directory{
		{TileCode: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileCode: 1, Offset: 0, Length: 10, RunLength: 1},
		{TileCode: 2, Offset: 0, Length: 10, RunLength: 1},
		{TileCode: 5, Offset: 10, Length: 4, RunLength: 1},
	}
	compacted := entries.Compact()
	require.Equal(t, spec.Directory{
		{TileCode: 0, Offset: 0, Length: 10, RunLength: 3},
		{TileCode: 5, Offset: 10, Length: 4, RunLength: 1},
	}, compacted)

	for _, tc := range []struct {
		code  uint64
		found bool
	}{
		{0, true}, {2, true}, {3, false}, {5, true}, {6, false},
	} {
		_, found := compacted.Find(tc.code)
		if found != tc.found {
			t.Errorf("Find(%d) = %v, want = %v", tc.code, found, tc.found)
		}
	}
}

func TestSerializeAllLeaves(t *testing.T) {
	entries := makeEntries(200000)
	root, leaves, err := spec.SerializeAll(entries, spec.CompressionGzip)
	require.NoError(t, err)
	require.LessOrEqual(t, len(root), spec.RootDirMaxLength)
	require.NotEmpty(t, leaves)

	rootData, err := spec.Decompress(root, spec.CompressionGzip)
	require.NoError(t, err)
	rootEntries, err := spec.DeserializeDirectory(rootData)
	require.NoError(t, err)
	for _, e := range rootEntries {
		require.Zero(t, e.RunLength)
	}
}
