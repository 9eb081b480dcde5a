package spec_test

import (
	"testing"

	"github.com/eak1mov/go-libpyramid/pack/spec"
	"github.com/eak1mov/go-libpyramid/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTileID(t *testing.T) {
	table := spec.NewMosaicTable(map[[2]string][2]uint32{
		{"p1", "a"}: {0, 0},
		{"p1", "b"}: {6, 2},
		{"p2", "a"}: {30, 31},
	})
	require.Equal(t, []uint8{0, 3, 5}, []uint8{table[0].Order, table[1].Order, table[2].Order})
	require.Equal(t, []uint64{0, 1, 65}, []uint64{table[0].Base, table[1].Base, table[2].Base})

	seen := make(map[uint64]tile.ID)
	for _, m := range table {
		for col := range uint32(1) << m.Order {
			for row := range uint32(1) << m.Order {
				tileID := tile.ID{Pyramid: m.Pyramid, Mosaic: m.Mosaic, Col: col, Row: row}
				code, ok := table.EncodeTileID(tileID)
				require.True(t, ok)
				if prev, dup := seen[code]; dup {
					t.Fatalf("EncodeTileID(%v) = EncodeTileID(%v) = %d", tileID, prev, code)
				}
				seen[code] = tileID

				decoded, ok := table.DecodeTileID(code)
				require.True(t, ok)
				if diff := cmp.Diff(tileID, decoded); diff != "" {
					t.Errorf("DecodeTileID(EncodeTileID(%v)) mismatch (-want+got):\n%v", tileID, diff)
				}
			}
		}
	}

	_, ok := table.EncodeTileID(tile.ID{Pyramid: "p1", Mosaic: "b", Col: 8})
	require.False(t, ok)
	_, ok = table.EncodeTileID(tile.ID{Pyramid: "p3", Mosaic: "a"})
	require.False(t, ok)
	_, ok = table.DecodeTileID(65 + 1024)
	require.False(t, ok)
}

func TestMosaicTableSerializer(t *testing.T) {
	table := spec.NewMosaicTable(map[[2]string][2]uint32{
		{"pyramid", "m0"}: {3, 1},
		{"pyramid", "m1"}: {100, 7},
	})
	got, err := spec.DeserializeMosaicTable(table.Serialize())
	require.NoError(t, err)
	require.Equal(t, table, got)

	_, err = spec.DeserializeMosaicTable([]byte{5, 1})
	require.ErrorIs(t, err, spec.ErrInvalidMosaicTable)
}
