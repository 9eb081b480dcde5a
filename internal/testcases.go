package internal

import (
	"maps"
	"testing"

	"github.com/eak1mov/go-libpyramid/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// StoreCases runs the behaviour shared by every read-write tile backend.
func StoreCases(t *testing.T, open func(t *testing.T) tile.Store) {
	t.Run("WriteRead", func(t *testing.T) {
		store := open(t)
		defer store.Close()

		tiles := Tiles(100)
		for tileID, tileData := range tiles {
			require.NoError(t, store.WriteTile(tileID, tileData))
		}

		if got, want := maps.Collect(tile.IterTiles(store)), tiles; !cmp.Equal(got, want) {
			t.Errorf("VisitTiles data mismatch: %s", cmp.Diff(want, got))
		}

		for tileID, tileData := range tiles {
			data, err := store.ReadTile(tileID)
			require.NoError(t, err)
			if got, want := data, tileData; !cmp.Equal(got, want) {
				t.Fatalf("ReadTile(%v) = %q, want = %q", tileID, got, want)
			}
		}

		missing := tile.ID{Pyramid: "p1", Mosaic: "m1", Col: 999, Row: 999}
		data, err := store.ReadTile(missing)
		require.NoError(t, err)
		require.Empty(t, data)

		if checker, ok := store.(tile.Checker); ok {
			for tileID := range tiles {
				found, err := checker.HasTile(tileID)
				require.NoError(t, err)
				require.True(t, found, "HasTile(%v)", tileID)
				break
			}
			found, err := checker.HasTile(missing)
			require.NoError(t, err)
			require.False(t, found)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := open(t)
		defer store.Close()

		tileID := tile.ID{Pyramid: "p", Mosaic: "m", Col: 1, Row: 2}
		require.NoError(t, store.WriteTile(tileID, []byte("first")))
		require.NoError(t, store.WriteTile(tileID, []byte("second")))

		data, err := store.ReadTile(tileID)
		require.NoError(t, err)
		require.Equal(t, []byte("second"), data)
	})

	t.Run("Delete", func(t *testing.T) {
		store := open(t)
		defer store.Close()

		tiles := Tiles(60)
		for tileID, tileData := range tiles {
			require.NoError(t, store.WriteTile(tileID, tileData))
		}

		victim := tile.ID{Pyramid: "p1", Mosaic: "m1", Col: 0, Row: 0}
		require.Contains(t, tiles, victim)
		require.NoError(t, store.DeleteTile(victim))
		require.NoError(t, store.DeleteTile(victim))
		data, err := store.ReadTile(victim)
		require.NoError(t, err)
		require.Empty(t, data)

		require.NoError(t, store.DeleteTiles("p1", "m2"))
		require.NoError(t, store.DeleteTiles("p2", ""))

		counts, err := tile.CountTiles(store)
		require.NoError(t, err)
		require.Equal(t, map[[2]string]int{{"p1", "m1"}: 19}, counts)
	})

	t.Run("Metadata", func(t *testing.T) {
		store := open(t)
		defer store.Close()

		data, err := store.ReadMetadata()
		require.NoError(t, err)
		require.Empty(t, data)

		require.NoError(t, store.WriteMetadata([]byte(`{"foo":"bar"}`)))
		require.NoError(t, store.WriteMetadata([]byte(`{"foo":"baz"}`)))
		data, err = store.ReadMetadata()
		require.NoError(t, err)
		require.Equal(t, []byte(`{"foo":"baz"}`), data)
	})
}
