package sqlstore_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/eak1mov/go-libpyramid/internal"
	"github.com/eak1mov/go-libpyramid/sqlstore"
	"github.com/eak1mov/go-libpyramid/tile"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	internal.StoreCases(t, func(t *testing.T) tile.Store {
		store, err := sqlstore.Open(filepath.Join(t.TempDir(), "tiles.sqlite"))
		require.NoError(t, err)
		return store
	})
}

func TestReadOnly(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "tiles.sqlite")
	tileID := tile.ID{Pyramid: "p", Mosaic: "m", Col: 3, Row: 4}

	store, err := sqlstore.Open(filePath)
	require.NoError(t, err)
	require.NoError(t, store.WriteTile(tileID, []byte("data")))
	require.NoError(t, store.WriteMetadata([]byte("{}")))
	require.NoError(t, store.Vacuum())
	require.NoError(t, store.Close())

	reader, err := sqlstore.Open(filePath, sqlstore.WithReadOnly())
	require.NoError(t, err)
	defer reader.Close()

	data, err := reader.ReadTile(tileID)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), data)

	err = reader.WriteTile(tileID, []byte("other"))
	require.True(t, errors.Is(err, tile.ErrReadOnly))
	err = reader.DeleteTiles("p", "")
	require.True(t, errors.Is(err, tile.ErrReadOnly))
}
