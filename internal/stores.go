package internal

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-libpyramid/dirstore"
	"github.com/eak1mov/go-libpyramid/kvstore"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/sqlstore"
)

// PyramidStores returns a constructor for every pyramid.Store implementation. File
// backed stores live under t.TempDir() and are closed by t.Cleanup.
func PyramidStores(opts ...pyramid.Option) map[string]func(t *testing.T) pyramid.Store {
	return map[string]func(t *testing.T) pyramid.Store{
		"memory": func(t *testing.T) pyramid.Store {
			s := pyramid.NewMemoryStore(opts...)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"badger": func(t *testing.T) pyramid.Store {
			backend, err := kvstore.Open("", kvstore.WithInMemory())
			require.NoError(t, err)
			s := pyramid.NewStore(backend, opts...)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) pyramid.Store {
			backend, err := sqlstore.Open(filepath.Join(t.TempDir(), "tiles.sqlite"))
			require.NoError(t, err)
			s := pyramid.NewStore(backend, opts...)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"dir": func(t *testing.T) pyramid.Store {
			backend, err := dirstore.Open(filepath.Join(t.TempDir(), "{pyramid}", "{mosaic}", "{row}", "{col}.tile"))
			require.NoError(t, err)
			s := pyramid.NewStore(backend, opts...)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}
