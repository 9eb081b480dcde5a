package pyramid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coocood/freecache"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/tile"
)

// BackendStore implements Store over a byte-level tile backend. The catalog of pyramids
// and mosaics is kept as the backend metadata document; tiles are encoded with the
// configured raster codec.
type BackendStore struct {
	backend tile.Store
	codec   raster.Codec
	ids     IDGenerator
	logger  *slog.Logger
	cache   *freecache.Cache

	mu   sync.Mutex
	refs refCache

	// tileGen counts tile writes and deletions; a cache fill racing with one is dropped.
	tileGen atomic.Uint64
}

var _ Store = (*BackendStore)(nil)

// NewStore wraps backend. The backend is closed by Close.
func NewStore(backend tile.Store, opts ...Option) *BackendStore {
	cfg := newStoreConfig(opts)
	s := &BackendStore{
		backend: backend,
		codec:   cfg.codec,
		ids:     cfg.ids,
		logger:  cfg.logger,
	}
	if cfg.cacheBytes > 0 {
		s.cache = freecache.NewCache(cfg.cacheBytes)
	}
	return s
}

// Backend returns the wrapped byte store.
func (s *BackendStore) Backend() tile.Store {
	return s.backend
}

func (s *BackendStore) loadCatalog() (*catalog, error) {
	data, err := s.backend.ReadMetadata()
	if err != nil {
		return nil, fmt.Errorf("libpyramid: read catalog: %w", err)
	}
	return decodeCatalog(data)
}

// updateCatalog applies fn to a copy of the persisted catalog and writes it back.
func (s *BackendStore) updateCatalog(fn func(c *catalog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadCatalog()
	if err != nil {
		return err
	}
	c = c.clone()
	if err := fn(c); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	defer s.refs.invalidate()
	if err := s.backend.WriteMetadata(data); err != nil {
		return fmt.Errorf("libpyramid: write catalog: %w", err)
	}
	return nil
}

func (s *BackendStore) PyramidSet(ctx context.Context) (*PyramidSet, error) {
	if set, ok := s.refs.get(); ok {
		return set, nil
	}
	gen := s.refs.generation()
	c, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	set := c.build()
	if !s.refs.put(gen, set) {
		s.logger.Debug("libpyramid: catalog changed while loading, not cached")
	}
	return set, nil
}

func (s *BackendStore) CreatePyramid(ctx context.Context, c crs.CRS) (*Pyramid, error) {
	if c == nil {
		return nil, fmt.Errorf("libpyramid: pyramid without CRS")
	}
	if _, err := crs.Parse(c.Name()); err != nil {
		return nil, fmt.Errorf("libpyramid: CRS cannot be persisted: %w", err)
	}
	id := s.ids()
	err := s.updateCatalog(func(cat *catalog) error {
		if cat.pyramid(id) >= 0 {
			return fmt.Errorf("libpyramid: duplicate pyramid id %q", id)
		}
		cat.Pyramids = append(cat.Pyramids, catalogPyramid{ID: id, CRS: c})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("libpyramid: pyramid created", "pyramid", id, "crs", c.Name())
	return &Pyramid{ID: id, CRS: c}, nil
}

func (s *BackendStore) CreateMosaic(ctx context.Context, pyramidID string, spec MosaicSpec) (*Mosaic, error) {
	id := s.ids()
	var p *Pyramid
	err := s.updateCatalog(func(cat *catalog) error {
		if err := cat.addMosaic(pyramidID, id, spec); err != nil {
			return err
		}
		cp := cat.Pyramids[cat.pyramid(pyramidID)]
		p = &Pyramid{ID: cp.ID, CRS: cp.CRS}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("libpyramid: mosaic created", "pyramid", pyramidID, "mosaic", id, "scale", spec.Scale)
	return newMosaic(p, id, spec), nil
}

func (s *BackendStore) DeletePyramid(ctx context.Context, pyramidID string) error {
	if err := s.updateCatalog(func(c *catalog) error { return c.removePyramid(pyramidID) }); err != nil {
		return err
	}
	defer s.clearCache()
	return s.backend.DeleteTiles(pyramidID, "")
}

func (s *BackendStore) DeleteMosaic(ctx context.Context, pyramidID, mosaicID string) error {
	if err := s.updateCatalog(func(c *catalog) error { return c.removeMosaic(pyramidID, mosaicID) }); err != nil {
		return err
	}
	defer s.clearCache()
	return s.backend.DeleteTiles(pyramidID, mosaicID)
}

func (s *BackendStore) clearCache() {
	s.tileGen.Add(1)
	if s.cache != nil {
		s.cache.Clear()
	}
}

// forget drops a tile from the cache after the backend copy changed.
func (s *BackendStore) forget(id tile.ID) {
	s.tileGen.Add(1)
	if s.cache != nil {
		s.cache.Del([]byte(id.String()))
	}
}

func tileID(m *Mosaic, c TileCoord) tile.ID {
	return tile.ID{Pyramid: m.PyramidID, Mosaic: m.ID, Col: uint32(c.Col), Row: uint32(c.Row)}
}

func (s *BackendStore) readBytes(m *Mosaic, c TileCoord) ([]byte, error) {
	id := tileID(m, c)
	key := []byte(id.String())
	if s.cache != nil {
		if data, err := s.cache.Get(key); err == nil {
			return data, nil
		}
	}
	gen := s.tileGen.Load()
	data, err := s.backend.ReadTile(id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && len(data) > 0 {
		if err := s.cache.Set(key, data, 0); err != nil {
			s.logger.Debug("libpyramid: tile not cached", "tile", id, "error", err)
		}
		// A write or delete finished after the backend read: the bytes may be stale.
		if s.tileGen.Load() != gen {
			s.cache.Del(key)
		}
	}
	return data, nil
}

// ReadTile returns a tile referencing its encoded image; decoding happens in Tile.Load.
func (s *BackendStore) ReadTile(ctx context.Context, m *Mosaic, c TileCoord) (*Tile, error) {
	if !m.Valid(c) {
		return nil, nil
	}
	data, err := s.readBytes(m, c)
	if err != nil {
		return nil, fmt.Errorf("libpyramid: read tile %v: %w", tileID(m, c), err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &Tile{Coord: c, Source: &TileSource{Reader: raster.NewBytesReader(s.codec, data)}}, nil
}

func (s *BackendStore) HasTile(ctx context.Context, m *Mosaic, c TileCoord) (bool, error) {
	if !m.Valid(c) {
		return false, nil
	}
	id := tileID(m, c)
	if s.cache != nil {
		if _, err := s.cache.Get([]byte(id.String())); err == nil {
			return true, nil
		}
	}
	if checker, ok := s.backend.(tile.Checker); ok {
		return checker.HasTile(id)
	}
	data, err := s.backend.ReadTile(id)
	return len(data) > 0, err
}

func (s *BackendStore) resolve(ctx context.Context, m *Mosaic) error {
	if _, ok := s.refs.lookup(m.PyramidID, m.ID); ok {
		return nil
	}
	set, err := s.PyramidSet(ctx)
	if err != nil {
		return err
	}
	if p, ok := set.Pyramid(m.PyramidID); ok {
		if _, ok := p.Mosaic(m.ID); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: mosaic %q of pyramid %q", ErrNotFound, m.ID, m.PyramidID)
}

func (s *BackendStore) WriteTile(ctx context.Context, m *Mosaic, c TileCoord, r *raster.Raster) error {
	if err := validateTile(m, c, r); err != nil {
		return err
	}
	if err := s.resolve(ctx, m); err != nil {
		return err
	}
	data, err := s.codec.Encode(r.Translate(image.Point{}))
	if err != nil {
		return err
	}
	id := tileID(m, c)
	if err := s.backend.WriteTile(id, data); err != nil {
		return fmt.Errorf("libpyramid: write tile %v: %w", id, err)
	}
	s.forget(id)
	return nil
}

func (s *BackendStore) DeleteTile(ctx context.Context, m *Mosaic, c TileCoord) error {
	id := tileID(m, c)
	defer s.forget(id)
	return s.backend.DeleteTile(id)
}

// Close finalizes and closes the backend.
func (s *BackendStore) Close() error {
	var errs []error
	if f, ok := s.backend.(tile.Finalizer); ok {
		errs = append(errs, f.Finalize())
	}
	errs = append(errs, s.backend.Close())
	if s.cache != nil {
		s.logger.Debug("libpyramid: tile cache stats",
			"hits", s.cache.HitCount(), "misses", s.cache.MissCount(), "entries", s.cache.EntryCount())
	}
	return errors.Join(errs...)
}
