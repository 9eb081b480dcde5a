package pyramid

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/eak1mov/go-libpyramid/crs"
	"github.com/eak1mov/go-libpyramid/raster"
)

type mosaicKey struct {
	pyramid string
	mosaic  string
}

// MemoryStore keeps decoded tiles in memory. Tiles are copied on write and on read.
type MemoryStore struct {
	ids    IDGenerator
	logger *slog.Logger

	mu      sync.RWMutex
	catalog *catalog
	tiles   map[mosaicKey]map[TileCoord]*raster.Raster
	refs    refCache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. Codec and cache options are ignored.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := newStoreConfig(opts)
	return &MemoryStore{
		ids:     cfg.ids,
		logger:  cfg.logger,
		catalog: &catalog{},
		tiles:   make(map[mosaicKey]map[TileCoord]*raster.Raster),
	}
}

func (s *MemoryStore) PyramidSet(ctx context.Context) (*PyramidSet, error) {
	if set, ok := s.refs.get(); ok {
		return set, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.catalog.build()
	s.refs.put(s.refs.generation(), set)
	return set, nil
}

func (s *MemoryStore) CreatePyramid(ctx context.Context, c crs.CRS) (*Pyramid, error) {
	if c == nil {
		return nil, fmt.Errorf("libpyramid: pyramid without CRS")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids()
	if s.catalog.pyramid(id) >= 0 {
		return nil, fmt.Errorf("libpyramid: duplicate pyramid id %q", id)
	}
	s.catalog.Pyramids = append(s.catalog.Pyramids, catalogPyramid{ID: id, CRS: c})
	s.refs.invalidate()
	s.logger.Debug("libpyramid: pyramid created", "pyramid", id, "crs", c.Name())
	return &Pyramid{ID: id, CRS: c}, nil
}

func (s *MemoryStore) CreateMosaic(ctx context.Context, pyramidID string, spec MosaicSpec) (*Mosaic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids()
	if err := s.catalog.addMosaic(pyramidID, id, spec); err != nil {
		return nil, err
	}
	s.refs.invalidate()
	p := s.catalog.Pyramids[s.catalog.pyramid(pyramidID)]
	s.logger.Debug("libpyramid: mosaic created", "pyramid", pyramidID, "mosaic", id, "scale", spec.Scale)
	return newMosaic(&Pyramid{ID: p.ID, CRS: p.CRS}, id, spec), nil
}

func (s *MemoryStore) DeletePyramid(ctx context.Context, pyramidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.catalog.removePyramid(pyramidID); err != nil {
		return err
	}
	for key := range s.tiles {
		if key.pyramid == pyramidID {
			delete(s.tiles, key)
		}
	}
	s.refs.invalidate()
	return nil
}

func (s *MemoryStore) DeleteMosaic(ctx context.Context, pyramidID, mosaicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.catalog.removeMosaic(pyramidID, mosaicID); err != nil {
		return err
	}
	delete(s.tiles, mosaicKey{pyramidID, mosaicID})
	s.refs.invalidate()
	return nil
}

func (s *MemoryStore) resolve(ctx context.Context, m *Mosaic) error {
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

func (s *MemoryStore) ReadTile(ctx context.Context, m *Mosaic, c TileCoord) (*Tile, error) {
	s.mu.RLock()
	r, ok := s.tiles[mosaicKey{m.PyramidID, m.ID}][c]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &Tile{Coord: c, Image: r.Clone()}, nil
}

func (s *MemoryStore) HasTile(ctx context.Context, m *Mosaic, c TileCoord) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tiles[mosaicKey{m.PyramidID, m.ID}][c]
	return ok, nil
}

func (s *MemoryStore) WriteTile(ctx context.Context, m *Mosaic, c TileCoord, r *raster.Raster) error {
	if err := validateTile(m, c, r); err != nil {
		return err
	}
	if err := s.resolve(ctx, m); err != nil {
		return err
	}
	stored := r.Clone().Translate(image.Point{})
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mosaicKey{m.PyramidID, m.ID}
	if s.tiles[key] == nil {
		s.tiles[key] = make(map[TileCoord]*raster.Raster)
	}
	s.tiles[key][c] = stored
	return nil
}

func (s *MemoryStore) DeleteTile(ctx context.Context, m *Mosaic, c TileCoord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tiles[mosaicKey{m.PyramidID, m.ID}], c)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles = nil
	return nil
}
