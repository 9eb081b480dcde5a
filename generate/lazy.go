package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/eak1mov/go-libpyramid/pyramid"
)

// LazyStore is a pyramid.Store whose missing tiles are generated on read. Generated
// tiles holding only fill values stay missing.
type LazyStore struct {
	pyramid.Store
	gen     *Generator
	persist bool
	group   singleflight.Group
	logger  *slog.Logger
}

var _ pyramid.Store = (*LazyStore)(nil)

type LazyOption func(*LazyStore)

// WithPersist writes generated non-empty tiles back into the wrapped store.
func WithPersist() LazyOption {
	return func(s *LazyStore) { s.persist = true }
}

func WithLazyLogger(logger *slog.Logger) LazyOption {
	return func(s *LazyStore) { s.logger = logger }
}

func NewLazyStore(store pyramid.Store, gen *Generator, opts ...LazyOption) *LazyStore {
	s := &LazyStore{
		Store:  store,
		gen:    gen,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LazyStore) ReadTile(ctx context.Context, m *pyramid.Mosaic, c pyramid.TileCoord) (*pyramid.Tile, error) {
	t, err := s.Store.ReadTile(ctx, m, c)
	if err != nil || t != nil {
		return t, err
	}
	if !m.Valid(c) {
		return nil, nil
	}

	key := fmt.Sprintf("%s/%s/%d/%d", m.PyramidID, m.ID, c.Col, c.Row)
	// The generation is shared: it must outlive a cancelled caller.
	ch := s.group.DoChan(key, func() (any, error) {
		return s.generate(context.WithoutCancel(ctx), m, c)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if t = res.Val.(*pyramid.Tile); t == nil {
		return nil, nil
	}
	// Callers sharing one generation get their own copy of the samples.
	return &pyramid.Tile{Coord: t.Coord, Image: t.Image.Clone(), Empty: t.Empty}, nil
}

func (s *LazyStore) generate(ctx context.Context, m *pyramid.Mosaic, c pyramid.TileCoord) (*pyramid.Tile, error) {
	set, err := s.Store.PyramidSet(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := set.Pyramid(m.PyramidID)
	if !ok {
		return nil, fmt.Errorf("%w: pyramid %s", pyramid.ErrNotFound, m.PyramidID)
	}
	t, err := s.gen.GenerateTile(ctx, p, m, c)
	if err != nil {
		return nil, err
	}
	if t.Empty {
		return nil, nil
	}
	if s.persist {
		err := s.Store.WriteTile(ctx, m, c, t.Image)
		switch {
		case errors.Is(err, pyramid.ErrReadOnly):
			s.logger.Warn("libpyramid: generated tile not persisted", "mosaic", m.ID, "tile", c, "error", err)
		case err != nil:
			return nil, err
		default:
			s.logger.Debug("libpyramid: generated tile persisted", "mosaic", m.ID, "tile", c)
		}
	}
	return t, nil
}

// HasTile reports whether the tile is stored or would be generated with data.
func (s *LazyStore) HasTile(ctx context.Context, m *pyramid.Mosaic, c pyramid.TileCoord) (bool, error) {
	ok, err := s.Store.HasTile(ctx, m, c)
	if err != nil || ok {
		return ok, err
	}
	t, err := s.ReadTile(ctx, m, c)
	return t != nil, err
}
