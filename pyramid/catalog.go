package pyramid

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/eak1mov/go-libpyramid/crs"
)

// catalog is the persisted structure of a store: pyramids and mosaics without tiles.
type catalog struct {
	Pyramids []catalogPyramid `json:"pyramids"`
}

type catalogPyramid struct {
	ID      string          `json:"id"`
	CRS     crs.CRS         `json:"-"`
	Mosaics []catalogMosaic `json:"mosaics"`
}

type catalogMosaic struct {
	ID        string    `json:"id"`
	UpperLeft []float64 `json:"upper_left"`
	GridSize  Size      `json:"grid_size"`
	TileSize  Size      `json:"tile_size"`
	Scale     float64   `json:"scale"`
}

func (p catalogPyramid) MarshalJSON() ([]byte, error) {
	type plain catalogPyramid
	return json.Marshal(struct {
		plain
		CRSName string `json:"crs"`
	}{plain(p), p.CRS.Name()})
}

func (p *catalogPyramid) UnmarshalJSON(data []byte) error {
	type plain catalogPyramid
	var v struct {
		plain
		CRSName string `json:"crs"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c, err := crs.Parse(v.CRSName)
	if err != nil {
		return err
	}
	*p = catalogPyramid(v.plain)
	p.CRS = c
	return nil
}

func decodeCatalog(data []byte) (*catalog, error) {
	c := &catalog{}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("libpyramid: decode catalog: %w", err)
	}
	return c, nil
}

func (c *catalog) clone() *catalog {
	r := &catalog{Pyramids: make([]catalogPyramid, len(c.Pyramids))}
	for i, p := range c.Pyramids {
		r.Pyramids[i] = catalogPyramid{ID: p.ID, CRS: p.CRS, Mosaics: slices.Clone(p.Mosaics)}
		for j := range r.Pyramids[i].Mosaics {
			r.Pyramids[i].Mosaics[j].UpperLeft = slices.Clone(p.Mosaics[j].UpperLeft)
		}
	}
	return r
}

func (c *catalog) pyramid(id string) int {
	return slices.IndexFunc(c.Pyramids, func(p catalogPyramid) bool { return p.ID == id })
}

func (c *catalog) addMosaic(pyramidID, id string, spec MosaicSpec) error {
	i := c.pyramid(pyramidID)
	if i < 0 {
		return fmt.Errorf("%w: pyramid %q", ErrNotFound, pyramidID)
	}
	if err := validateSpec(c.Pyramids[i].CRS, spec); err != nil {
		return err
	}
	c.Pyramids[i].Mosaics = append(c.Pyramids[i].Mosaics, catalogMosaic{
		ID:        id,
		UpperLeft: slices.Clone(spec.UpperLeft),
		GridSize:  spec.GridSize,
		TileSize:  spec.TileSize,
		Scale:     spec.Scale,
	})
	return nil
}

func (c *catalog) removePyramid(id string) error {
	i := c.pyramid(id)
	if i < 0 {
		return fmt.Errorf("%w: pyramid %q", ErrNotFound, id)
	}
	c.Pyramids = slices.Delete(c.Pyramids, i, i+1)
	return nil
}

func (c *catalog) removeMosaic(pyramidID, mosaicID string) error {
	i := c.pyramid(pyramidID)
	if i < 0 {
		return fmt.Errorf("%w: pyramid %q", ErrNotFound, pyramidID)
	}
	mosaics := c.Pyramids[i].Mosaics
	j := slices.IndexFunc(mosaics, func(m catalogMosaic) bool { return m.ID == mosaicID })
	if j < 0 {
		return fmt.Errorf("%w: mosaic %q of pyramid %q", ErrNotFound, mosaicID, pyramidID)
	}
	c.Pyramids[i].Mosaics = slices.Delete(mosaics, j, j+1)
	return nil
}

// build returns fresh model objects for the catalog.
func (c *catalog) build() *PyramidSet {
	set := &PyramidSet{Pyramids: make([]*Pyramid, 0, len(c.Pyramids))}
	for _, cp := range c.Pyramids {
		p := &Pyramid{ID: cp.ID, CRS: cp.CRS, Mosaics: make([]*Mosaic, 0, len(cp.Mosaics))}
		for _, cm := range cp.Mosaics {
			p.Mosaics = append(p.Mosaics, newMosaic(p, cm.ID, MosaicSpec{
				UpperLeft: cm.UpperLeft,
				GridSize:  cm.GridSize,
				TileSize:  cm.TileSize,
				Scale:     cm.Scale,
			}))
		}
		p.sortMosaics()
		set.Pyramids = append(set.Pyramids, p)
	}
	return set
}

// refCache holds the model references built from the catalog of one store. Stores
// invalidate it on every structure change they perform; snapshots handed out before
// an invalidation stay valid but stale. A set built from a catalog read before an
// invalidation is never cached.
type refCache struct {
	mu  sync.RWMutex
	set *PyramidSet
	gen uint64
}

func (c *refCache) get() (*PyramidSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set, c.set != nil
}

// generation returns the invalidation count to pass to put.
func (c *refCache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// put caches set unless the cache was invalidated since gen was taken.
func (c *refCache) put(gen uint64, set *PyramidSet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.set = set
	return true
}

func (c *refCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = nil
	c.gen++
}

// lookup resolves a pyramid and mosaic id into a reference of the cached set.
func (c *refCache) lookup(pyramidID, mosaicID string) (*Mosaic, bool) {
	set, ok := c.get()
	if !ok {
		return nil, false
	}
	p, ok := set.Pyramid(pyramidID)
	if !ok {
		return nil, false
	}
	return p.Mosaic(mosaicID)
}
