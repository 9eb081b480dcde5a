// Package config loads the TOML configuration of the pyramid tools and opens the stores
// and loggers it describes.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/lumberjack"

	"github.com/eak1mov/go-libpyramid/dirstore"
	"github.com/eak1mov/go-libpyramid/kvstore"
	"github.com/eak1mov/go-libpyramid/pack"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
	"github.com/eak1mov/go-libpyramid/sqlstore"
	"github.com/eak1mov/go-libpyramid/tile"
)

// Store kinds.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindDir    = "dir"
	KindBadger = "badger"
	KindPack   = "pack"
)

type Config struct {
	Store StoreConfig `toml:"store"`
	Cache CacheConfig `toml:"cache"`
	Write WriteConfig `toml:"write"`
	Log   LogConfig   `toml:"log"`
}

type StoreConfig struct {
	Kind string `toml:"kind"`
	// Path is a file for sqlite and pack, a directory for badger and a tile file
	// pattern for dir.
	Path        string `toml:"path"`
	ReadOnly    bool   `toml:"read_only"`
	Compression string `toml:"compression"`
}

type CacheConfig struct {
	TileBytes int `toml:"tile_bytes"`
	ViewTiles int `toml:"view_tiles"`
}

type WriteConfig struct {
	Workers       int       `toml:"workers"`
	Interpolation string    `toml:"interpolation"`
	Fill          []float64 `toml:"fill"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	MaxSize int    `toml:"max_log_size"` // megabytes
	MaxAge  int    `toml:"max_log_age"`  // days
}

// Default returns the configuration used for missing keys.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Kind: KindMemory, Compression: raster.CompressionZstd.String()},
		Cache: CacheConfig{TileBytes: 32 << 20, ViewTiles: 64},
		Write: WriteConfig{Workers: runtime.GOMAXPROCS(0), Interpolation: raster.Nearest.String()},
		Log:   LogConfig{Level: "info", MaxSize: 100, MaxAge: 30},
	}
}

// Load reads a TOML file over the defaults. Relative store and log paths are resolved
// against the directory of the file.
func Load(filePath string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(filePath, c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("libpyramid: unknown configuration keys %v", undecoded)
	}
	dir := filepath.Dir(filePath)
	if c.Store.Path != "" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(dir, c.Store.Path)
	}
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		c.Log.File = filepath.Join(dir, c.Log.File)
	}
	return c, c.Validate()
}

// Parse decodes TOML data over the defaults.
func Parse(data string) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(data, c); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) Validate() error {
	switch c.Store.Kind {
	case KindMemory:
	case KindSQLite, KindDir, KindBadger, KindPack:
		if c.Store.Path == "" {
			return fmt.Errorf("libpyramid: store kind %q needs a path", c.Store.Kind)
		}
	default:
		return fmt.Errorf("libpyramid: unknown store kind %q", c.Store.Kind)
	}
	if _, err := raster.ParseCompression(c.Store.Compression); err != nil {
		return err
	}
	if _, err := raster.ParseInterpolation(c.Write.Interpolation); err != nil {
		return err
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Cache.TileBytes < 0 || c.Cache.ViewTiles < 0 || c.Write.Workers < 0 {
		return errors.New("libpyramid: negative cache size or worker count")
	}
	return nil
}

// Interpolation returns the configured resampling method.
func (c *Config) Interpolation() raster.Interpolation {
	interp, _ := raster.ParseInterpolation(c.Write.Interpolation)
	return interp
}

// OpenBackend opens the byte-level tile store. It fails for the memory kind.
func (c *Config) OpenBackend(logger *slog.Logger) (tile.Store, error) {
	s := c.Store
	switch s.Kind {
	case KindSQLite:
		opts := []sqlstore.Option{sqlstore.WithLogger(logger)}
		if s.ReadOnly {
			opts = append(opts, sqlstore.WithReadOnly())
		}
		return sqlstore.Open(s.Path, opts...)
	case KindDir:
		return dirstore.Open(s.Path, dirstore.WithLogger(logger))
	case KindBadger:
		opts := []kvstore.Option{kvstore.WithLogger(logger)}
		if s.ReadOnly {
			opts = append(opts, kvstore.WithReadOnly())
		}
		return kvstore.Open(s.Path, opts...)
	case KindPack:
		return pack.Open(s.Path, pack.WithReaderLogger(logger))
	}
	return nil, fmt.Errorf("libpyramid: store kind %q has no tile backend", s.Kind)
}

// OpenStore opens the configured pyramid store.
func (c *Config) OpenStore(logger *slog.Logger) (pyramid.Store, error) {
	compression, err := raster.ParseCompression(c.Store.Compression)
	if err != nil {
		return nil, err
	}
	opts := []pyramid.Option{
		pyramid.WithLogger(logger),
		pyramid.WithCodec(raster.Codec{Compression: compression}),
	}
	if c.Store.Kind == KindMemory {
		return pyramid.NewMemoryStore(opts...), nil
	}
	backend, err := c.OpenBackend(logger)
	if err != nil {
		return nil, err
	}
	if c.Cache.TileBytes > 0 {
		opts = append(opts, pyramid.WithTileCache(c.Cache.TileBytes))
	}
	return pyramid.NewStore(backend, opts...), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("libpyramid: invalid log level %q", s)
	}
	return level, nil
}

// Logger returns a text logger writing to the rotating log file, or to stderr when no
// file is configured. The returned closer releases the log file.
func (c LogConfig) Logger(stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = stderr
	var closer io.Closer = io.NopCloser(nil)
	if c.File != "" {
		l := &lumberjack.Logger{
			Filename: c.File,
			MaxSize:  c.MaxSize,
			MaxAge:   c.MaxAge,
		}
		w, closer = l, l
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}
