package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/eak1mov/go-libpyramid/config"
	"github.com/eak1mov/go-libpyramid/pyramid"
	"github.com/eak1mov/go-libpyramid/raster"
)

// storeFlags selects the store of a command: a TOML configuration file, optionally
// overridden by -store and -path.
type storeFlags struct {
	configPath string
	kind       string
	path       string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&f.kind, "store", "", "Store kind (sqlite, dir, badger, pack)")
	fs.StringVar(&f.path, "path", "", "Store path")
}

func (f *storeFlags) load() (*config.Config, error) {
	c := config.Default()
	if f.configPath != "" {
		var err error
		if c, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	if f.kind != "" {
		c.Store.Kind = f.kind
	}
	if f.path != "" {
		c.Store.Path = f.path
		if f.kind == "" {
			c.Store.Kind = deduceKind(f.path)
		}
	}
	if c.Store.Kind == config.KindMemory {
		return nil, errors.New("a persistent store is required (-store, -path or -config)")
	}
	return c, c.Validate()
}

func deduceKind(path string) string {
	switch {
	case strings.HasSuffix(path, ".sqlite"), strings.HasSuffix(path, ".db"):
		return config.KindSQLite
	case strings.HasSuffix(path, ".pack"):
		return config.KindPack
	case strings.Contains(path, "{col}"):
		return config.KindDir
	}
	return config.KindBadger
}

// env is the runtime of one command: its configuration, logger and store.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  pyramid.Store
	closer io.Closer
}

func (f *storeFlags) open() (*env, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	logger, closer, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore(logger)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store, closer: closer}, nil
}

func (e *env) Close() error {
	return errors.Join(e.store.Close(), e.closer.Close())
}

func parseFloats(s string, n int) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if n > 0 && len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated numbers, got %q", n, s)
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// readRaster loads a PNG image or an encoded raster.
func readRaster(path string) (*raster.Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return raster.Codec{}.Decode(data)
}

// writeRaster saves r as PNG when path ends with .png, as an encoded raster otherwise.
func writeRaster(path string, r *raster.Raster, compression raster.Compression) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	if strings.HasSuffix(path, ".png") {
		return raster.EncodePNG(f, r)
	}
	data, err := raster.Codec{Compression: compression}.Encode(r)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}
