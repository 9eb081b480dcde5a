package dirstore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/eak1mov/go-libpyramid/tile"
)

const metadataFile = "pyramids.json"

// Store implements tile.Store for tiles kept as individual files.
type Store struct {
	filePattern string
	rootDir     string
	pathRegexp  *regexp.Regexp
	logger      *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open creates a Store for the given file pattern. The pattern must contain the
// {pyramid}, {mosaic}, {col} and {row} placeholders.
func Open(filePattern string, opts ...Option) (*Store, error) {
	if err := validatePattern(filePattern); err != nil {
		return nil, err
	}
	pathRegex, err := compilePattern(filePattern)
	if err != nil {
		return nil, err
	}
	s := &Store{
		filePattern: filepath.Clean(filePattern),
		rootDir:     rootDir(filepath.Clean(filePattern)),
		pathRegexp:  pathRegex,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.rootDir, metadataFile)
}

func (s *Store) ReadMetadata() ([]byte, error) {
	data, err := os.ReadFile(s.metadataPath())
	if os.IsNotExist(err) {
		return make([]byte, 0), nil
	}
	return data, err
}

func (s *Store) WriteMetadata(metadata []byte) error {
	if err := os.MkdirAll(s.rootDir, 0755); err != nil {
		return err
	}
	tmp := s.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, metadata, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.metadataPath())
}

func (s *Store) ReadTile(tileID tile.ID) ([]byte, error) {
	if err := validateID(tileID); err != nil {
		return nil, err
	}
	tileData, err := os.ReadFile(formatPattern(s.filePattern, tileID))
	if os.IsNotExist(err) {
		return make([]byte, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return tileData, nil
}

func (s *Store) HasTile(tileID tile.ID) (bool, error) {
	if err := validateID(tileID); err != nil {
		return false, err
	}
	_, err := os.Stat(formatPattern(s.filePattern, tileID))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) WriteTile(tileID tile.ID, tileData []byte) error {
	if err := validateID(tileID); err != nil {
		return err
	}
	filePath := formatPattern(s.filePattern, tileID)

	dirPath := filepath.Dir(filePath)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return err
	}

	return os.WriteFile(filePath, tileData, 0644)
}

func (s *Store) DeleteTile(tileID tile.ID) error {
	if err := validateID(tileID); err != nil {
		return err
	}
	err := os.Remove(formatPattern(s.filePattern, tileID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) DeleteTiles(pyramid, mosaic string) error {
	var removed []string
	err := s.walk(func(tileID tile.ID, filePath string) error {
		if tileID.Pyramid == pyramid && (mosaic == "" || tileID.Mosaic == mosaic) {
			removed = append(removed, filePath)
		}
		return nil
	})
	if err != nil {
		return err
	}
	var errs []error
	for _, filePath := range removed {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	s.logger.Debug("libpyramid: tiles deleted", "pyramid", pyramid, "mosaic", mosaic, "count", len(removed))
	return errors.Join(errs...)
}

func (s *Store) walk(fn func(tile.ID, string) error) error {
	err := filepath.WalkDir(s.rootDir, func(filePath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		matches := s.pathRegexp.FindStringSubmatch(filePath)
		if matches == nil {
			return nil
		}

		col, err := strconv.ParseUint(matches[s.pathRegexp.SubexpIndex("col")], 10, 32)
		if err != nil {
			return err
		}
		row, err := strconv.ParseUint(matches[s.pathRegexp.SubexpIndex("row")], 10, 32)
		if err != nil {
			return err
		}

		return fn(tile.ID{
			Pyramid: matches[s.pathRegexp.SubexpIndex("pyramid")],
			Mosaic:  matches[s.pathRegexp.SubexpIndex("mosaic")],
			Col:     uint32(col),
			Row:     uint32(row),
		}, filePath)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return s.walk(func(tileID tile.ID, filePath string) error {
		tileData, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		return visitor(tileID, tileData)
	})
}
