// Package kvstore stores encoded pyramid tiles in an embedded Badger key-value database.
package kvstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/eak1mov/go-libpyramid/tile"
)

var ErrInvalidKey = errors.New("libpyramid: invalid tile key")

var (
	metadataKey = []byte("m\x00pyramids")
	tilePrefix  = []byte("t\x00")
)

// Store implements tile.Store on top of Badger. Keys are
// "t\0<pyramid>\0<mosaic>\0" followed by big-endian column and row.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

type config struct {
	InMemory bool
	ReadOnly bool
	Logger   *slog.Logger
}

type Option func(*config)

// WithInMemory keeps the database in memory only; the path is ignored.
func WithInMemory() Option {
	return func(c *config) { c.InMemory = true }
}

func WithReadOnly() Option {
	return func(c *config) { c.ReadOnly = true }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.Logger = logger }
}

// Open opens (creating if needed) the database directory at path.
//
// The returned Store must be closed after use to release database resources.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	options := badger.DefaultOptions(path).
		WithLogger(badgerLogger{cfg.Logger}).
		WithReadOnly(cfg.ReadOnly)
	if cfg.InMemory {
		options = badger.DefaultOptions("").
			WithLogger(badgerLogger{cfg.Logger}).
			WithInMemory(true)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("libpyramid: open badger store %q: %w", path, err)
	}
	return &Store{db: db, logger: cfg.Logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func validateID(tileID tile.ID) error {
	if !tileID.Valid() || strings.ContainsRune(tileID.Pyramid, 0) || strings.ContainsRune(tileID.Mosaic, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidKey, tileID)
	}
	return nil
}

func mosaicPrefix(pyramid, mosaic string) []byte {
	key := append([]byte(nil), tilePrefix...)
	key = append(key, pyramid...)
	key = append(key, 0)
	if mosaic != "" {
		key = append(key, mosaic...)
		key = append(key, 0)
	}
	return key
}

func encodeKey(tileID tile.ID) []byte {
	key := mosaicPrefix(tileID.Pyramid, tileID.Mosaic)
	key = binary.BigEndian.AppendUint32(key, tileID.Col)
	key = binary.BigEndian.AppendUint32(key, tileID.Row)
	return key
}

func decodeKey(key []byte) (tile.ID, error) {
	rest, ok := bytes.CutPrefix(key, tilePrefix)
	if !ok || len(rest) < 8 {
		return tile.ID{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	names := bytes.Split(rest[:len(rest)-8], []byte{0})
	if len(names) != 3 || len(names[2]) != 0 {
		return tile.ID{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	coords := rest[len(rest)-8:]
	return tile.ID{
		Pyramid: string(names[0]),
		Mosaic:  string(names[1]),
		Col:     binary.BigEndian.Uint32(coords[:4]),
		Row:     binary.BigEndian.Uint32(coords[4:]),
	}, nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	value := make([]byte, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

func (s *Store) ReadMetadata() ([]byte, error) {
	return s.get(metadataKey)
}

func (s *Store) WriteMetadata(metadata []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metadataKey, metadata)
	})
}

func (s *Store) ReadTile(tileID tile.ID) ([]byte, error) {
	if err := validateID(tileID); err != nil {
		return nil, err
	}
	return s.get(encodeKey(tileID))
}

func (s *Store) HasTile(tileID tile.ID) (bool, error) {
	if err := validateID(tileID); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(encodeKey(tileID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (s *Store) WriteTile(tileID tile.ID, tileData []byte) error {
	if err := validateID(tileID); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(tileID), tileData)
	})
}

func (s *Store) DeleteTile(tileID tile.ID) error {
	if err := validateID(tileID); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encodeKey(tileID))
	})
}

func (s *Store) DeleteTiles(pyramid, mosaic string) error {
	if pyramid == "" {
		return fmt.Errorf("%w: empty pyramid id", ErrInvalidKey)
	}
	s.logger.Debug("libpyramid: dropping tiles", "pyramid", pyramid, "mosaic", mosaic)
	return s.db.DropPrefix(mosaicPrefix(pyramid, mosaic))
}

func (s *Store) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tilePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(tilePrefix); it.ValidForPrefix(tilePrefix); it.Next() {
			item := it.Item()
			tileID, err := decodeKey(item.Key())
			if err != nil {
				return err
			}
			tileData, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := visitor(tileID, tileData); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger forwards badger's printf-style logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}
