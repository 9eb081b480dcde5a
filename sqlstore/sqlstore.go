// Package sqlstore stores encoded pyramid tiles in a SQLite database.
//
// Note: User must properly initialize the sqlite3 library generic driver
// (e.g. import _ "github.com/mattn/go-sqlite3") before using this package.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eak1mov/go-libpyramid/tile"
)

const metadataKey = "pyramids"

// Store implements tile.Store on top of a SQLite database with "metadata" and "tiles"
// tables.
type Store struct {
	db       *sql.DB
	readOnly bool
	selectSt *sql.Stmt
	existsSt *sql.Stmt
	insertSt *sql.Stmt
	deleteSt *sql.Stmt
	logger   *slog.Logger
}

type config struct {
	ReadOnly bool
	Logger   *slog.Logger
}

type Option func(*config)

func WithReadOnly() Option {
	return func(c *config) { c.ReadOnly = true }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.Logger = logger }
}

// Open opens (creating if needed) the database at filePath.
//
// The returned Store must be closed after use to release database resources.
func Open(filePath string, opts ...Option) (*Store, error) {
	cfg := config{
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Concurrent writers wait for the database lock instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000", filePath)
	if cfg.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", filePath)
	}

	var err error
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	if !cfg.ReadOnly {
		_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS metadata (name TEXT PRIMARY KEY, value BLOB);
			CREATE TABLE IF NOT EXISTS tiles (
				pyramid_id TEXT,
				mosaic_id TEXT,
				tile_column INTEGER,
				tile_row INTEGER,
				tile_data BLOB,
				PRIMARY KEY (pyramid_id, mosaic_id, tile_column, tile_row)
			);
		`)
		if err != nil {
			return nil, err
		}
	}

	s := &Store{db: db, readOnly: cfg.ReadOnly, logger: cfg.Logger}
	const where = " WHERE pyramid_id = ? AND mosaic_id = ? AND tile_column = ? AND tile_row = ?"
	if s.selectSt, err = db.Prepare("SELECT tile_data FROM tiles" + where); err != nil {
		return nil, err
	}
	if s.existsSt, err = db.Prepare("SELECT 1 FROM tiles" + where); err != nil {
		s.closeStatements()
		return nil, err
	}
	if !cfg.ReadOnly {
		s.insertSt, err = db.Prepare("INSERT OR REPLACE INTO tiles (pyramid_id, mosaic_id, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			s.closeStatements()
			return nil, err
		}
		if s.deleteSt, err = db.Prepare("DELETE FROM tiles" + where); err != nil {
			s.closeStatements()
			return nil, err
		}
	}

	s.logger.Debug("libpyramid: sqlite store opened", "path", filePath, "readOnly", cfg.ReadOnly)
	return s, nil
}

func (s *Store) closeStatements() error {
	var errs []error
	for _, st := range []*sql.Stmt{s.selectSt, s.existsSt, s.insertSt, s.deleteSt} {
		if st != nil {
			errs = append(errs, st.Close())
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Close() error {
	return errors.Join(s.closeStatements(), s.db.Close())
}

func (s *Store) ReadMetadata() ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM metadata WHERE name = ?", metadataKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return make([]byte, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) WriteMetadata(metadata []byte) error {
	if s.readOnly {
		return tile.ErrReadOnly
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", metadataKey, metadata)
	return err
}

func (s *Store) ReadTile(tileID tile.ID) ([]byte, error) {
	var tileData []byte
	if err := s.selectSt.QueryRow(tileID.Pyramid, tileID.Mosaic, tileID.Col, tileID.Row).Scan(&tileData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return make([]byte, 0), nil
		}
		return nil, err
	}
	return tileData, nil
}

func (s *Store) HasTile(tileID tile.ID) (bool, error) {
	var one int
	err := s.existsSt.QueryRow(tileID.Pyramid, tileID.Mosaic, tileID.Col, tileID.Row).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) WriteTile(tileID tile.ID, tileData []byte) error {
	if s.readOnly {
		return tile.ErrReadOnly
	}
	_, err := s.insertSt.Exec(tileID.Pyramid, tileID.Mosaic, tileID.Col, tileID.Row, tileData)
	return err
}

func (s *Store) DeleteTile(tileID tile.ID) error {
	if s.readOnly {
		return tile.ErrReadOnly
	}
	_, err := s.deleteSt.Exec(tileID.Pyramid, tileID.Mosaic, tileID.Col, tileID.Row)
	return err
}

func (s *Store) DeleteTiles(pyramid, mosaic string) error {
	if s.readOnly {
		return tile.ErrReadOnly
	}
	var res sql.Result
	var err error
	if mosaic == "" {
		res, err = s.db.Exec("DELETE FROM tiles WHERE pyramid_id = ?", pyramid)
	} else {
		res, err = s.db.Exec("DELETE FROM tiles WHERE pyramid_id = ? AND mosaic_id = ?", pyramid, mosaic)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("libpyramid: tiles deleted", "pyramid", pyramid, "mosaic", mosaic, "count", n)
	}
	return nil
}

func (s *Store) VisitTiles(visitor func(tile.ID, []byte) error) error {
	rows, err := s.db.Query("SELECT pyramid_id, mosaic_id, tile_column, tile_row, tile_data FROM tiles")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tileID tile.ID
		var tileData []byte

		if err := rows.Scan(&tileID.Pyramid, &tileID.Mosaic, &tileID.Col, &tileID.Row, &tileData); err != nil {
			return err
		}

		if err := visitor(tileID, tileData); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return err
	}

	return nil
}

// Vacuum rebuilds the database file, reclaiming space left by deleted tiles.
func (s *Store) Vacuum() error {
	if s.readOnly {
		return tile.ErrReadOnly
	}
	s.logger.Debug("libpyramid: vacuum")
	_, err := s.db.Exec("VACUUM")
	return err
}
