// Package store caches program images in SQLite, keyed by source hash.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/bfjit/pkg/image"
)

var log = commonlog.GetLogger("bfjit.store")

// ErrNotFound indicates no image is cached for the requested hash.
var ErrNotFound = errors.New("image not found")

// Store is an image cache backed by one SQLite file.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache at path. Parent directories are created.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases from splitting per conn.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened image cache %s", path)
	return &Store{db: db, path: path}, nil
}

// DefaultPath returns the cache location under the user cache directory.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	return filepath.Join(dir, "bfjit", "images.db"), nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores img, replacing any image for the same source.
func (s *Store) Put(img *image.Image) error {
	data, err := image.Marshal(img)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO images (hash, version, data) VALUES (?, ?, ?)",
		img.SourceHash.String(), img.Version, data,
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Get loads the image cached for h.
func (s *Store) Get(h image.Hash) (*image.Image, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM images WHERE hash = ?", h.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}

	img, err := image.Unmarshal(data)
	if err != nil {
		// A stale or corrupt entry is a miss; drop it so it gets rebuilt.
		log.Warningf("discarding cached image %s: %s", h, err)
		_ = s.Delete(h)
		return nil, ErrNotFound
	}
	return img, nil
}

// Delete removes the image cached for h.
func (s *Store) Delete(h image.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM images WHERE hash = ?", h.String()); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

// Count returns the number of cached images.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}
