package bundle

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sbtext/pkg/compiler"
)

// ErrCacheMiss is returned by Get for an unknown key.
var ErrCacheMiss = errors.New("bundle not in cache")

// Store caches built .sbtc bundles in a local SQLite database keyed by the
// merged source content, so repeated compiles of an unchanged import graph
// skip the merge step.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the cache database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bundles (
		key TEXT PRIMARY KEY,
		entry_file TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Key derives the cache key for a merged source unit from its entry path
// and full text.
func Key(unit *compiler.SourceUnit) string {
	h := md5.New()
	h.Write([]byte(unit.Entry))
	h.Write([]byte{0})
	h.Write([]byte(unit.Text()))
	return hex.EncodeToString(h.Sum(nil))
}

// Put stores bundle bytes under key, replacing any previous entry.
func (s *Store) Put(key, entryFile string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO bundles (key, entry_file, data, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET entry_file = excluded.entry_file,
		                                data = excluded.data,
		                                created_at = excluded.created_at`,
		key, entryFile, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store bundle: %w", err)
	}
	return nil
}

// Get returns the bundle bytes stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM bundles WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load bundle: %w", err)
	}
	return data, nil
}

// GC deletes entries older than the retention window.
func (s *Store) GC(retention time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM bundles WHERE created_at < ?`, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
