// Package modcache persists compiled modules in SQLite, keyed by the hash of
// the syntax tree and compiler options they were built from.
package modcache

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/ollang/ollang/pkg/bytecode"
)

var log = commonlog.GetLogger("ollang.modcache")

// DefaultPath is used when no cache path is configured, relative to the
// project directory.
const DefaultPath = ".ollang/cache.db"

// formatVersion tags rows so modules written by another bytecode version
// are treated as misses.
var formatVersion = fmt.Sprintf("%d.%d.%d", bytecode.VersionMajor, bytecode.VersionMinor, bytecode.VersionPatch)

// Cache is a compiled-module store backed by a SQLite database.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Entry describes one cached module.
type Entry struct {
	Key     string
	Path    string
	Version string
	Size    int
	Hits    int
	Created time.Time
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		key     TEXT PRIMARY KEY,
		path    TEXT NOT NULL,
		version TEXT NOT NULL,
		data    BLOB NOT NULL,
		created INTEGER NOT NULL,
		hits    INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened module cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Path returns the database file.
func (c *Cache) Path() string { return c.path }

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Lookup returns the module stored under key. Rows from another bytecode
// version or that no longer decode are dropped and reported as misses.
func (c *Cache) Lookup(key [32]byte) (*bytecode.Module, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := hex.EncodeToString(key[:])
	var version string
	var data []byte
	err := c.db.QueryRow("SELECT version, data FROM modules WHERE key = ?", id).Scan(&version, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying module: %w", err)
	}

	if version != formatVersion {
		log.Infof("dropping cached module %s built by bytecode %s", id[:12], version)
		return nil, false, c.remove(id)
	}
	m, err := bytecode.DeserializeModule(data)
	if err != nil {
		log.Warningf("dropping unreadable cached module %s: %s", id[:12], err)
		return nil, false, c.remove(id)
	}

	if _, err := c.db.Exec("UPDATE modules SET hits = hits + 1 WHERE key = ?", id); err != nil {
		return nil, false, fmt.Errorf("recording hit: %w", err)
	}
	return m, true, nil
}

// Store saves m under key, replacing any previous entry.
func (c *Cache) Store(key [32]byte, path string, m *bytecode.Module) error {
	data, err := m.SerializeCompressed()
	if err != nil {
		return fmt.Errorf("serializing %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO modules (key, path, version, data, created) VALUES (?, ?, ?, ?, ?)",
		hex.EncodeToString(key[:]), path, formatVersion, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving module: %w", err)
	}
	log.Debugf("cached %s (%d bytes)", path, len(data))
	return nil
}

func (c *Cache) remove(id string) error {
	if _, err := c.db.Exec("DELETE FROM modules WHERE key = ?", id); err != nil {
		return fmt.Errorf("deleting module: %w", err)
	}
	return nil
}

// Entries lists cached modules, most recently created first.
func (c *Cache) Entries() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		"SELECT key, path, version, length(data), hits, created FROM modules ORDER BY created DESC, key")
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Key, &e.Path, &e.Version, &e.Size, &e.Hits, &created); err != nil {
			return nil, fmt.Errorf("reading module row: %w", err)
		}
		e.Created = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries created before cutoff and returns how many were
// removed.
func (c *Cache) Prune(cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM modules WHERE created < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning modules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Clear deletes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM modules"); err != nil {
		return fmt.Errorf("clearing modules: %w", err)
	}
	return nil
}
