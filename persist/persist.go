// Package persist stores heap snapshots in SQLite.
package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cindervm/cinder/snapshot"
)

// ErrSnapshotNotFound indicates the named snapshot doesn't exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store is a SQLite-backed snapshot store. Snapshots are keyed by name;
// saving under an existing name replaces the previous image.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Info describes one stored snapshot.
type Info struct {
	Name    string
	TakenAt time.Time
	Size    int
}

// Open opens (or creates) a snapshot store at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		name     TEXT PRIMARY KEY,
		taken_at TEXT NOT NULL,
		data     BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores an image under the given name, replacing any previous one.
func (s *Store) Save(name string, img *snapshot.Image) error {
	data, err := snapshot.MarshalImage(img)
	if err != nil {
		return fmt.Errorf("encoding snapshot %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO snapshots (name, taken_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET taken_at = excluded.taken_at, data = excluded.data`,
		name, img.TakenAt.Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", name, err)
	}
	return nil
}

// Load retrieves the image stored under the given name.
func (s *Store) Load(name string) (*snapshot.Image, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", name, err)
	}
	return snapshot.UnmarshalImage(data)
}

// List returns the stored snapshots, newest first.
func (s *Store) List() ([]Info, error) {
	rows, err := s.db.Query(`SELECT name, taken_at, length(data) FROM snapshots ORDER BY taken_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var takenAt string
		if err := rows.Scan(&info.Name, &takenAt, &info.Size); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, takenAt); err == nil {
			info.TakenAt = t
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes the named snapshot. Deleting a missing snapshot fails
// with ErrSnapshotNotFound.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
	}
	return nil
}
