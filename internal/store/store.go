// Package store keeps a library of single voices in SQLite, keyed by the
// hash of their sound data so that the same voice is stored only once.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("patch not found")
	ErrDuplicate = errors.New("patch already in library")
)

const schema = `
CREATE TABLE IF NOT EXISTS patches (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    patchname   TEXT NOT NULL,
    category    TEXT DEFAULT '',
    bankfile    TEXT NOT NULL,
    comments    TEXT DEFAULT '',
    origin      TEXT DEFAULT '',
    rating      INTEGER DEFAULT NULL,
    hash        TEXT UNIQUE NOT NULL,
    sysex       BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patch_hash ON patches(hash);
`

// Patch is one library entry. SysEx holds the 163 byte single voice dump.
type Patch struct {
	ID       int64
	Name     string
	Category string
	BankFile string
	Comments string
	Origin   string
	Rating   sql.NullInt64
	Hash     string
	SysEx    []byte
}

// Store is the SQLite patch library.
type Store struct {
	db *sql.DB
}

// Open opens or creates the library at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isUnique(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insert(x execer, p *Patch) (int64, error) {
	result, err := x.Exec(`
		INSERT INTO patches (patchname, bankfile, hash, sysex, category, origin)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.BankFile, p.Hash, p.SysEx, p.Category, p.Origin,
	)
	if err != nil {
		if isUnique(err) {
			return 0, fmt.Errorf("%w: %s (hash %s)", ErrDuplicate, p.Name, p.Hash)
		}
		return 0, fmt.Errorf("insert patch %s: %w", p.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Insert adds p and returns its ID. A voice whose hash is already stored
// fails with ErrDuplicate.
func (s *Store) Insert(p *Patch) (int64, error) {
	id, err := insert(s.db, p)
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// InsertAll adds patches in one transaction. Duplicates are counted and
// skipped; any other error rolls the whole batch back.
func (s *Store) InsertAll(patches []*Patch) (inserted, duplicates int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patches {
		id, err := insert(tx, p)
		if errors.Is(err, ErrDuplicate) {
			duplicates++
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		p.ID = id
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, duplicates, nil
}

// Get returns the patch with the given ID.
func (s *Store) Get(id int64) (*Patch, error) {
	p := &Patch{}
	err := s.db.QueryRow(`
		SELECT id, patchname, category, bankfile, comments, origin, rating, hash, sysex
		FROM patches WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Category, &p.BankFile, &p.Comments, &p.Origin, &p.Rating, &p.Hash, &p.SysEx)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query patch %d: %w", id, err)
	}
	return p, nil
}

// Count returns the number of stored patches.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM patches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patches: %w", err)
	}
	return n, nil
}

// RandomIDs returns up to n IDs picked at random.
func (s *Store) RandomIDs(n int) ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM patches ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query random patches: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan patch id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
