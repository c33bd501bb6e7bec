// Package sqlite persists index snapshots in an SQLite database using the
// pure-Go modernc.org/sqlite driver. A save replaces the stored corpus in a
// single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ragqa/internal/domain"
	"ragqa/internal/vectorindex"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_meta (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	dimension   INTEGER NOT NULL,
	entry_count INTEGER NOT NULL,
	saved_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS index_entries (
	pos         INTEGER PRIMARY KEY,
	source      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	vector      BLOB NOT NULL
);`

// Store keeps snapshots in two tables: index_meta holds the header and
// index_entries the vectors in insertion order. A database file that SQLite
// reports as corrupt loads as domain.ErrCorruptIndex and is recreated by the
// next Save.
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
// Missing parent directories are created.
func Open(path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	s := &Store{path: path}
	if err := s.connect(); err != nil && !isCorrupt(err) {
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle. Such a store cannot recreate
// a corrupt database.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite: db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) connect() error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// a single connection keeps :memory: databases coherent
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("sqlite: create schema: %w", err)
	}
	s.db = db
	return nil
}

// handle returns the open database, reconnecting after a failed open.
func (s *Store) handle() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if s.path == "" {
		return nil, errors.New("sqlite: store is closed")
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s.db, nil
}

// recreate removes the database files at path and starts an empty database.
func (s *Store) recreate() error {
	if s.path == "" || s.path == ":memory:" || strings.HasPrefix(s.path, "file:") {
		return fmt.Errorf("%w: cannot recreate %q", domain.ErrCorruptIndex, s.path)
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return s.connect()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.path = ""
	return err
}

// Save replaces the stored snapshot inside one transaction.
func (s *Store) Save(ctx context.Context, snap vectorindex.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.handle()
	if err == nil {
		err = s.save(ctx, db, snap)
	}
	if !isCorrupt(err) {
		return err
	}
	if rerr := s.recreate(); rerr != nil {
		return fmt.Errorf("sqlite: recreate corrupt database: %w", rerr)
	}
	return s.save(ctx, s.db, snap)
}

func (s *Store) save(ctx context.Context, db *sql.DB, snap vectorindex.Snapshot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO index_entries(pos, source, chunk_index, text, vector) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range snap.Entries {
		if _, err := stmt.ExecContext(ctx, i, e.Source, e.ChunkIndex, e.Text, EncodeVector(e.Vector)); err != nil {
			return fmt.Errorf("sqlite: insert entry %d: %w", i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta(id, dimension, entry_count, saved_at) VALUES(1, ?, ?, ?)`,
		snap.Dimension, len(snap.Entries), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads the snapshot back and checks it against the stored header.
func (s *Store) Load(ctx context.Context) (vectorindex.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.load(ctx)
	if isCorrupt(err) && !errors.Is(err, domain.ErrCorruptIndex) {
		return vectorindex.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrCorruptIndex, err)
	}
	return snap, err
}

func (s *Store) load(ctx context.Context) (vectorindex.Snapshot, error) {
	var snap vectorindex.Snapshot
	var count int
	db, err := s.handle()
	if err != nil {
		return snap, err
	}
	err = db.QueryRowContext(ctx, `SELECT dimension, entry_count FROM index_meta WHERE id = 1`).Scan(&snap.Dimension, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("%w: sqlite store has no saved index", domain.ErrNotFound)
	}
	if err != nil {
		return snap, err
	}

	rows, err := db.QueryContext(ctx, `SELECT pos, source, chunk_index, text, vector FROM index_entries ORDER BY pos`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	snap.Entries = make([]domain.IndexEntry, 0, count)
	for rows.Next() {
		var (
			pos  int
			e    domain.IndexEntry
			blob []byte
		)
		if err := rows.Scan(&pos, &e.Source, &e.ChunkIndex, &e.Text, &blob); err != nil {
			return snap, err
		}
		if pos != len(snap.Entries) {
			return snap, fmt.Errorf("%w: entry position %d out of sequence", domain.ErrCorruptIndex, pos)
		}
		e.Vector, err = DecodeVector(blob)
		if err != nil {
			return snap, fmt.Errorf("%w: entry %d: %v", domain.ErrCorruptIndex, pos, err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}
	if len(snap.Entries) != count {
		return snap, fmt.Errorf("%w: header lists %d entries, found %d", domain.ErrCorruptIndex, count, len(snap.Entries))
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}

// EncodeVector encodes a vector as a little-endian sequence of IEEE 754
// float32 values without a length prefix.
func EncodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeVector reverses EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// isCorrupt reports whether err is SQLite's verdict that the file is not a
// usable database.
func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrCorruptIndex) {
		return true
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "database disk image is malformed")
}

var _ vectorindex.Store = (*Store)(nil)
