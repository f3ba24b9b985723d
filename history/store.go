// Package history records optimization runs in a SQLite database so that
// size reductions can be compared across builds.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"github.com/chazu/squash/pkg/bytecode"
	"github.com/chazu/squash/pkg/optimizer"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded optimization.
type Run struct {
	ID          string
	Input       string
	Fingerprint string // xxh3 of the input unit's serialized form
	Unit        string
	Before      bytecode.Stats
	After       bytecode.Stats
	Rounds      int
	Edits       int
	Converged   bool
	At          time.Time
}

// Saved returns the number of bytes the run removed.
func (r Run) Saved() int {
	return r.Before.Bytes - r.After.Bytes
}

// Store handles SQLite storage for runs.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	now    func() time.Time
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	input TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	unit TEXT NOT NULL,
	before_instrs INTEGER NOT NULL,
	before_bytes INTEGER NOT NULL,
	before_consts INTEGER NOT NULL,
	after_instrs INTEGER NOT NULL,
	after_bytes INTEGER NOT NULL,
	after_consts INTEGER NOT NULL,
	names INTEGER NOT NULL,
	rounds INTEGER NOT NULL,
	edits INTEGER NOT NULL,
	converged INTEGER NOT NULL,
	at INTEGER NOT NULL
)`

// Open opens (creating if needed) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive between calls.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, now: time.Now}, nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Fingerprint hashes the serialized form of u.
func Fingerprint(u *bytecode.Unit) (string, error) {
	data, err := bytecode.MarshalUnit(u)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxh3.Hash(data)), nil
}

// Record stores the outcome of optimizing input (the unit as loaded from
// the file named by path) and returns the new run.
func (s *Store) Record(path string, input *bytecode.Unit, res *optimizer.Result) (Run, error) {
	fp, err := Fingerprint(input)
	if err != nil {
		return Run{}, fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	run := Run{
		ID:          uuid.NewString(),
		Input:       path,
		Fingerprint: fp,
		Unit:        input.Name,
		Before:      res.Before,
		After:       res.After,
		Rounds:      res.Rounds,
		Edits:       res.TotalEdits,
		Converged:   res.Converged,
		At:          s.now().UTC().Truncate(time.Second),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`INSERT INTO runs (id, input, fingerprint, unit,
		before_instrs, before_bytes, before_consts,
		after_instrs, after_bytes, after_consts,
		names, rounds, edits, converged, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Input, run.Fingerprint, run.Unit,
		run.Before.Instructions, run.Before.Bytes, run.Before.Consts,
		run.After.Instructions, run.After.Bytes, run.After.Consts,
		run.Before.Names, run.Rounds, run.Edits, run.Converged, run.At.Unix(),
	)
	if err != nil {
		return Run{}, fmt.Errorf("saving run: %w", err)
	}
	return run, nil
}

const selectRun = `SELECT id, input, fingerprint, unit,
	before_instrs, before_bytes, before_consts,
	after_instrs, after_bytes, after_consts,
	names, rounds, edits, converged, at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var names int
	var at int64
	err := row.Scan(&r.ID, &r.Input, &r.Fingerprint, &r.Unit,
		&r.Before.Instructions, &r.Before.Bytes, &r.Before.Consts,
		&r.After.Instructions, &r.After.Bytes, &r.After.Consts,
		&names, &r.Rounds, &r.Edits, &r.Converged, &at)
	r.Before.Names, r.After.Names = names, names
	r.At = time.Unix(at, 0).UTC()
	return r, err
}

// Get retrieves a run by ID.
func (s *Store) Get(id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := scanRun(s.db.QueryRow(selectRun+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	return s.query(selectRun+" ORDER BY at DESC, rowid DESC LIMIT ?", limit)
}

// ForFingerprint returns every run of an identical input, newest first.
func (s *Store) ForFingerprint(fp string) ([]Run, error) {
	return s.query(selectRun+" WHERE fingerprint = ? ORDER BY at DESC, rowid DESC", fp)
}

func (s *Store) query(q string, args ...any) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
