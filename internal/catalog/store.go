package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrNoGeneration signals that the store has never completed a refresh.
var ErrNoGeneration = errors.New("catalog store has no current generation")

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	bulk_type  TEXT NOT NULL,
	card_count INTEGER NOT NULL,
	current    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cards (
	generation_id INTEGER NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
	card_id       TEXT NOT NULL,
	raw_json      BLOB NOT NULL,
	PRIMARY KEY (generation_id, card_id)
);
`

// Store persists catalog generations in SQLite. Each refresh writes a new
// generation and flips the current flag in the same transaction, so readers
// either see the old generation or the complete new one.
type Store struct {
	db *sql.DB
}

// GenerationInfo describes one persisted catalog generation.
type GenerationInfo struct {
	ID        int64
	CreatedAt time.Time
	BulkType  string
	CardCount int
	Current   bool
}

// OpenStore opens (or creates) the catalog database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CurrentGeneration returns the generation readers should load.
func (s *Store) CurrentGeneration(ctx context.Context) (GenerationInfo, error) {
	return s.scanGeneration(s.db.QueryRowContext(ctx,
		`SELECT id, created_at, bulk_type, card_count, current
		 FROM generations WHERE current = 1`))
}

// Generations lists all persisted generations, newest first.
func (s *Store) Generations(ctx context.Context) ([]GenerationInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, bulk_type, card_count, current
		 FROM generations ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	defer rows.Close()

	var gens []GenerationInfo
	for rows.Next() {
		var gen GenerationInfo
		var createdAt string
		var current int
		if err := rows.Scan(&gen.ID, &createdAt, &gen.BulkType, &gen.CardCount, &current); err != nil {
			return nil, fmt.Errorf("scanning generation row: %w", err)
		}
		gen.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		gen.Current = current == 1
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

func (s *Store) scanGeneration(row *sql.Row) (GenerationInfo, error) {
	var gen GenerationInfo
	var createdAt string
	var current int
	err := row.Scan(&gen.ID, &createdAt, &gen.BulkType, &gen.CardCount, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return GenerationInfo{}, ErrNoGeneration
	}
	if err != nil {
		return GenerationInfo{}, fmt.Errorf("reading current generation: %w", err)
	}
	gen.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return GenerationInfo{}, fmt.Errorf("parsing generation timestamp %q: %w", createdAt, err)
	}
	gen.Current = current == 1
	return gen, nil
}

// WriteGeneration persists a fully validated set of entries as the new
// current generation and prunes history beyond keep generations. The whole
// write is one transaction: a failure leaves the previous generation intact.
func (s *Store) WriteGeneration(ctx context.Context, bulkType string, entries []*Entry, keep int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting generation transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO generations (created_at, bulk_type, card_count, current) VALUES (?, ?, ?, 0)`,
		time.Now().UTC().Format(time.RFC3339), bulkType, len(entries))
	if err != nil {
		return 0, fmt.Errorf("inserting generation row: %w", err)
	}
	genID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading generation id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cards (generation_id, card_id, raw_json) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing card insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, genID, e.ID.String(), e.RawJSON); err != nil {
			return 0, fmt.Errorf("inserting card %s: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE generations SET current = 0 WHERE current = 1`); err != nil {
		return 0, fmt.Errorf("clearing current flag: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE generations SET current = 1 WHERE id = ?`, genID); err != nil {
		return 0, fmt.Errorf("setting current flag: %w", err)
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM generations WHERE id NOT IN (
				SELECT id FROM generations ORDER BY id DESC LIMIT ?)`, keep); err != nil {
			return 0, fmt.Errorf("pruning old generations: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing generation %d: %w", genID, err)
	}
	log.Debugf("Wrote catalog generation %d with %d cards", genID, len(entries))
	return genID, nil
}

// LoadCurrent reads the current generation back into a Snapshot.
func (s *Store) LoadCurrent(ctx context.Context) (*Snapshot, error) {
	gen, err := s.CurrentGeneration(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_json FROM cards WHERE generation_id = ?`, gen.ID)
	if err != nil {
		return nil, fmt.Errorf("loading generation %d: %w", gen.ID, err)
	}
	defer rows.Close()

	snap := NewSnapshot(gen.ID, gen.CardCount)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning card row: %w", err)
		}
		entry, ok, err := ParseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("generation %d holds a corrupt card: %w", gen.ID, err)
		}
		if ok {
			snap.Add(entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating generation %d: %w", gen.ID, err)
	}
	return snap, nil
}
