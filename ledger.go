package main

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Ledger is an append-only journal of runs and post outcomes
type Ledger struct {
	db *sql.DB
}

// LedgerEntry is one recorded item outcome
type LedgerEntry struct {
	RunID          string
	PageID         string
	ItemID         string
	Mode           string
	Outcome        ItemOutcome
	Title          string
	PostURL        string
	Error          string
	NeedsReconcile bool
	CreatedAt      time.Time
}

// OpenLedger opens (creating if needed) the ledger database and applies
// pending migrations.
func OpenLedger(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	debugLog("Ledger schema version %d (dirty=%v)", version, dirty)
	return nil
}

// Close closes the database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun records the start of a run
func (l *Ledger) BeginRun(runID string, startedAt time.Time) error {
	_, err := l.db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecordItem appends the outcome of one item
func (l *Ledger) RecordItem(runID string, r ItemResult) error {
	var errText string
	if r.Error != nil {
		errText = r.Error.Error()
	}
	_, err := l.db.Exec(`
		INSERT INTO posts (
			run_id, page_id, item_id, mode, outcome, title,
			post_url, error, needs_reconcile, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, r.Item.PageID, r.Item.ID, string(r.Item.Mode), string(r.Outcome), r.Title,
		r.PostURL, errText, r.Warning != "", formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record item: %w", err)
	}
	return nil
}

// FinishRun stores the aggregate counts of a run
func (l *Ledger) FinishRun(s *RunSummary) error {
	_, err := l.db.Exec(`
		UPDATE runs SET finished_at = ?, succeeded = ?, skipped = ?, failed = ?,
			aborted = ?, session_invalid = ?
		WHERE id = ?
	`, formatTime(time.Now()), s.Count(OutcomeSucceeded), s.Count(OutcomeSkippedEmpty),
		s.Count(OutcomeFailed), s.Count(OutcomeSessionAborted), s.SessionInvalid, s.RunID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// PriorPost returns the most recent successful post of a page, or nil.
func (l *Ledger) PriorPost(pageID string) (*LedgerEntry, error) {
	row := l.db.QueryRow(`
		SELECT run_id, page_id, item_id, mode, outcome, title, post_url, error,
			needs_reconcile, created_at
		FROM posts
		WHERE page_id = ? AND outcome = ?
		ORDER BY id DESC
		LIMIT 1
	`, pageID, string(OutcomeSucceeded))

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up prior post: %w", err)
	}
	return entry, nil
}

// Recent returns the latest entries, newest first
func (l *Ledger) Recent(limit int) ([]LedgerEntry, error) {
	rows, err := l.db.Query(`
		SELECT run_id, page_id, item_id, mode, outcome, title, post_url, error,
			needs_reconcile, created_at
		FROM posts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*LedgerEntry, error) {
	var e LedgerEntry
	var outcome, created string
	err := row.Scan(&e.RunID, &e.PageID, &e.ItemID, &e.Mode, &outcome, &e.Title,
		&e.PostURL, &e.Error, &e.NeedsReconcile, &created)
	if err != nil {
		return nil, err
	}
	e.Outcome = ItemOutcome(outcome)
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
