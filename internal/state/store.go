// Package state persists per-document crawl state in an embedded SQLite
// database so later runs can skip documents whose last-modified instant has
// not moved. This is the consumer-side use of the timestamp each document
// carries; the crawl itself never filters by age.
package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store records which documents have been seen and at which upstream
// modification instant. Use ":memory:" as the path in tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	getStmt    *sql.Stmt
	upsertStmt *sql.Stmt
}

// NewStore opens (or creates) the state database at dbPath and applies
// pending schema migrations.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: set WAL mode: %w", err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("crawl state database ready", slog.String("path", dbPath))

	return s, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("state: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	s.getStmt, err = s.db.PrepareContext(ctx,
		"SELECT modified_at FROM documents WHERE id = ?")
	if err != nil {
		return fmt.Errorf("state: prepare get: %w", err)
	}

	s.upsertStmt, err = s.db.PrepareContext(ctx,
		`INSERT INTO documents (id, object_type, modified_at, crawl_id, seen_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   object_type = excluded.object_type,
		   modified_at = excluded.modified_at,
		   crawl_id    = excluded.crawl_id,
		   seen_at     = excluded.seen_at`)
	if err != nil {
		return fmt.Errorf("state: prepare upsert: %w", err)
	}

	return nil
}

// Unchanged reports whether the document was already seen at exactly the
// given upstream modification instant. Documents without a known instant
// (zero time) are never considered unchanged.
func (s *Store) Unchanged(ctx context.Context, id string, modifiedAt time.Time) (bool, error) {
	if modifiedAt.IsZero() {
		return false, nil
	}

	var stored string

	err := s.getStmt.QueryRowContext(ctx, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("state: query document %s: %w", id, err)
	}

	return stored == modifiedAt.UTC().Format(time.RFC3339), nil
}

// Record upserts the document's crawl state.
func (s *Store) Record(ctx context.Context, id, objectType string, modifiedAt time.Time, crawlID string) error {
	modified := ""
	if !modifiedAt.IsZero() {
		modified = modifiedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.upsertStmt.ExecContext(ctx,
		id, objectType, modified, crawlID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("state: record document %s: %w", id, err)
	}

	return nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.upsertStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}
