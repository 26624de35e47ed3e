package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed-width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite submission backend.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ Backend = (*Store)(nil)

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "clarity.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every embedded migration not yet recorded in
// schema_version, in file name order. Each one runs in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("reading schema_version: %w", err)
	}

	// ReadDir returns entries sorted by name.
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := migrationVersion(entry.Name())
		if err != nil {
			return err
		}
		if slices.Contains(applied, version) {
			continue
		}
		script, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(ctx, version, string(script)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

// migrationVersion reads the numeric prefix of names like 001_submissions.sql.
func migrationVersion(name string) (int, error) {
	prefix, _, found := strings.Cut(name, "_")
	v, err := strconv.Atoi(prefix)
	if !found || err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %q: name must start with a positive version and an underscore", name)
	}
	return v, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Submissions ---

// CreateSubmission inserts a new submission in status processing and
// returns it with its assigned ID.
func (s *Store) CreateSubmission(ctx context.Context, n NewSubmission) (Submission, error) {
	if err := n.Validate(); err != nil {
		return Submission{}, err
	}

	now := s.now().UTC()
	sub := Submission{
		ID:          uuid.New().String(),
		Name:        n.Name,
		Email:       n.Email,
		RequestText: n.RequestText,
		Status:      StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, name, email, request_text, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.Email, sub.RequestText, string(sub.Status),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return Submission{}, fmt.Errorf("inserting submission: %w", err)
	}
	return sub, nil
}

// UpdateSubmission applies p to the submission with the given id. The
// update only matches rows whose current status may legally move to
// p.Status, so a terminal record is never overwritten.
func (s *Store) UpdateSubmission(ctx context.Context, id string, p Patch) error {
	if err := p.Validate(); err != nil {
		return err
	}

	sources := sourcesOf(p.Status)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",")
	args := []any{string(p.Status), nullString(p.AIResult), s.now().UTC().Format(timeLayout), id}
	for _, src := range sources {
		args = append(args, string(src))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, ai_result = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating submission %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating submission %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	current, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, p.Status)
}

const submissionColumns = `id, name, email, request_text, status, ai_result, created_at, updated_at`

func (s *Store) GetSubmission(ctx context.Context, id string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// ListSubmissions returns the most recent submissions, newest first.
func (s *Store) ListSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(r rowScanner) (Submission, error) {
	var (
		sub                  Submission
		status               string
		aiResult             sql.NullString
		createdAt, updatedAt string
	)
	if err := r.Scan(&sub.ID, &sub.Name, &sub.Email, &sub.RequestText, &status, &aiResult, &createdAt, &updatedAt); err != nil {
		return Submission{}, err
	}
	sub.Status = Status(status)
	sub.AIResult = aiResult.String

	var err error
	if sub.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Submission{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sub.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Submission{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
