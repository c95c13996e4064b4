package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"coursewatch/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Store persists watched sections and the append-only observation history
// in a single SQLite database.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
  section_id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL,
  course_display_name TEXT NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 0,
  last_status TEXT
);
CREATE TABLE IF NOT EXISTS history (
  id TEXT PRIMARY KEY,
  observed_at TEXT NOT NULL,
  subject TEXT NOT NULL,
  catalog_number TEXT NOT NULL,
  section_id TEXT NOT NULL,
  status TEXT NOT NULL,
  course_id TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// FindEnabled returns every watched section with monitoring enabled.
func (s *Store) FindEnabled(ctx context.Context) ([]domain.WatchedSection, error) {
	return s.query(ctx, `SELECT section_id, course_id, course_display_name, enabled, last_status
FROM tasks WHERE enabled = 1 ORDER BY section_id`)
}

// FindAll returns every watched section, enabled or not.
func (s *Store) FindAll(ctx context.Context) ([]domain.WatchedSection, error) {
	return s.query(ctx, `SELECT section_id, course_id, course_display_name, enabled, last_status
FROM tasks ORDER BY section_id`)
}

func (s *Store) query(ctx context.Context, stmt string, args ...any) ([]domain.WatchedSection, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.WatchedSection
	for rows.Next() {
		ws, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// FindBySectionID returns the watched section with the given id, or
// (nil, nil) when no such record exists.
func (s *Store) FindBySectionID(ctx context.Context, sectionID string) (*domain.WatchedSection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT section_id, course_id, course_display_name, enabled, last_status
FROM tasks WHERE section_id = ?`, sectionID)

	ws, err := scanSection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSection(r rowScanner) (domain.WatchedSection, error) {
	var ws domain.WatchedSection
	var enabled int
	var last sql.NullString
	if err := r.Scan(&ws.SectionID, &ws.CourseID, &ws.DisplayName, &enabled, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ws, err
		}
		return ws, fmt.Errorf("store: scan task: %w", err)
	}
	ws.Enabled = enabled != 0
	if last.Valid {
		st := domain.Status(last.String)
		ws.LastStatus = &st
	}
	return ws, nil
}

// Upsert inserts or replaces the record keyed by section id.
func (s *Store) Upsert(ctx context.Context, ws domain.WatchedSection) error {
	const stmt = `
INSERT INTO tasks (section_id, course_id, course_display_name, enabled, last_status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(section_id) DO UPDATE SET
  course_id=excluded.course_id,
  course_display_name=excluded.course_display_name,
  enabled=excluded.enabled,
  last_status=excluded.last_status;
`
	var last any
	if ws.LastStatus != nil {
		last = string(*ws.LastStatus)
	}
	if _, err := s.db.ExecContext(ctx, stmt, ws.SectionID, ws.CourseID, ws.DisplayName, boolInt(ws.Enabled), last); err != nil {
		return fmt.Errorf("store: upsert task %s: %w", ws.SectionID, err)
	}
	return nil
}

// UpdateLastStatus records a freshly observed status for an existing
// section. The single UPDATE keeps the persist step atomic per record.
func (s *Store) UpdateLastStatus(ctx context.Context, sectionID string, status domain.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_status = ? WHERE section_id = ?`, string(status), sectionID)
	if err != nil {
		return fmt.Errorf("store: update status for %s: %w", sectionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update status for %s: %w", sectionID, domain.ErrSectionNotFound)
	}
	return nil
}

// ToggleEnabled flips the enabled flag and returns the new value.
func (s *Store) ToggleEnabled(ctx context.Context, sectionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET enabled = 1 - enabled WHERE section_id = ?`, sectionID)
	if err != nil {
		return false, fmt.Errorf("store: toggle %s: %w", sectionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("store: toggle %s: %w", sectionID, domain.ErrSectionNotFound)
	}

	var enabled int
	if err := s.db.QueryRowContext(ctx, `SELECT enabled FROM tasks WHERE section_id = ?`, sectionID).Scan(&enabled); err != nil {
		return false, fmt.Errorf("store: toggle %s: %w", sectionID, err)
	}
	return enabled != 0, nil
}

// DeleteByDisplayName removes every section of a course by its
// human-readable name. Returns the number of records removed.
func (s *Store) DeleteByDisplayName(ctx context.Context, displayName string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE course_display_name = ?`, displayName)
	if err != nil {
		return 0, fmt.Errorf("store: delete %q: %w", displayName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete %q: %w", displayName, err)
	}
	return n, nil
}

// ObservationRow is one line of the append-only observation history.
type ObservationRow struct {
	ID            string
	ObservedAt    time.Time
	Subject       string
	CatalogNumber string
	SectionID     string
	Status        domain.Status
	CourseID      string
}

// AppendObservation writes one observation to the history log.
func (s *Store) AppendObservation(ctx context.Context, obs domain.SectionObservation, at time.Time) error {
	const stmt = `
INSERT INTO history (id, observed_at, subject, catalog_number, section_id, status, course_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		uuid.NewString(),
		at.UTC().Format(timeLayout),
		obs.Subject,
		obs.CatalogNumber,
		obs.SectionID,
		string(obs.Status),
		obs.CourseID,
	)
	if err != nil {
		return fmt.Errorf("store: append observation for %s: %w", obs.SectionID, err)
	}
	return nil
}

// ListHistory returns history rows in chronological order. limit <= 0 means
// no limit.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]ObservationRow, error) {
	stmt := `SELECT id, observed_at, subject, catalog_number, section_id, status, course_id
FROM history ORDER BY observed_at`
	var args []any
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var out []ObservationRow
	for rows.Next() {
		var r ObservationRow
		var at, status string
		if err := rows.Scan(&r.ID, &at, &r.Subject, &r.CatalogNumber, &r.SectionID, &status, &r.CourseID); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		t, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("store: parse history timestamp: %w", err)
		}
		r.ObservedAt = t
		r.Status = domain.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
