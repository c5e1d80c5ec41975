package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agent_dashboard/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS archived_tasks (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	label TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	error TEXT,
	ctx TEXT,
	archived_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_tasks_profile ON archived_tasks(profile_id);
CREATE INDEX IF NOT EXISTS idx_archived_tasks_archived_at ON archived_tasks(archived_at);
`

// SQLiteSink archives tasks into a local SQLite file
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and creates) the archive database at path
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// one connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &SQLiteSink{db: db, now: time.Now}, nil
}

// Archive implements Sink
func (s *SQLiteSink) Archive(ctx context.Context, tasks []model.TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin archive: %v", model.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO archived_tasks
		(id, profile_id, label, status, created_at, started_at, completed_at, error, ctx, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare archive: %v", model.ErrStorage, err)
	}
	defer stmt.Close()

	archivedAt := s.now().UTC()
	for _, t := range tasks {
		a, err := model.NewArchivedTask(t, archivedAt)
		if err != nil {
			return fmt.Errorf("%w: encode task %s: %v", model.ErrStorage, t.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.ProfileID, a.Label, string(a.Status),
			formatTime(a.CreatedAt), formatTimePtr(a.StartedAt), formatTimePtr(a.CompletedAt),
			a.Error, string(a.Ctx), formatTime(a.ArchivedAt),
		); err != nil {
			return fmt.Errorf("%w: archive task %s: %v", model.ErrStorage, t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit archive: %v", model.ErrStorage, err)
	}
	return nil
}

// Count implements Sink
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM archived_tasks").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count archive: %v", model.ErrStorage, err)
	}
	return n, nil
}

// Recent implements Sink
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]model.ArchivedTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, profile_id, label, status, created_at, started_at,
		completed_at, error, ctx, archived_at FROM archived_tasks
		ORDER BY archived_at DESC, completed_at DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: query archive: %v", model.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]model.ArchivedTask, 0)
	for rows.Next() {
		var (
			a                                   model.ArchivedTask
			status, created, archived           string
			label, started, completed, msg, raw sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ProfileID, &label, &status, &created, &started,
			&completed, &msg, &raw, &archived); err != nil {
			return nil, fmt.Errorf("%w: scan archive: %v", model.ErrStorage, err)
		}
		a.Label = label.String
		a.Status = model.TaskStatus(status)
		a.CreatedAt = parseTime(created)
		a.StartedAt = parseTimePtr(started)
		a.CompletedAt = parseTimePtr(completed)
		a.Error = msg.String
		if raw.Valid && raw.String != "" {
			a.Ctx = []byte(raw.String)
		}
		a.ArchivedAt = parseTime(archived)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read archive: %v", model.ErrStorage, err)
	}
	return out, nil
}

// Ping implements Sink
func (s *SQLiteSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Sink
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
