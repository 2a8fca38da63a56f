package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/lecternlabs/lectern-core/internal/events"
	"github.com/lecternlabs/lectern-core/internal/provider"
	_ "modernc.org/sqlite"
)

// SQLite persists jobs and progress journals in a single WAL-mode database
// file.
type SQLite struct {
	db    *sql.DB
	cfg   config.JobStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func OpenSQLite(ctx context.Context, cfg config.JobStoreConfig, log *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("job store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("job store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    filename TEXT,
    status TEXT NOT NULL,
    error TEXT,
    total_chunks INTEGER NOT NULL DEFAULT 0,
    chunks_done INTEGER NOT NULL DEFAULT 0,
    page_count INTEGER NOT NULL DEFAULT 0,
    char_count INTEGER NOT NULL DEFAULT 0,
    total_duration REAL NOT NULL DEFAULT 0,
    cost BLOB,
    providers BLOB,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS progress (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_progress_job_created ON progress(job_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLite) Create(ctx context.Context, job *Job) error {
	now := s.clock().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	cost, providers, err := marshalBlobs(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, filename, status, error, total_chunks, chunks_done, page_count, char_count, total_duration, cost, providers, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, string(job.Status), job.Error,
		job.TotalChunks, job.ChunksDone, job.PageCount, job.CharCount, job.TotalDuration,
		cost, providers, job.CreatedAt, job.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrExists
	}
	return err
}

func (s *SQLite) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, filename, status, error, total_chunks, chunks_done, page_count, char_count, total_duration, cost, providers, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, id)
	return scanJob(row)
}

func (s *SQLite) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = s.clock().UTC()
	cost, providers, err := marshalBlobs(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET filename=?, status=?, error=?, total_chunks=?, chunks_done=?, page_count=?, char_count=?, total_duration=?, cost=?, providers=?, updated_at=?
		 WHERE job_id = ?`,
		job.Filename, string(job.Status), job.Error,
		job.TotalChunks, job.ChunksDone, job.PageCount, job.CharCount, job.TotalDuration,
		cost, providers, job.UpdatedAt, job.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, filename, status, error, total_chunks, chunks_done, page_count, char_count, total_duration, cost, providers, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) AppendEvent(ctx context.Context, jobID, kind string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress(job_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		jobID, kind, payload, s.clock().UTC())
	return err
}

func (s *SQLite) ListEvents(ctx context.Context, jobID string, limit int) ([]ProgressRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, event_type, payload, created_at
		 FROM progress WHERE job_id = ? ORDER BY id ASC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ProgressRecord
	for rows.Next() {
		var r ProgressRecord
		var created string
		if err := rows.Scan(&r.ID, &r.JobID, &r.Type, &r.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune applies retention by age and by count. Progress rows ride along on
// the foreign-key cascade.
func (s *SQLite) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxJobs > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id IN (
			SELECT job_id FROM jobs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxJobs)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func marshalBlobs(job *Job) (cost, providers []byte, err error) {
	cost, err = json.Marshal(job.Cost)
	if err != nil {
		return nil, nil, err
	}
	if job.Providers != nil {
		providers, err = json.Marshal(job.Providers)
		if err != nil {
			return nil, nil, err
		}
	}
	return cost, providers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status string
	var cost, providers []byte
	var created, updated string
	err := row.Scan(&job.ID, &job.Filename, &status, &job.Error,
		&job.TotalChunks, &job.ChunksDone, &job.PageCount, &job.CharCount, &job.TotalDuration,
		&cost, &providers, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if len(cost) > 0 {
		var cb events.CostBreakdown
		if err := json.Unmarshal(cost, &cb); err == nil {
			job.Cost = cb
		}
	}
	if len(providers) > 0 {
		var stats map[string]provider.Stats
		if err := json.Unmarshal(providers, &stats); err == nil {
			job.Providers = stats
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		job.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		job.UpdatedAt = ts
	}
	return &job, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

var _ Store = (*SQLite)(nil)
