// Package jobstore persists narration job records and their progress
// journals across memory, SQLite, and Redis backends.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/lecternlabs/lectern-core/internal/events"
	"github.com/lecternlabs/lectern-core/internal/provider"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already exists")
)

// Job is the persisted record for one narration request. Progress events
// stream to the client live; the record is what survives for later polling.
type Job struct {
	ID            string                    `json:"id"`
	Filename      string                    `json:"filename"`
	Status        Status                    `json:"status"`
	Error         string                    `json:"error,omitempty"`
	TotalChunks   int                       `json:"totalChunks"`
	ChunksDone    int                       `json:"chunksDone"`
	PageCount     int                       `json:"pageCount"`
	CharCount     int                       `json:"charCount"`
	TotalDuration float64                   `json:"totalDuration"`
	Cost          events.CostBreakdown      `json:"cost"`
	Providers     map[string]provider.Stats `json:"providers,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt"`
	UpdatedAt     time.Time                 `json:"updatedAt"`
}

// ProgressRecord is one journaled progress event for a job.
type ProgressRecord struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"jobId"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is implemented by every backend. Implementations must be safe for
// concurrent use.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	List(ctx context.Context, limit int) ([]*Job, error)
	Delete(ctx context.Context, id string) error

	AppendEvent(ctx context.Context, jobID, kind string, payload []byte) error
	ListEvents(ctx context.Context, jobID string, limit int) ([]ProgressRecord, error)

	Prune(ctx context.Context) error
	Close() error
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg config.JobStoreConfig, log *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(cfg), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg, log)
	case "redis":
		return OpenRedis(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown job store backend %q", cfg.Backend)
	}
}
