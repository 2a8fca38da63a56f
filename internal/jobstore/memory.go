package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// Memory keeps jobs in process memory. It is the default backend and the
// one tests lean on.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	journal map[string][]ProgressRecord
	nextID  int64
	cfg     config.JobStoreConfig
	clock   func() time.Time
}

func NewMemory(cfg config.JobStoreConfig) *Memory {
	return &Memory{
		jobs:    make(map[string]*Job),
		journal: make(map[string][]ProgressRecord),
		cfg:     cfg,
		clock:   time.Now,
	}
}

func (m *Memory) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrExists
	}
	now := m.clock().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) Update(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = m.clock().UTC()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) List(_ context.Context, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		cp := *j
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	delete(m.journal, id)
	return nil
}

func (m *Memory) AppendEvent(_ context.Context, jobID, kind string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.journal[jobID] = append(m.journal[jobID], ProgressRecord{
		ID:        m.nextID,
		JobID:     jobID,
		Type:      kind,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: m.clock().UTC(),
	})
	return nil
}

func (m *Memory) ListEvents(_ context.Context, jobID string, limit int) ([]ProgressRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.journal[jobID]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]ProgressRecord, len(records))
	copy(out, records)
	return out, nil
}

// Prune drops the oldest jobs beyond MaxJobs and anything older than the
// retention window.
func (m *Memory) Prune(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.RetentionDays > 0 {
		cutoff := m.clock().UTC().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
		for id, j := range m.jobs {
			if j.CreatedAt.Before(cutoff) {
				delete(m.jobs, id)
				delete(m.journal, id)
			}
		}
	}
	if m.cfg.MaxJobs > 0 && len(m.jobs) > m.cfg.MaxJobs {
		ids := make([]string, 0, len(m.jobs))
		for id := range m.jobs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, k int) bool {
			return m.jobs[ids[i]].CreatedAt.After(m.jobs[ids[k]].CreatedAt)
		})
		for _, id := range ids[m.cfg.MaxJobs:] {
			delete(m.jobs, id)
			delete(m.journal, id)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
