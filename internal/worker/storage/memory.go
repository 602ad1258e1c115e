package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

// Memory is an in-process job store with the same transition rules as
// Storage. It backs unit tests and local runs without Postgres.
type Memory struct {
	mu     sync.Mutex
	jobs   map[domain.JobID]*domain.Job
	nextID domain.JobID
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[domain.JobID]*domain.Job),
		now:  time.Now,
	}
}

// WithClock replaces the clock used for timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *Memory) Enqueue(_ context.Context, jobType string, payload json.RawMessage, runAfter time.Time) (domain.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if runAfter.IsZero() {
		runAfter = now
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	m.nextID++
	m.jobs[m.nextID] = &domain.Job{
		ID:        m.nextID,
		Type:      jobType,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    domain.JobStatusPending,
		RunAfter:  runAfter,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m.nextID, nil
}

func (m *Memory) ClaimBatch(_ context.Context, limit int, now time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := []domain.Job{}
	if limit <= 0 {
		return claimed, nil
	}

	for _, id := range m.sortedIDs() {
		if len(claimed) == limit {
			break
		}
		job := m.jobs[id]
		if job.Status != domain.JobStatusPending || job.RunAfter.After(now) {
			continue
		}
		job.Status = domain.JobStatusProcessing
		job.Attempts++
		job.UpdatedAt = now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (m *Memory) StartExecution(_ context.Context, id domain.JobID, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: id %d", domain.ErrJobNotFound, id)
	}
	if job.Status != domain.JobStatusProcessing || job.Attempts != attempts {
		return fmt.Errorf("%w: job %d is %s at attempt %d, claimed at attempt %d",
			domain.ErrInvalidTransition, id, job.Status, job.Attempts, attempts)
	}
	job.UpdatedAt = m.now()
	return nil
}

func (m *Memory) MarkDone(_ context.Context, id domain.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.processing(id, domain.JobStatusDone, true)
	if err != nil || job == nil {
		return err
	}
	job.Status = domain.JobStatusDone
	job.UpdatedAt = m.now()
	return nil
}

func (m *Memory) MarkRetry(_ context.Context, id domain.JobID, reason string, nextRunAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.processing(id, domain.JobStatusPending, false)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatusPending
	job.LastError = reason
	job.RunAfter = nextRunAfter
	job.UpdatedAt = m.now()
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id domain.JobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.processing(id, domain.JobStatusFailed, false)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatusFailed
	job.LastError = reason
	job.UpdatedAt = m.now()
	return nil
}

// processing returns the job when it may move to target. A nil job with a
// nil error means the idempotent no-op case.
func (m *Memory) processing(id domain.JobID, target domain.JobStatus, idempotent bool) (*domain.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrJobNotFound, id)
	}
	if job.Status == domain.JobStatusProcessing {
		return job, nil
	}
	if idempotent && job.Status == target {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: job %d is %s, cannot become %s", domain.ErrInvalidTransition, id, job.Status, target)
}

func (m *Memory) ReclaimStale(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-olderThan)

	var n int64
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			job.Status = domain.JobStatusPending
			job.RunAfter = now
			job.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetJob(_ context.Context, id domain.JobID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrJobNotFound, id)
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.sortedIDs()
	out := []domain.Job{}
	for i := len(ids) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
		job := m.jobs[ids[i]]
		if filter.AfterID != 0 && job.ID >= filter.AfterID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[domain.JobStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[domain.JobStatus]int64{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusDone:       0,
		domain.JobStatusFailed:     0,
	}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *Memory) sortedIDs() []domain.JobID {
	ids := make([]domain.JobID, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
