package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

// JobStore is the part of the job store the API uses
type JobStore interface {
	Enqueue(ctx context.Context, jobType string, payload json.RawMessage, runAfter time.Time) (domain.JobID, error)
	GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error)
}

// Notifier publishes enqueue notifications with its configured routing key
type Notifier interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers. Notifier and
// HealthCheck are optional.
type Dependencies struct {
	Logger         *slog.Logger
	Store          JobStore
	Notifier       Notifier
	HealthCheck    func(ctx context.Context) error
	AllowedOrigins []string
	ServiceName    string
	Clock          func() time.Time
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	store    JobStore
	notifier Notifier
	now      func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &JobHandler{
		logger:   deps.Logger,
		store:    deps.Store,
		notifier: deps.Notifier,
		now:      now,
	}
}
