package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

const jobColumns = `id, type, payload, status, attempts, last_error, run_after, created_at, updated_at`

// jobRow is the database representation of a job
type jobRow struct {
	ID        int64     `db:"id"`
	Type      string    `db:"type"`
	Payload   []byte    `db:"payload"`
	Status    string    `db:"status"`
	Attempts  int       `db:"attempts"`
	LastError string    `db:"last_error"`
	RunAfter  time.Time `db:"run_after"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *jobRow) toDomain() domain.Job {
	return domain.Job{
		ID:        domain.JobID(r.ID),
		Type:      r.Type,
		Payload:   json.RawMessage(r.Payload),
		Status:    domain.JobStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		RunAfter:  r.RunAfter,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Storage is the Postgres job store. Every status change is a single
// conditional UPDATE, so any number of workers may share one table.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for timestamps. Tests only.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

// Enqueue inserts a pending job. A zero runAfter means now.
func (s *Storage) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, runAfter time.Time) (domain.JobID, error) {
	now := s.now().UTC()
	if runAfter.IsZero() {
		runAfter = now
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO queue_jobs (type, payload, status, attempts, last_error, run_after, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3, 0, '', $4, $5, $5)
		RETURNING id
	`

	var id int64
	// lib/pq sends []byte as bytea; JSONB needs the text form
	err := s.db.QueryRowContext(ctx, query, jobType, string(payload), domain.JobStatusPending, runAfter.UTC(), now).Scan(&id)
	if err != nil {
		return 0, unavailable("enqueue", err)
	}

	s.logger.Debug("Job enqueued",
		slog.Int64("job_id", id),
		slog.String("type", jobType),
		slog.Time("run_after", runAfter),
	)

	return domain.JobID(id), nil
}

// ClaimBatch atomically moves up to limit due pending jobs to processing,
// oldest id first, and returns them. Rows locked by a concurrent claim are
// skipped, so two claimers never receive the same job.
func (s *Storage) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.Job, error) {
	if limit <= 0 {
		return []domain.Job{}, nil
	}

	query := `
		WITH claimed AS (
			UPDATE queue_jobs
			SET status = $1,
			    attempts = attempts + 1,
			    updated_at = $3
			WHERE id IN (
				SELECT id
				FROM queue_jobs
				WHERE status = $2
				  AND run_after <= $3
				ORDER BY id
				LIMIT $4
				FOR UPDATE SKIP LOCKED
			)
			  AND status = $2
			RETURNING ` + jobColumns + `
		)
		SELECT ` + jobColumns + ` FROM claimed ORDER BY id
	`

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query,
		domain.JobStatusProcessing,
		domain.JobStatusPending,
		now.UTC(),
		limit,
	)
	if err != nil {
		return nil, unavailable("claim batch", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}

	if len(jobs) > 0 {
		s.logger.Debug("Jobs claimed",
			slog.Int("count", len(jobs)),
			slog.Int64("first_id", int64(jobs[0].ID)),
		)
	}

	return jobs, nil
}

// StartExecution refreshes the claim of a job that is about to run. It
// only succeeds while the row is still processing under the same attempt
// the caller claimed; a row that was reclaimed, and possibly claimed again
// by another worker, returns ErrInvalidTransition.
func (s *Storage) StartExecution(ctx context.Context, id domain.JobID, attempts int) error {
	query := `
		UPDATE queue_jobs
		SET updated_at = $1
		WHERE id = $2 AND status = $3 AND attempts = $4
	`

	res, err := s.db.ExecContext(ctx, query, s.now().UTC(), int64(id), domain.JobStatusProcessing, attempts)
	if err != nil {
		return unavailable("start execution", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if affected == 1 {
		return nil
	}

	var current jobRow
	err = s.db.GetContext(ctx, &current, `SELECT `+jobColumns+` FROM queue_jobs WHERE id = $1`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return unavailable("load status", err)
	}

	return fmt.Errorf("%w: job %d is %s at attempt %d, claimed at attempt %d",
		domain.ErrInvalidTransition, id, current.Status, current.Attempts, attempts)
}

// MarkDone moves a processing job to done. Marking an already done job
// again is a no-op.
func (s *Storage) MarkDone(ctx context.Context, id domain.JobID) error {
	query := `
		UPDATE queue_jobs
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusDone, s.now().UTC(), int64(id), domain.JobStatusProcessing)
	if err != nil {
		return unavailable("mark done", err)
	}

	return s.checkTransition(ctx, res, id, domain.JobStatusDone, true)
}

// MarkRetry moves a processing job back to pending, recording the reason
// and when it may run again.
func (s *Storage) MarkRetry(ctx context.Context, id domain.JobID, reason string, nextRunAfter time.Time) error {
	query := `
		UPDATE queue_jobs
		SET status = $1, last_error = $2, run_after = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusPending,
		reason,
		nextRunAfter.UTC(),
		s.now().UTC(),
		int64(id),
		domain.JobStatusProcessing,
	)
	if err != nil {
		return unavailable("mark retry", err)
	}

	return s.checkTransition(ctx, res, id, domain.JobStatusPending, false)
}

// MarkFailed moves a processing job to failed.
func (s *Storage) MarkFailed(ctx context.Context, id domain.JobID, reason string) error {
	query := `
		UPDATE queue_jobs
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		reason,
		s.now().UTC(),
		int64(id),
		domain.JobStatusProcessing,
	)
	if err != nil {
		return unavailable("mark failed", err)
	}

	return s.checkTransition(ctx, res, id, domain.JobStatusFailed, false)
}

// checkTransition turns a zero-row update into the right error by looking
// at the row's current status.
func (s *Storage) checkTransition(ctx context.Context, res sql.Result, id domain.JobID, target domain.JobStatus, idempotent bool) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = s.db.GetContext(ctx, &current, `SELECT status FROM queue_jobs WHERE id = $1`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return unavailable("load status", err)
	}

	if idempotent && domain.JobStatus(current) == target {
		return nil
	}

	s.logger.Warn("Rejected job transition",
		slog.Int64("job_id", int64(id)),
		slog.String("from", current),
		slog.String("to", string(target)),
	)

	return fmt.Errorf("%w: job %d is %s, cannot become %s", domain.ErrInvalidTransition, id, current, target)
}

// ReclaimStale returns processing jobs untouched for longer than olderThan
// to pending, due immediately. Attempts are left as they are; the next
// claim counts the new attempt.
func (s *Storage) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now().UTC()
	cutoff := now.Add(-olderThan)

	query := `
		UPDATE queue_jobs
		SET status = $1, run_after = $2, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, now, domain.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, unavailable("reclaim stale", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("rows affected", err)
	}

	if n > 0 {
		s.logger.Warn("Reclaimed stale jobs",
			slog.Int64("count", n),
			slog.Duration("older_than", olderThan),
		)
	}

	return n, nil
}

// GetJob loads a job by id.
func (s *Storage) GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM queue_jobs WHERE id = $1`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get job", err)
	}

	job := row.toDomain()
	return &job, nil
}

// ListJobs returns jobs newest first. When filter.AfterID is set only jobs
// with a smaller id are returned.
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM queue_jobs
		WHERE ($1::text = '' OR status = $1::text)
		  AND ($2::text = '' OR type = $2::text)
		  AND ($3::bigint = 0 OR id < $3::bigint)
		ORDER BY id DESC
		LIMIT $4
	`

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query,
		string(filter.Status),
		filter.Type,
		int64(filter.AfterID),
		filter.Limit,
	)
	if err != nil {
		return nil, unavailable("list jobs", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status. Statuses with
// no jobs are reported as zero.
func (s *Storage) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}

	err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM queue_jobs GROUP BY status`)
	if err != nil {
		return nil, unavailable("count by status", err)
	}

	counts := map[domain.JobStatus]int64{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusDone:       0,
		domain.JobStatusFailed:     0,
	}
	for _, r := range rows {
		counts[domain.JobStatus(r.Status)] = r.Count
	}
	return counts, nil
}
