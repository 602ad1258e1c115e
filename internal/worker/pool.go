package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/redealabama/outbound-queue/internal/events"
	"github.com/redealabama/outbound-queue/internal/worker/domain"
	"github.com/redealabama/outbound-queue/internal/worker/handler"
)

// RunOnce performs one pass: sweep stale claims, claim a batch, run it on
// the bounded pool and record every outcome. Failed jobs do not make the
// pass fail; only a store error does.
func (w *Worker) RunOnce(ctx context.Context) (PassResult, error) {
	var res PassResult

	res.Reclaimed = w.reclaim(ctx)

	jobs, err := w.store.ClaimBatch(ctx, w.batchSize, w.now())
	if err != nil {
		return res, fmt.Errorf("claim batch: %w", err)
	}
	res.Claimed = len(jobs)
	if len(jobs) == 0 {
		w.logger.Debug("No jobs due")
		return res, nil
	}

	w.logger.Info("Claimed jobs", slog.Int("count", len(jobs)))

	for i := range jobs {
		w.emit(ctx, events.JobClaimed, &jobs[i], nil)
	}

	err = w.runBatch(ctx, jobs, &res)

	w.logger.Info("Worker pass finished",
		slog.Int("claimed", res.Claimed),
		slog.Int("done", res.Done),
		slog.Int("retried", res.Retried),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int64("reclaimed", res.Reclaimed),
	)

	return res, err
}

// runBatch executes jobs with at most w.concurrency in flight. Once a mark
// fails with ErrStoreUnavailable, jobs not yet started are skipped and
// left processing for the stale sweep; jobs already running finish. Jobs
// reclaimed by the sweep while waiting for a slot are skipped too.
func (w *Worker) runBatch(ctx context.Context, jobs []domain.Job, res *PassResult) error {
	var (
		g       errgroup.Group
		aborted atomic.Bool
		mu      sync.Mutex
	)
	g.SetLimit(w.concurrency)

	record := func(kind handler.OutcomeKind, terminal bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case kind == handler.KindSuccess:
			res.Done++
		case terminal:
			res.Failed++
		default:
			res.Retried++
		}
	}
	skip := func() {
		mu.Lock()
		res.Skipped++
		mu.Unlock()
	}

	for i := range jobs {
		job := &jobs[i]
		if aborted.Load() {
			skip()
			continue
		}

		g.Go(func() error {
			if aborted.Load() {
				skip()
				return nil
			}

			kind, terminal, err := w.processJob(ctx, job)
			if err != nil {
				if errors.Is(err, domain.ErrStoreUnavailable) {
					aborted.Store(true)
					return fmt.Errorf("job %d: %w", job.ID, err)
				}
				// lost ownership; the row is someone else's now
				skip()
				return nil
			}
			record(kind, terminal)
			return nil
		})
	}

	return g.Wait()
}
