package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redealabama/outbound-queue/internal/events"
	"github.com/redealabama/outbound-queue/internal/worker/domain"
	"github.com/redealabama/outbound-queue/internal/worker/handler"
)

// processJob runs one claimed job and records its outcome. It reports the
// outcome kind and whether the job reached a terminal state. A non-nil
// error means the job was no longer owned or its outcome could not be
// recorded.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) (handler.OutcomeKind, bool, error) {
	log := w.logger.With(
		slog.Int64("job_id", int64(job.ID)),
		slog.String("type", job.Type),
		slog.Int("attempts", job.Attempts),
	)

	// A job that waited for a pool slot may have been reclaimed meanwhile.
	if err := w.store.StartExecution(context.WithoutCancel(ctx), job.ID, job.Attempts); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return w.markFailed(log, "started", err)
		}
		log.Warn("Job no longer owned, not running it", slog.Any("error", err))
		return 0, false, fmt.Errorf("start job: %w", err)
	}

	var outcome handler.Outcome
	switch h, ok := w.registry.Lookup(job.Type); {
	case job.Attempts > w.policy.MaxAttempts:
		// reclaimed after its last attempt died mid-run
		reason := job.LastError
		if reason == "" {
			reason = domain.ReasonStaleClaim
		}
		outcome = handler.Retryable(reason)
	case !ok:
		outcome = handler.Permanent(domain.ReasonUnknownType)
	default:
		log.Debug("Executing job")
		outcome = w.execute(ctx, h, job)
	}

	// Job state must be written even when shutdown has started.
	storeCtx := context.WithoutCancel(ctx)

	switch outcome.Kind {
	case handler.KindSuccess:
		if err := w.store.MarkDone(storeCtx, job.ID); err != nil {
			return w.markFailed(log, "done", err)
		}
		log.Info("Job completed")
		w.emit(ctx, events.JobDone, job, nil)
		return outcome.Kind, true, nil

	case handler.KindRetryable:
		if w.policy.ShouldRetry(job.Attempts) {
			runAfter := w.now().Add(w.policy.NextDelay(job.Attempts))
			if err := w.store.MarkRetry(storeCtx, job.ID, outcome.Reason, runAfter); err != nil {
				return w.markFailed(log, "retry", err)
			}
			log.Warn("Job scheduled for retry",
				slog.String("reason", outcome.Reason),
				slog.Time("run_after", runAfter),
			)
			w.emit(ctx, events.JobRetry, job, func(c *events.Context) {
				c.Error = outcome.Reason
				c.RunAfter = &runAfter
			})
			return outcome.Kind, false, nil
		}
		return w.fail(ctx, storeCtx, log, job, outcome.Reason, events.TerminalAttemptsExhausted)

	default:
		return w.fail(ctx, storeCtx, log, job, outcome.Reason, events.TerminalPermanent)
	}
}

func (w *Worker) fail(ctx, storeCtx context.Context, log *slog.Logger, job *domain.Job, reason, terminal string) (handler.OutcomeKind, bool, error) {
	if err := w.store.MarkFailed(storeCtx, job.ID, reason); err != nil {
		return w.markFailed(log, "failed", err)
	}

	log.Error("Job failed",
		slog.String("reason", reason),
		slog.String("terminal", terminal),
	)
	w.emit(ctx, events.JobFailed, job, func(c *events.Context) {
		c.Error = reason
		c.Terminal = terminal
	})

	if terminal == events.TerminalPermanent {
		return handler.KindPermanent, true, nil
	}
	return handler.KindRetryable, true, nil
}

func (w *Worker) markFailed(log *slog.Logger, target string, err error) (handler.OutcomeKind, bool, error) {
	log.Error("Failed to record job outcome",
		slog.String("target", target),
		slog.Any("error", err),
	)
	return 0, false, fmt.Errorf("mark %s: %w", target, err)
}

// execute runs the handler under the job timeout. The handler gets a
// context detached from ctx so shutdown lets in-flight jobs finish; a
// handler that ignores its deadline is abandoned and the run counts as a
// timeout. Panics become permanent failures.
func (w *Worker) execute(ctx context.Context, h handler.Handler, job *domain.Job) handler.Outcome {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	done := make(chan handler.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Handler panicked",
					slog.Int64("job_id", int64(job.ID)),
					slog.Any("panic", r),
				)
				done <- handler.Permanent(domain.ReasonHandlerPanic)
			}
		}()
		done <- h.Execute(jobCtx, job)
	}()

	start := time.Now()
	select {
	case outcome := <-done:
		w.logger.Debug("Handler returned",
			slog.Int64("job_id", int64(job.ID)),
			slog.String("outcome", outcome.Kind.String()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return outcome
	case <-jobCtx.Done():
		return handler.Retryable(domain.ReasonTimeout)
	}
}
