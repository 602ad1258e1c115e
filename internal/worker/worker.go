package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redealabama/outbound-queue/internal/events"
	"github.com/redealabama/outbound-queue/internal/worker/domain"
	"github.com/redealabama/outbound-queue/internal/worker/handler"
	"github.com/redealabama/outbound-queue/internal/worker/retry"
)

// JobStore is the part of the job store the worker drives.
type JobStore interface {
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.Job, error)
	StartExecution(ctx context.Context, id domain.JobID, attempts int) error
	MarkDone(ctx context.Context, id domain.JobID) error
	MarkRetry(ctx context.Context, id domain.JobID, reason string, nextRunAfter time.Time) error
	MarkFailed(ctx context.Context, id domain.JobID, reason string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Defaults applied by NewWorker
const (
	DefaultConcurrency  = 5
	DefaultBatchSize    = 50
	DefaultJobTimeout   = 30 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultStaleAfter   = 5 * time.Minute
	defaultEmitTimeout  = 2 * time.Second
)

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Store        JobStore
	Registry     *handler.Registry
	Sink         events.Sink
	Policy       retry.Policy
	Concurrency  int
	BatchSize    int
	JobTimeout   time.Duration
	PollInterval time.Duration
	// StaleAfter must exceed JobTimeout. The claim is refreshed when each
	// job starts, so a job waiting for a pool slot does not age toward it.
	StaleAfter      time.Duration
	ReclaimInterval time.Duration
	Clock           func() time.Time
}

// Worker claims due jobs and runs them through their handlers.
type Worker struct {
	logger          *slog.Logger
	store           JobStore
	registry        *handler.Registry
	sink            events.Sink
	policy          retry.Policy
	concurrency     int
	batchSize       int
	jobTimeout      time.Duration
	pollInterval    time.Duration
	staleAfter      time.Duration
	reclaimInterval time.Duration
	now             func() time.Time
	workerID        string

	wakeChan chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PassResult counts what one pass did.
type PassResult struct {
	Reclaimed int64
	Claimed   int
	Done      int
	Retried   int
	Failed    int
	Skipped   int
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:          cfg.Logger,
		store:           cfg.Store,
		registry:        cfg.Registry,
		sink:            cfg.Sink,
		policy:          cfg.Policy.WithDefaults(),
		concurrency:     cfg.Concurrency,
		batchSize:       cfg.BatchSize,
		jobTimeout:      cfg.JobTimeout,
		pollInterval:    cfg.PollInterval,
		staleAfter:      cfg.StaleAfter,
		reclaimInterval: cfg.ReclaimInterval,
		now:             cfg.Clock,
		workerID:        "worker-" + uuid.NewString()[:8],
		wakeChan:        make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.registry == nil {
		w.registry = handler.NewRegistry()
	}
	if w.sink == nil {
		w.sink = events.NewLogSink(w.logger)
	}
	if w.concurrency <= 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = DefaultJobTimeout
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.staleAfter <= 0 {
		w.staleAfter = DefaultStaleAfter
	}
	if w.reclaimInterval <= 0 {
		w.reclaimInterval = w.staleAfter / 2
	}
	if w.now == nil {
		w.now = time.Now
	}

	w.logger = w.logger.With(slog.String("worker_id", w.workerID))
	return w
}

// ID returns the instance id used in logs and events.
func (w *Worker) ID() string {
	return w.workerID
}

// Start runs passes until ctx is canceled or Stop is called. A pass starts
// every poll interval, right after a pass that filled its batch, or early
// when Notify is called. Stale claims are swept on their own ticker.
func (w *Worker) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("batch_size", w.batchSize),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("stale_after", w.staleAfter),
	)

	reclaimTicker := time.NewTicker(w.reclaimInterval)
	defer reclaimTicker.Stop()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping")
			return nil
		case <-w.stopChan:
			w.logger.Info("Worker stop requested")
			return nil
		case <-reclaimTicker.C:
			w.reclaim(ctx)
			continue
		case <-w.wakeChan:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		res, err := w.RunOnce(ctx)
		next := w.pollInterval
		switch {
		case err != nil:
			w.logger.Error("Worker pass aborted", slog.Any("error", err))
		case res.Claimed == w.batchSize:
			// backlog: go again right away
			next = 0
		}
		timer.Reset(next)
	}
}

// Stop asks Start to return and waits for the current pass to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker")
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// Notify wakes an idle worker so it starts a pass without waiting for the
// poll interval. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wakeChan <- struct{}{}:
	default:
	}
}

func (w *Worker) reclaim(ctx context.Context) int64 {
	n, err := w.store.ReclaimStale(ctx, w.staleAfter)
	if err != nil {
		w.logger.Error("Failed to reclaim stale jobs", slog.Any("error", err))
		return 0
	}
	if n > 0 {
		w.logger.Warn("Reclaimed stale jobs", slog.Int64("count", n))
	}
	return n
}

// emit hands an event to the sink. Sink failures are logged and never
// change the job's outcome.
func (w *Worker) emit(ctx context.Context, name string, job *domain.Job, fill func(*events.Context)) {
	evt := events.Event{
		TS:      w.now().UTC(),
		Channel: events.Channel,
		Event:   name,
		Context: events.Context{
			JobID:    int64(job.ID),
			Type:     job.Type,
			Attempts: job.Attempts,
			WorkerID: w.workerID,
		},
	}
	if fill != nil {
		fill(&evt.Context)
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultEmitTimeout)
	defer cancel()

	if err := w.sink.Emit(emitCtx, evt); err != nil {
		w.logger.Warn("Failed to emit event",
			slog.String("event", name),
			slog.Int64("job_id", int64(job.ID)),
			slog.Any("error", err),
		)
	}
}

// HandleNotification parses an enqueue notification body and wakes the
// worker when the job is already due.
func (w *Worker) HandleNotification(body []byte) error {
	var n domain.EnqueueNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return err
	}
	if n.RunAfter.IsZero() || !n.RunAfter.After(w.now()) {
		w.Notify()
	}
	return nil
}
