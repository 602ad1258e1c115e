package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redealabama/outbound-queue/internal/automation"
	"github.com/redealabama/outbound-queue/internal/config"
	"github.com/redealabama/outbound-queue/internal/events"
	"github.com/redealabama/outbound-queue/internal/worker"
	"github.com/redealabama/outbound-queue/internal/worker/domain"
	"github.com/redealabama/outbound-queue/internal/worker/handler"
	"github.com/redealabama/outbound-queue/shared/whatsapp"
)

// Store is what the worker and the automation actions need from the job
// store.
type Store interface {
	worker.JobStore
	automation.Enqueuer
}

// WorkerDeps are the collaborators of a worker. Publisher, Ledger and
// Sender are optional.
type WorkerDeps struct {
	Store     Store
	Publisher events.Publisher
	Ledger    whatsapp.SentLedger
	// Sender overrides the client built from the whatsapp config.
	Sender whatsapp.Sender
	Clock  func() time.Time
}

// WorkerDeps wires the connected infrastructure into worker dependencies.
func (i *Infra) WorkerDeps(cfg *config.Config) WorkerDeps {
	deps := WorkerDeps{Store: i.Store}
	if i.Rabbit != nil {
		deps.Publisher = i.Rabbit
	}
	if i.Redis != nil {
		deps.Ledger = whatsapp.NewRedisLedger(i.Redis, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
	}
	return deps
}

// NewSender builds the delivery client for the configured mode, wrapped in
// the send rate limiter.
func NewSender(cfg *config.WhatsAppConfig, log *slog.Logger) (whatsapp.Sender, error) {
	var sender whatsapp.Sender
	switch cfg.Mode {
	case config.WhatsAppModeSimulated, "":
		log.Warn("WhatsApp simulation mode: messages are logged, not sent")
		sender = whatsapp.NewSimulatedClient(log)
	case config.WhatsAppModeCloudAPI:
		client, err := whatsapp.NewHTTPClient(whatsapp.Config{
			BaseURL:       cfg.BaseURL,
			PhoneNumberID: cfg.PhoneNumberID,
			AccessToken:   cfg.AccessToken,
			Timeout:       cfg.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		sender = client
	default:
		return nil, fmt.Errorf("invalid whatsapp mode: %q", cfg.Mode)
	}

	return whatsapp.NewRateLimitedSender(sender, cfg.RatePerSecond, cfg.RateBurst), nil
}

// NewRegistry registers the handler for every supported job type.
func NewRegistry(cfg *config.Config, deps WorkerDeps, log *slog.Logger) (*handler.Registry, error) {
	sender := deps.Sender
	if sender == nil {
		var err error
		if sender, err = NewSender(&cfg.WhatsApp, log); err != nil {
			return nil, fmt.Errorf("failed to initialize whatsapp client: %w", err)
		}
	}

	var publisher automation.Publisher
	if deps.Publisher != nil {
		publisher = deps.Publisher
	}
	executor := automation.NewExecutor(publisher, deps.Store, log.With(slog.String("component", "automation")))

	registry := handler.NewRegistry()
	if err := registry.Register(domain.JobTypeWhatsappSend,
		handler.NewWhatsappSendHandler(sender, deps.Ledger, cfg.WhatsApp.DefaultCountryCode, log)); err != nil {
		return nil, err
	}
	if err := registry.Register(domain.JobTypeAutomationAction,
		handler.NewAutomationHandler(executor, log)); err != nil {
		return nil, err
	}
	return registry, nil
}

// NewEventSink sends events to the log and, when a publisher is given, to
// the broker. Delivery is asynchronous; the caller closes the sink on
// shutdown to drain it.
func NewEventSink(cfg *config.EventsConfig, publisher events.Publisher, log *slog.Logger) *events.AsyncSink {
	sinks := events.MultiSink{events.NewLogSink(log)}
	if cfg.AMQP && publisher != nil {
		sinks = append(sinks, events.NewAMQPSink(publisher, cfg.RoutingPrefix))
	}
	return events.NewAsyncSink(sinks, cfg.BufferSize, log)
}

// NewWorker assembles a worker from config. The returned sink must be
// closed after the worker stops.
func NewWorker(cfg *config.Config, deps WorkerDeps, log *slog.Logger) (*worker.Worker, *events.AsyncSink, error) {
	registry, err := NewRegistry(cfg, deps, log)
	if err != nil {
		return nil, nil, err
	}

	sink := NewEventSink(&cfg.Events, deps.Publisher, log)

	w := worker.NewWorker(&worker.Config{
		Logger:          log,
		Store:           deps.Store,
		Registry:        registry,
		Sink:            sink,
		Policy:          cfg.Retry.Policy(),
		Concurrency:     cfg.Worker.Concurrency,
		BatchSize:       cfg.Worker.BatchSize,
		JobTimeout:      cfg.Worker.JobTimeout,
		PollInterval:    cfg.Worker.PollInterval,
		StaleAfter:      cfg.Worker.StaleAfter,
		ReclaimInterval: cfg.Worker.ReclaimInterval,
		Clock:           deps.Clock,
	})

	return w, sink, nil
}
