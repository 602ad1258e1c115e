package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrSinkFull is returned by AsyncSink when its buffer has no room.
var ErrSinkFull = errors.New("event sink buffer full")

// ErrSinkClosed is returned by AsyncSink after Close.
var ErrSinkClosed = errors.New("event sink closed")

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a new LogSink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, evt Event) error {
	attrs := []slog.Attr{
		slog.String("channel", evt.Channel),
		slog.String("event", evt.Event),
		slog.Time("ts", evt.TS),
		slog.Int64("job_id", evt.Context.JobID),
		slog.String("type", evt.Context.Type),
		slog.Int("attempts", evt.Context.Attempts),
		slog.String("error", evt.Context.Error),
	}
	if evt.Context.RunAfter != nil {
		attrs = append(attrs, slog.Time("run_after", *evt.Context.RunAfter))
	}
	if evt.Context.Terminal != "" {
		attrs = append(attrs, slog.String("terminal", evt.Context.Terminal))
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "queue event", attrs...)
	return nil
}

// Publisher is the part of the RabbitMQ client used by AMQPSink.
type Publisher interface {
	PublishTo(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// AMQPSink publishes events as JSON with routing key "<prefix>.<event>".
type AMQPSink struct {
	publisher Publisher
	prefix    string
}

// NewAMQPSink creates a new AMQPSink. An empty prefix defaults to "events.queue".
func NewAMQPSink(publisher Publisher, prefix string) *AMQPSink {
	if prefix == "" {
		prefix = "events." + Channel
	}
	return &AMQPSink{publisher: publisher, prefix: prefix}
}

func (s *AMQPSink) Emit(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := s.publisher.PublishTo(ctx, s.prefix+"."+evt.Event, body, "application/json"); err != nil {
		return fmt.Errorf("publishing event %s: %w", evt.Event, err)
	}
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSink decouples producers from a slow sink. Emit never blocks: when
// the buffer is full the event is dropped and ErrSinkFull returned.
type AsyncSink struct {
	next   Sink
	logger *slog.Logger
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts a goroutine that forwards buffered events to next.
func NewAsyncSink(next Sink, buffer int, logger *slog.Logger) *AsyncSink {
	if buffer < 1 {
		buffer = 1
	}
	s := &AsyncSink{
		next:   next,
		logger: logger,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for evt := range s.queue {
		if err := s.next.Emit(context.Background(), evt); err != nil {
			s.logger.Warn("Failed to deliver event",
				slog.String("event", evt.Event),
				slog.Int64("job_id", evt.Context.JobID),
				slog.Any("error", err),
			)
		}
	}
}

func (s *AsyncSink) Emit(_ context.Context, evt Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- evt:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close stops accepting events and waits until the buffer is drained or
// ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining event sink: %w", ctx.Err())
	}
}
