package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(name string) Event {
	runAfter := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	return Event{
		TS:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Channel: Channel,
		Event:   name,
		Context: Context{JobID: 7, Type: "whatsapp_send", Attempts: 2, Error: "http_503", RunAfter: &runAfter},
	}
}

func TestEvent_JSONShape(t *testing.T) {
	body, err := json.Marshal(sampleEvent(JobRetry))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"ts": "2026-03-01T12:00:00Z",
		"channel": "queue",
		"event": "job_retry",
		"context": {"job_id": 7, "type": "whatsapp_send", "attempts": 2, "error": "http_503", "run_after": "2026-03-01T12:00:30Z"}
	}`, string(body))
}

func TestEvent_JSONShape_EmptyErrorKept(t *testing.T) {
	evt := sampleEvent(JobDone)
	evt.Context.Error = ""
	evt.Context.RunAfter = nil

	body, err := json.Marshal(evt)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"ts": "2026-03-01T12:00:00Z",
		"channel": "queue",
		"event": "job_done",
		"context": {"job_id": 7, "type": "whatsapp_send", "attempts": 2, "error": ""}
	}`, string(body))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	evt := sampleEvent(JobFailed)
	evt.Context.Terminal = TerminalAttemptsExhausted
	require.NoError(t, sink.Emit(context.Background(), evt))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "queue event", entry["msg"])
	assert.Equal(t, "job_failed", entry["event"])
	assert.Equal(t, float64(7), entry["job_id"])
	assert.Equal(t, "attempts_exhausted", entry["terminal"])
}

func TestLogSink_ClaimedCarriesEmptyError(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	evt := sampleEvent(JobClaimed)
	evt.Context.Error = ""
	require.NoError(t, sink.Emit(context.Background(), evt))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry, "error")
	assert.Equal(t, "", entry["error"])
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	body [][]byte
	err  error
}

func (p *recordingPublisher) PublishTo(_ context.Context, routingKey string, body []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.body = append(p.body, body)
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewAMQPSink(pub, "")

	require.NoError(t, sink.Emit(context.Background(), sampleEvent(JobDone)))

	require.Len(t, pub.keys, 1)
	assert.Equal(t, "events.queue.job_done", pub.keys[0])

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.body[0], &decoded))
	assert.Equal(t, int64(7), decoded.Context.JobID)

	pub.err = errors.New("channel closed")
	err := sink.Emit(context.Background(), sampleEvent(JobDone))
	assert.ErrorContains(t, err, "channel closed")
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, Event) error { calls++; return nil })
	failing := SinkFunc(func(context.Context, Event) error { calls++; return errors.New("boom") })

	err := MultiSink{failing, ok}.Emit(context.Background(), sampleEvent(JobClaimed))

	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 2, calls, "a failing sink does not stop the others")
}

func TestAsyncSink_DeliversAndDrains(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	next := SinkFunc(func(_ context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt.Event)
		return nil
	})

	sink := NewAsyncSink(next, 8, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	for _, name := range []string{JobClaimed, JobDone} {
		require.NoError(t, sink.Emit(context.Background(), sampleEvent(name)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	assert.Equal(t, []string{JobClaimed, JobDone}, received)
	assert.ErrorIs(t, sink.Emit(context.Background(), sampleEvent(JobDone)), ErrSinkClosed)
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	next := SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	})

	sink := NewAsyncSink(next, 1, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	// first event is taken by the forwarder and blocks there
	require.NoError(t, sink.Emit(context.Background(), sampleEvent(JobClaimed)))
	require.Eventually(t, func() bool { return len(sink.queue) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, sink.Emit(context.Background(), sampleEvent(JobDone)))

	start := time.Now()
	err := sink.Emit(context.Background(), sampleEvent(JobRetry))
	assert.ErrorIs(t, err, ErrSinkFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, sink.Close(context.Background()))
}
