package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
	"github.com/redealabama/outbound-queue/shared/logger"
	"github.com/redealabama/outbound-queue/shared/whatsapp"
)

type fakeSender struct {
	mu     sync.Mutex
	result whatsapp.Result
	sent   []whatsapp.Message
}

func (s *fakeSender) Send(_ context.Context, msg whatsapp.Message) whatsapp.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.result
}

type fakeLedger struct {
	sent    map[string]string
	readErr error
}

func (l *fakeLedger) WasSent(_ context.Context, key string) (bool, error) {
	if l.readErr != nil {
		return false, l.readErr
	}
	_, ok := l.sent[key]
	return ok, nil
}

func (l *fakeLedger) MarkSent(_ context.Context, key string, messageID string) error {
	l.sent[key] = messageID
	return nil
}

func whatsappJob(id domain.JobID, payload string) *domain.Job {
	return &domain.Job{ID: id, Type: domain.JobTypeWhatsappSend, Payload: json.RawMessage(payload), Attempts: 1}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := Func(func(context.Context, *domain.Job) Outcome { return Success() })

	require.NoError(t, r.Register(domain.JobTypeWhatsappSend, noop))
	require.NoError(t, r.Register(domain.JobTypeAutomationAction, noop))
	assert.Error(t, r.Register(domain.JobTypeWhatsappSend, noop), "duplicate")
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("x", nil))

	h, ok := r.Lookup(domain.JobTypeWhatsappSend)
	require.True(t, ok)
	assert.Equal(t, KindSuccess, h.Execute(context.Background(), &domain.Job{}).Kind)

	_, ok = r.Lookup("fax_send")
	assert.False(t, ok)

	assert.Equal(t, []string{domain.JobTypeAutomationAction, domain.JobTypeWhatsappSend}, r.Types())
}

func TestFromError(t *testing.T) {
	assert.Equal(t, Success(), FromError(nil))
	assert.Equal(t, Permanent(domain.ReasonInvalidParams), FromError(domain.NewValidationError(domain.ReasonInvalidParams, errors.New("x"))))
	assert.Equal(t, Retryable("broker down"), FromError(domain.NewTransientError(errors.New("broker down"))))
	assert.Equal(t, Retryable("boom"), FromError(errors.New("boom")))
}

func TestWhatsappSendHandler_Delivers(t *testing.T) {
	sender := &fakeSender{result: whatsapp.Result{OK: true, Status: http.StatusOK, MessageID: "wamid.1"}}
	ledger := &fakeLedger{sent: map[string]string{}}
	h := NewWhatsappSendHandler(sender, ledger, "55", logger.NewNop().Logger)

	out := h.Execute(context.Background(), whatsappJob(9, `{"phone":"+55 11 98888-1234","text":"Olá","metadata":{"campaign":"spring"}}`))

	assert.Equal(t, Success(), out)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "5511988881234", sender.sent[0].To)
	assert.Equal(t, "Olá", sender.sent[0].Text)
	assert.Equal(t, map[string]string{"campaign": "spring", "job_id": "9"}, sender.sent[0].Metadata)
	assert.Equal(t, "wamid.1", ledger.sent["job:9"])
}

func TestWhatsappSendHandler_PermanentInputErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{name: "empty phone", payload: `{"phone":"","text":"hi"}`, reason: domain.ReasonInvalidPhone},
		{name: "phone without digits", payload: `{"phone":"n/a","text":"hi"}`, reason: domain.ReasonInvalidPhone},
		{name: "blank text", payload: `{"phone":"11987654321","text":"   "}`, reason: domain.ReasonEmptyText},
		{name: "not an object", payload: `[]`, reason: domain.ReasonInvalidPayload},
		{name: "malformed json", payload: `{"phone":`, reason: domain.ReasonInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{result: whatsapp.Result{OK: true}}
			h := NewWhatsappSendHandler(sender, nil, "55", logger.NewNop().Logger)

			out := h.Execute(context.Background(), whatsappJob(1, tt.payload))

			assert.Equal(t, Permanent(tt.reason), out)
			assert.Empty(t, sender.sent, "client must not be called")
		})
	}
}

func TestWhatsappSendHandler_ClassifiesDeliveryFailures(t *testing.T) {
	tests := []struct {
		name   string
		result whatsapp.Result
		want   Outcome
	}{
		{name: "network failure", result: whatsapp.Result{Error: "unreachable: dial tcp"}, want: Retryable("unreachable: dial tcp")},
		{name: "server error", result: whatsapp.Result{Status: 503, Error: "http_503"}, want: Retryable("http_503")},
		{name: "rate limited", result: whatsapp.Result{Status: 429}, want: Retryable("http_429")},
		{name: "request timeout", result: whatsapp.Result{Status: 408, Error: "http_408"}, want: Retryable("http_408")},
		{name: "bad request", result: whatsapp.Result{Status: 400, Error: "http_400: Invalid parameter"}, want: Permanent("http_400: Invalid parameter")},
		{name: "unauthorized", result: whatsapp.Result{Status: 401, Error: "http_401"}, want: Permanent("http_401")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{sent: map[string]string{}}
			h := NewWhatsappSendHandler(&fakeSender{result: tt.result}, ledger, "55", logger.NewNop().Logger)

			out := h.Execute(context.Background(), whatsappJob(3, `{"phone":"11987654321","text":"hi"}`))

			assert.Equal(t, tt.want, out)
			assert.Empty(t, ledger.sent, "failed delivery is not recorded")
		})
	}
}

func TestWhatsappSendHandler_SkipsAlreadySent(t *testing.T) {
	sender := &fakeSender{result: whatsapp.Result{OK: true}}
	ledger := &fakeLedger{sent: map[string]string{"job:5": "wamid.old"}}
	h := NewWhatsappSendHandler(sender, ledger, "55", logger.NewNop().Logger)

	out := h.Execute(context.Background(), whatsappJob(5, `{"phone":"11987654321","text":"hi"}`))

	assert.Equal(t, Success(), out)
	assert.Empty(t, sender.sent)
}

func TestWhatsappSendHandler_LedgerOutageStillSends(t *testing.T) {
	sender := &fakeSender{result: whatsapp.Result{OK: true}}
	ledger := &fakeLedger{sent: map[string]string{}, readErr: errors.New("redis down")}
	h := NewWhatsappSendHandler(sender, ledger, "55", logger.NewNop().Logger)

	out := h.Execute(context.Background(), whatsappJob(6, `{"phone":"11987654321","text":"hi"}`))

	assert.Equal(t, Success(), out)
	assert.Len(t, sender.sent, 1)
}

type fakeExecutor struct {
	got *domain.AutomationPayload
	err error
}

func (e *fakeExecutor) Execute(_ context.Context, action *domain.AutomationPayload) error {
	e.got = action
	return e.err
}

func TestAutomationHandler(t *testing.T) {
	job := &domain.Job{ID: 2, Type: domain.JobTypeAutomationAction, Payload: json.RawMessage(`{"action":"publish_event","rule_id":4,"params":{"routing_key":"crm.lead"}}`)}

	t.Run("success", func(t *testing.T) {
		exec := &fakeExecutor{}
		out := NewAutomationHandler(exec, logger.NewNop().Logger).Execute(context.Background(), job)

		assert.Equal(t, Success(), out)
		require.NotNil(t, exec.got)
		assert.Equal(t, "publish_event", exec.got.Action)
		assert.Equal(t, int64(4), exec.got.RuleID)
	})

	t.Run("validation error is permanent", func(t *testing.T) {
		exec := &fakeExecutor{err: domain.NewValidationError(domain.ReasonUnknownAction, nil)}
		out := NewAutomationHandler(exec, logger.NewNop().Logger).Execute(context.Background(), job)
		assert.Equal(t, Permanent(domain.ReasonUnknownAction), out)
	})

	t.Run("transport error is retryable", func(t *testing.T) {
		exec := &fakeExecutor{err: domain.NewTransientError(errors.New("broker down"))}
		out := NewAutomationHandler(exec, logger.NewNop().Logger).Execute(context.Background(), job)
		assert.Equal(t, Retryable("broker down"), out)
	})

	t.Run("bad payload never reaches the executor", func(t *testing.T) {
		exec := &fakeExecutor{}
		bad := &domain.Job{ID: 3, Payload: json.RawMessage(`"x"`)}
		out := NewAutomationHandler(exec, logger.NewNop().Logger).Execute(context.Background(), bad)
		assert.Equal(t, Permanent(domain.ReasonInvalidPayload), out)
		assert.Nil(t, exec.got)
	})
}
