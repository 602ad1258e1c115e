package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redealabama/outbound-queue/shared/logger"
)

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(Config{
		BaseURL:       baseURL,
		PhoneNumberID: "123456",
		AccessToken:   "secret-token",
		Timeout:       timeout,
	}, logger.NewNop().Logger)
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_RequiresSettings(t *testing.T) {
	_, err := NewHTTPClient(Config{BaseURL: "https://graph.facebook.com/v19.0"}, logger.NewNop().Logger)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSend_Accepted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/123456/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req sendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "whatsapp", req.MessagingProduct)
		assert.Equal(t, "5511987654321", req.To)
		assert.Equal(t, "text", req.Type)
		assert.Equal(t, "Olá!", req.Text.Body)
		assert.JSONEq(t, `{"job_id":"9"}`, req.BizOpaqueData)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer ts.Close()

	res := newTestClient(t, ts.URL+"/", time.Second).Send(context.Background(), Message{
		To:       "5511987654321",
		Text:     "Olá!",
		Metadata: map[string]string{"job_id": "9"},
	})

	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "wamid.ABC", res.MessageID)
	assert.Empty(t, res.Error)
}

func TestSend_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantError string
	}{
		{
			name:      "api error message is kept",
			status:    http.StatusBadRequest,
			body:      `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`,
			wantError: "http_400: Invalid parameter",
		},
		{
			name:      "rate limited without body",
			status:    http.StatusTooManyRequests,
			wantError: "http_429",
		},
		{
			name:      "server error with html body",
			status:    http.StatusBadGateway,
			body:      "<html>bad gateway</html>",
			wantError: "http_502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			res := newTestClient(t, ts.URL, time.Second).Send(context.Background(), Message{To: "1", Text: "x"})

			assert.False(t, res.OK)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.wantError, res.Error)
		})
	}
}

func TestSend_NetworkFailureHasNoStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	res := newTestClient(t, url, time.Second).Send(context.Background(), Message{To: "1", Text: "x"})

	assert.False(t, res.OK)
	assert.Zero(t, res.Status)
	assert.True(t, strings.HasPrefix(res.Error, "unreachable: "), res.Error)
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	res := newTestClient(t, ts.URL, 50*time.Millisecond).Send(context.Background(), Message{To: "1", Text: "x"})

	assert.False(t, res.OK)
	assert.Zero(t, res.Status)
	assert.True(t, strings.HasPrefix(res.Error, "timeout: "), res.Error)
}

func TestSimulatedClient(t *testing.T) {
	res := NewSimulatedClient(logger.NewNop().Logger).Send(context.Background(), Message{To: "5511", Text: "hi"})

	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, strings.HasPrefix(res.MessageID, "sim-"))
}

type countingSender struct {
	calls atomic.Int32
}

func (s *countingSender) Send(context.Context, Message) Result {
	s.calls.Add(1)
	return Result{OK: true, Status: http.StatusOK}
}

func TestRateLimitedSender(t *testing.T) {
	t.Run("disabled limit returns the wrapped sender", func(t *testing.T) {
		next := &countingSender{}
		assert.Same(t, Sender(next), NewRateLimitedSender(next, 0, 1))
	})

	t.Run("waits for tokens beyond the burst", func(t *testing.T) {
		next := &countingSender{}
		s := NewRateLimitedSender(next, 20, 1)

		start := time.Now()
		for i := 0; i < 3; i++ {
			assert.True(t, s.Send(context.Background(), Message{}).OK)
		}

		assert.Equal(t, int32(3), next.calls.Load())
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})

	t.Run("context ends while waiting", func(t *testing.T) {
		next := &countingSender{}
		s := NewRateLimitedSender(next, 0.1, 1)
		require.True(t, s.Send(context.Background(), Message{}).OK)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		res := s.Send(ctx, Message{})
		assert.False(t, res.OK)
		assert.Zero(t, res.Status)
		assert.Contains(t, res.Error, "rate limiter")
		assert.Equal(t, int32(1), next.calls.Load())
	})
}
