// Package whatsapp delivers text messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Message is one outbound text message. To holds E.164 digits.
type Message struct {
	To       string
	Text     string
	Metadata map[string]string
}

// Result describes a delivery attempt. Status is the HTTP status, or 0
// when no response was received.
type Result struct {
	OK        bool
	Status    int
	Error     string
	MessageID string
}

// Sender delivers messages. Send never returns a Go error; failures are
// described by the Result.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// Config holds Cloud API settings
type Config struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// ErrNotConfigured is returned when required Cloud API settings are missing.
var ErrNotConfigured = errors.New("whatsapp api not configured")

// HTTPClient implements Sender against the Cloud API messages endpoint.
type HTTPClient struct {
	endpoint    string
	accessToken string
	client      *http.Client
	logger      *slog.Logger
}

// NewHTTPClient validates cfg and creates a client.
func NewHTTPClient(cfg Config, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" || cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: base_url, phone_number_id and access_token are required", ErrNotConfigured)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid whatsapp base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPClient{
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/" + url.PathEscape(cfg.PhoneNumberID) + "/messages",
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}, nil
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
	BizOpaqueData    string   `json:"biz_opaque_callback_data,omitempty"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *HTTPClient) Send(ctx context.Context, msg Message) Result {
	reqBody := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "text",
		Text:             textBody{Body: msg.Text},
	}
	if len(msg.Metadata) > 0 {
		if opaque, err := json.Marshal(msg.Metadata); err == nil {
			reqBody.BizOpaqueData = string(opaque)
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{Error: fmt.Sprintf("encoding request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("building request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{Error: classifyError(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Status: resp.StatusCode, Error: fmt.Sprintf("reading response: %v", err)}
	}

	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res := Result{OK: true, Status: resp.StatusCode}
		if len(parsed.Messages) > 0 {
			res.MessageID = parsed.Messages[0].ID
		}
		c.logger.Debug("WhatsApp message accepted",
			slog.Int("status", resp.StatusCode),
			slog.String("message_id", res.MessageID),
		)
		return res
	}

	errMsg := fmt.Sprintf("http_%d", resp.StatusCode)
	if parsed.Error != nil && parsed.Error.Message != "" {
		errMsg = fmt.Sprintf("http_%d: %s", resp.StatusCode, parsed.Error.Message)
	}

	c.logger.Warn("WhatsApp message rejected",
		slog.Int("status", resp.StatusCode),
		slog.String("error", errMsg),
	)

	return Result{Status: resp.StatusCode, Error: errMsg}
}

// classifyError renders transport failures as short reasons.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout: " + err.Error()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled: " + err.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout: " + err.Error()
	}

	return "unreachable: " + err.Error()
}
