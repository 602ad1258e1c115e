package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/redealabama/outbound-queue/internal/phone"
	"github.com/redealabama/outbound-queue/internal/worker/domain"
	"github.com/redealabama/outbound-queue/shared/whatsapp"
)

// WhatsappSendHandler delivers whatsapp_send jobs.
type WhatsappSendHandler struct {
	sender      whatsapp.Sender
	ledger      whatsapp.SentLedger
	countryCode string
	logger      *slog.Logger
}

// NewWhatsappSendHandler creates the handler. ledger may be nil.
func NewWhatsappSendHandler(sender whatsapp.Sender, ledger whatsapp.SentLedger, countryCode string, logger *slog.Logger) *WhatsappSendHandler {
	return &WhatsappSendHandler{
		sender:      sender,
		ledger:      ledger,
		countryCode: countryCode,
		logger:      logger,
	}
}

func ledgerKey(id domain.JobID) string {
	return "job:" + strconv.FormatInt(int64(id), 10)
}

func (h *WhatsappSendHandler) Execute(ctx context.Context, job *domain.Job) Outcome {
	payload, err := domain.DecodeWhatsappSend(job.Payload)
	if err != nil {
		return FromError(err)
	}

	to, err := phone.Normalize(payload.Phone, h.countryCode)
	if err != nil {
		if errors.Is(err, phone.ErrInvalidPhone) {
			return Permanent(domain.ReasonInvalidPhone)
		}
		return Permanent(err.Error())
	}

	if strings.TrimSpace(payload.Text) == "" {
		return Permanent(domain.ReasonEmptyText)
	}

	key := ledgerKey(job.ID)
	if h.ledger != nil {
		sent, err := h.ledger.WasSent(ctx, key)
		if err != nil {
			h.logger.Warn("Sent ledger unavailable, sending anyway",
				slog.Int64("job_id", int64(job.ID)),
				slog.Any("error", err),
			)
		} else if sent {
			h.logger.Info("Message already delivered, skipping send",
				slog.Int64("job_id", int64(job.ID)),
			)
			return Success()
		}
	}

	metadata := make(map[string]string, len(payload.Metadata)+1)
	for k, v := range payload.Metadata {
		metadata[k] = v
	}
	metadata["job_id"] = strconv.FormatInt(int64(job.ID), 10)

	res := h.sender.Send(ctx, whatsapp.Message{To: to, Text: payload.Text, Metadata: metadata})
	if !res.OK {
		return classifyDelivery(res)
	}

	if h.ledger != nil {
		if err := h.ledger.MarkSent(ctx, key, res.MessageID); err != nil {
			h.logger.Warn("Failed to record delivery in sent ledger",
				slog.Int64("job_id", int64(job.ID)),
				slog.Any("error", err),
			)
		}
	}

	h.logger.Info("WhatsApp message delivered",
		slog.Int64("job_id", int64(job.ID)),
		slog.String("message_id", res.MessageID),
		slog.Int("attempts", job.Attempts),
	)

	return Success()
}

// classifyDelivery maps a failed delivery to an outcome. No status means
// the request never completed.
func classifyDelivery(res whatsapp.Result) Outcome {
	reason := res.Error
	if reason == "" {
		reason = "http_" + strconv.Itoa(res.Status)
	}

	if isRetryableStatus(res.Status) {
		return Retryable(reason)
	}
	return Permanent(reason)
}

func isRetryableStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	default:
		// non-2xx outside 4xx/5xx: unexpected, let the retry policy bound it
		return true
	}
}
