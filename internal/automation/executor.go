// Package automation executes the actions carried by automation_action jobs.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

// Supported actions
const (
	ActionLogOnly         = domain.ActionLogOnly
	ActionPublishEvent    = "publish_event"
	ActionEnqueueWhatsapp = "enqueue_whatsapp"
)

// Publisher publishes a message to the broker.
type Publisher interface {
	PublishTo(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Enqueuer adds a job to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload json.RawMessage, runAfter time.Time) (domain.JobID, error)
}

// Executor dispatches automation actions. Publisher and enqueuer are
// optional; actions needing a missing one fail permanently.
type Executor struct {
	publisher Publisher
	enqueuer  Enqueuer
	logger    *slog.Logger
	now       func() time.Time
}

// NewExecutor creates a new Executor
func NewExecutor(publisher Publisher, enqueuer Enqueuer, logger *slog.Logger) *Executor {
	return &Executor{
		publisher: publisher,
		enqueuer:  enqueuer,
		logger:    logger,
		now:       time.Now,
	}
}

type publishParams struct {
	RoutingKey string          `json:"routing_key"`
	Body       json.RawMessage `json:"body"`
}

type enqueueWhatsappParams struct {
	Phone        string            `json:"phone"`
	Text         string            `json:"text"`
	DelaySeconds int               `json:"delay_seconds"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (e *Executor) Execute(ctx context.Context, action *domain.AutomationPayload) error {
	switch action.Action {
	case ActionLogOnly:
		e.logger.Info("Automation action",
			slog.String("action", action.Action),
			slog.Int64("rule_id", action.RuleID),
			slog.String("event_key", action.EventKey),
			slog.String("params", string(action.Params)),
		)
		return nil

	case ActionPublishEvent:
		return e.publishEvent(ctx, action)

	case ActionEnqueueWhatsapp:
		return e.enqueueWhatsapp(ctx, action)

	default:
		return domain.NewValidationError(domain.ReasonUnknownAction, fmt.Errorf("action %q", action.Action))
	}
}

func (e *Executor) publishEvent(ctx context.Context, action *domain.AutomationPayload) error {
	if e.publisher == nil {
		return domain.NewValidationError(domain.ReasonNotConfigured, errors.New("no broker configured"))
	}

	var params publishParams
	if err := decodeParams(action.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.RoutingKey) == "" {
		return domain.NewValidationError(domain.ReasonInvalidParams, errors.New("routing_key is required"))
	}

	body, err := json.Marshal(map[string]any{
		"rule_id":   action.RuleID,
		"event_key": action.EventKey,
		"body":      params.Body,
		"ts":        e.now().UTC(),
	})
	if err != nil {
		return domain.NewValidationError(domain.ReasonInvalidParams, err)
	}

	if err := e.publisher.PublishTo(ctx, params.RoutingKey, body, "application/json"); err != nil {
		return domain.NewTransientError(err)
	}
	return nil
}

func (e *Executor) enqueueWhatsapp(ctx context.Context, action *domain.AutomationPayload) error {
	if e.enqueuer == nil {
		return domain.NewValidationError(domain.ReasonNotConfigured, errors.New("no job store configured"))
	}

	var params enqueueWhatsappParams
	if err := decodeParams(action.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.Phone) == "" || strings.TrimSpace(params.Text) == "" {
		return domain.NewValidationError(domain.ReasonInvalidParams, errors.New("phone and text are required"))
	}
	if params.DelaySeconds < 0 {
		return domain.NewValidationError(domain.ReasonInvalidParams, errors.New("delay_seconds must not be negative"))
	}

	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if action.RuleID != 0 {
		metadata["rule_id"] = fmt.Sprint(action.RuleID)
	}
	if action.EventKey != "" {
		metadata["event_key"] = action.EventKey
	}

	payload, err := json.Marshal(domain.WhatsappSendPayload{Phone: params.Phone, Text: params.Text, Metadata: metadata})
	if err != nil {
		return domain.NewValidationError(domain.ReasonInvalidParams, err)
	}

	var runAfter time.Time
	if params.DelaySeconds > 0 {
		runAfter = e.now().Add(time.Duration(params.DelaySeconds) * time.Second)
	}

	id, err := e.enqueuer.Enqueue(ctx, domain.JobTypeWhatsappSend, payload, runAfter)
	if err != nil {
		return domain.NewTransientError(err)
	}

	e.logger.Info("Automation enqueued follow-up message",
		slog.Int64("job_id", int64(id)),
		slog.Int64("rule_id", action.RuleID),
	)
	return nil
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return domain.NewValidationError(domain.ReasonInvalidParams, errors.New("params are required"))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.NewValidationError(domain.ReasonInvalidParams, err)
	}
	return nil
}
