package handler

import (
	"context"
	"log/slog"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

// ActionExecutor runs a decoded automation action. It returns a
// domain.ValidationError for actions that can never succeed.
type ActionExecutor interface {
	Execute(ctx context.Context, action *domain.AutomationPayload) error
}

// AutomationHandler executes automation_action jobs.
type AutomationHandler struct {
	executor ActionExecutor
	logger   *slog.Logger
}

// NewAutomationHandler creates a new AutomationHandler
func NewAutomationHandler(executor ActionExecutor, logger *slog.Logger) *AutomationHandler {
	return &AutomationHandler{executor: executor, logger: logger}
}

func (h *AutomationHandler) Execute(ctx context.Context, job *domain.Job) Outcome {
	action, err := domain.DecodeAutomation(job.Payload)
	if err != nil {
		return FromError(err)
	}

	if err := h.executor.Execute(ctx, action); err != nil {
		outcome := FromError(err)
		h.logger.Warn("Automation action failed",
			slog.Int64("job_id", int64(job.ID)),
			slog.String("action", action.Action),
			slog.String("outcome", outcome.Kind.String()),
			slog.Any("error", err),
		)
		return outcome
	}

	return Success()
}
