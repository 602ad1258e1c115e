package whatsapp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// SimulatedClient logs messages instead of sending them and always
// reports success. Used for dry runs and staging.
type SimulatedClient struct {
	logger *slog.Logger
}

// NewSimulatedClient creates a new SimulatedClient
func NewSimulatedClient(logger *slog.Logger) *SimulatedClient {
	return &SimulatedClient{logger: logger}
}

func (c *SimulatedClient) Send(_ context.Context, msg Message) Result {
	id := "sim-" + uuid.NewString()

	c.logger.Info("Simulated WhatsApp send",
		slog.String("to", msg.To),
		slog.Int("text_len", len(msg.Text)),
		slog.String("message_id", id),
	)

	return Result{OK: true, Status: http.StatusOK, MessageID: id}
}
