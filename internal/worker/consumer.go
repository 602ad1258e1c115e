package worker

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NotificationSource delivers enqueue notifications.
type NotificationSource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// ListenForNotifications consumes enqueue notifications and wakes the
// worker for each due job. Notifications only shorten the wait; the
// database stays the source of truth, so malformed messages are dropped.
func (w *Worker) ListenForNotifications(ctx context.Context, source NotificationSource) error {
	deliveries, err := source.Consume(w.workerID)
	if err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.dispatchNotifications(ctx, deliveries)
	}()

	return nil
}

func (w *Worker) dispatchNotifications(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Notification listener started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Notification listener stopped - context canceled")
			return
		case <-w.stopChan:
			w.logger.Info("Notification listener stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Notification channel closed")
				return
			}

			if err := w.HandleNotification(delivery.Body); err != nil {
				w.logger.Warn("Dropping malformed notification",
					slog.String("body", string(delivery.Body)),
					slog.Any("error", err),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK notification", slog.Any("error", nackErr))
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK notification", slog.Any("error", ackErr))
			}
		}
	}
}
