package worker

import (
	"context"
	"log/slog"

	"github.com/flicky/storefront/internal/events"
)

// LogNotifier writes customer notifications to the log instead of mailing
// them.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) OrderPlaced(_ context.Context, evt events.OrderPlaced) error {
	n.log.Info("order confirmation sent",
		"order_number", evt.OrderNumber,
		"payment_method", evt.PaymentMethod,
		"total", evt.Total.StringFixed(2),
		"items", len(evt.Items))
	return nil
}

func (n *LogNotifier) PaymentStatusChanged(_ context.Context, evt events.PaymentStatusChanged) error {
	n.log.Info("payment status notice sent",
		"order_number", evt.OrderNumber,
		"old_status", evt.OldStatus,
		"new_status", evt.NewStatus)
	return nil
}
