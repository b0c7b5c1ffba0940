package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/metrics"
)

const idempotencyTTL = 24 * time.Hour

var errUnknownEvent = errors.New("unknown event type")

// Notifier tells customers about their orders.
type Notifier interface {
	OrderPlaced(ctx context.Context, evt events.OrderPlaced) error
	PaymentStatusChanged(ctx context.Context, evt events.PaymentStatusChanged) error
}

// ProductInvalidator drops cached catalog entries.
type ProductInvalidator interface {
	InvalidateProducts(ctx context.Context, ids ...uuid.UUID) error
}

// EventWorker consumes the order event queues. Each event is handled at most
// once per event id; messages that cannot be decoded or handled are
// dead-lettered.
type EventWorker struct {
	channel  *amqp.Channel
	cache    *cache.Cache
	notifier Notifier
	products ProductInvalidator
	log      *slog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewEventWorker(
	ch *amqp.Channel,
	c *cache.Cache,
	notifier Notifier,
	products ProductInvalidator,
	log *slog.Logger,
) *EventWorker {
	return &EventWorker{
		channel:  ch,
		cache:    c,
		notifier: notifier,
		products: products,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (w *EventWorker) Start(ctx context.Context) error {
	for _, queue := range []string{events.OrderPlacedQueue, events.PaymentStatusQueue} {
		msgs, err := w.channel.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("start consuming %s: %w", queue, err)
		}
		w.wg.Add(1)
		go w.consume(ctx, msgs)
	}
	w.log.Info("event worker started")
	return nil
}

func (w *EventWorker) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer w.wg.Done()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			w.processMessage(ctx, msg)
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends consumption and waits for in-flight messages.
func (w *EventWorker) Stop() {
	close(w.done)
	w.wg.Wait()
}

type envelope struct {
	EventID string `json:"event_id"`
}

func (w *EventWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	var env envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil || env.EventID == "" {
		w.log.Error("malformed event message", "type", msg.Type, "message_id", msg.MessageId, "error", err)
		metrics.EventConsumed(msg.Type, false)
		_ = msg.Nack(false, false)
		return
	}

	log := w.log.With("event_id", env.EventID, "type", msg.Type)

	idempotencyKey := "event_processed:" + env.EventID
	claimed, err := w.cache.SetNX(ctx, idempotencyKey, idempotencyTTL)
	if err != nil {
		log.Error("claim idempotency key", "error", err)
		_ = msg.Nack(false, true)
		return
	}
	if !claimed {
		log.Info("event already processed, skipping")
		_ = msg.Ack(false)
		return
	}

	if err := w.handle(ctx, msg.Type, msg.Body); err != nil {
		log.Error("handle event failed", "error", err)
		metrics.EventConsumed(msg.Type, false)
		if err := w.cache.Delete(ctx, idempotencyKey); err != nil {
			log.Warn("release idempotency key", "error", err)
		}
		_ = msg.Nack(false, false)
		return
	}

	metrics.EventConsumed(msg.Type, true)
	_ = msg.Ack(false)
	log.Info("event processed")
}

func (w *EventWorker) handle(ctx context.Context, eventType string, body []byte) error {
	switch eventType {
	case events.TypeOrderPlaced:
		var evt events.OrderPlaced
		if err := json.Unmarshal(body, &evt); err != nil {
			return fmt.Errorf("decode order placed: %w", err)
		}
		return w.orderPlaced(ctx, evt)
	case events.TypePaymentStatusChanged:
		var evt events.PaymentStatusChanged
		if err := json.Unmarshal(body, &evt); err != nil {
			return fmt.Errorf("decode payment status: %w", err)
		}
		return w.notifier.PaymentStatusChanged(ctx, evt)
	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, eventType)
	}
}

func (w *EventWorker) orderPlaced(ctx context.Context, evt events.OrderPlaced) error {
	ids := make([]uuid.UUID, 0, len(evt.Items))
	for _, it := range evt.Items {
		if it.ProductID != nil {
			ids = append(ids, *it.ProductID)
		}
	}
	if err := w.products.InvalidateProducts(ctx, ids...); err != nil {
		w.log.Warn("invalidate product cache", "order_number", evt.OrderNumber, "error", err)
	}
	return w.notifier.OrderPlaced(ctx, evt)
}
