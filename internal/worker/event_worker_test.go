package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/model"
)

type ackRecorder struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

type fakeNotifier struct {
	placed   []events.OrderPlaced
	payments []events.PaymentStatusChanged
	err      error
}

func (n *fakeNotifier) OrderPlaced(_ context.Context, evt events.OrderPlaced) error {
	if n.err != nil {
		return n.err
	}
	n.placed = append(n.placed, evt)
	return nil
}

func (n *fakeNotifier) PaymentStatusChanged(_ context.Context, evt events.PaymentStatusChanged) error {
	if n.err != nil {
		return n.err
	}
	n.payments = append(n.payments, evt)
	return nil
}

type fakeInvalidator struct{ ids []uuid.UUID }

func (f *fakeInvalidator) InvalidateProducts(_ context.Context, ids ...uuid.UUID) error {
	f.ids = append(f.ids, ids...)
	return nil
}

type harness struct {
	worker   *EventWorker
	notifier *fakeNotifier
	products *fakeInvalidator
	redis    *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{notifier: &fakeNotifier{}, products: &fakeInvalidator{}, redis: mr}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.worker = NewEventWorker(nil, cache.New(client, "test:"), h.notifier, h.products, log)
	return h
}

func delivery(t *testing.T, ack *ackRecorder, eventType string, payload any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Type: eventType, Body: body}
}

func orderPlacedEvent() events.OrderPlaced {
	productID := uuid.New()
	return events.OrderPlaced{
		EventID:       events.NewID(),
		OrderID:       uuid.New(),
		OrderNumber:   "ORD-ABCDEF1234",
		PaymentMethod: model.PaymentMethodCOD,
		Total:         decimal.RequireFromString("37.40"),
		Items:         []events.OrderPlacedItem{{ProductID: &productID, Title: "Widget", Quantity: 2}},
		PlacedAt:      time.Now(),
	}
}

func TestEventWorker_OrderPlaced(t *testing.T) {
	h := newHarness(t)
	evt := orderPlacedEvent()
	ack := &ackRecorder{}

	h.worker.processMessage(context.Background(), delivery(t, ack, events.TypeOrderPlaced, evt))

	assert.Equal(t, 1, ack.acked)
	require.Len(t, h.notifier.placed, 1)
	assert.Equal(t, "ORD-ABCDEF1234", h.notifier.placed[0].OrderNumber)
	assert.Equal(t, []uuid.UUID{*evt.Items[0].ProductID}, h.products.ids)
}

func TestEventWorker_DuplicateDeliveryIsSkipped(t *testing.T) {
	h := newHarness(t)
	evt := orderPlacedEvent()
	ack := &ackRecorder{}

	h.worker.processMessage(context.Background(), delivery(t, ack, events.TypeOrderPlaced, evt))
	h.worker.processMessage(context.Background(), delivery(t, ack, events.TypeOrderPlaced, evt))

	assert.Equal(t, 2, ack.acked)
	assert.Len(t, h.notifier.placed, 1)
}

func TestEventWorker_PaymentStatusChanged(t *testing.T) {
	h := newHarness(t)
	ack := &ackRecorder{}
	evt := events.PaymentStatusChanged{
		EventID: events.NewID(), OrderNumber: "ORD-ABCDEF1234",
		OldStatus: model.PaymentStatusUnpaid, NewStatus: model.PaymentStatusPaid,
	}

	h.worker.processMessage(context.Background(), delivery(t, ack, events.TypePaymentStatusChanged, evt))

	assert.Equal(t, 1, ack.acked)
	require.Len(t, h.notifier.payments, 1)
	assert.Equal(t, model.PaymentStatusPaid, h.notifier.payments[0].NewStatus)
}

func TestEventWorker_MalformedGoesToDLQ(t *testing.T) {
	h := newHarness(t)
	ack := &ackRecorder{}

	h.worker.processMessage(context.Background(), amqp.Delivery{
		Acknowledger: ack, Type: events.TypeOrderPlaced, Body: []byte("{not json"),
	})
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)

	h.worker.processMessage(context.Background(), delivery(t, ack, "order.unknown", map[string]string{"event_id": "x"}))
	assert.Equal(t, 2, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestEventWorker_FailureReleasesIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp down")
	evt := orderPlacedEvent()
	ack := &ackRecorder{}

	h.worker.processMessage(context.Background(), delivery(t, ack, events.TypeOrderPlaced, evt))
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
	assert.False(t, h.redis.Exists("test:event_processed:"+evt.EventID))

	h.notifier.err = nil
	h.worker.processMessage(context.Background(), delivery(t, ack, events.TypeOrderPlaced, evt))
	assert.Equal(t, 1, ack.acked)
	assert.Len(t, h.notifier.placed, 1)
}

func TestEventWorker_RedisOutageRequeues(t *testing.T) {
	h := newHarness(t)
	h.redis.Close()
	ack := &ackRecorder{}

	h.worker.processMessage(context.Background(), delivery(t, ack, events.TypeOrderPlaced, orderPlacedEvent()))
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
	assert.Empty(t, h.notifier.placed)
}
