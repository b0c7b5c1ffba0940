package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	OrderPlacedQueue   = "orders.placed"
	PaymentStatusQueue = "orders.payment_status"
	dlxExchange        = "orders.dlx"
	dlqQueueName       = "orders.dlq"
)

// SetupRabbitMQ declares the event queues and their shared dead-letter queue.
func SetupRabbitMQ(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	for _, q := range []string{OrderPlacedQueue, PaymentStatusQueue} {
		if err := ch.QueueBind(dlqQueueName, q, dlxExchange, false, nil); err != nil {
			return fmt.Errorf("bind DLQ for %s: %w", q, err)
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    dlxExchange,
			"x-dead-letter-routing-key": q,
		}); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	return nil
}

// AMQPPublisher publishes persistent JSON messages on the default exchange.
type AMQPPublisher struct {
	ch *amqp.Channel
}

func NewAMQPPublisher(ch *amqp.Channel) *AMQPPublisher {
	return &AMQPPublisher{ch: ch}
}

func (p *AMQPPublisher) PublishOrderPlaced(ctx context.Context, evt OrderPlaced) error {
	return p.publish(ctx, OrderPlacedQueue, TypeOrderPlaced, evt.EventID, evt)
}

func (p *AMQPPublisher) PublishPaymentStatusChanged(ctx context.Context, evt PaymentStatusChanged) error {
	return p.publish(ctx, PaymentStatusQueue, TypePaymentStatusChanged, evt.EventID, evt)
}

func (p *AMQPPublisher) publish(ctx context.Context, queue, eventType, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Type:         eventType,
		MessageId:    id,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
