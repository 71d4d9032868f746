package webhook

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Mirror receives a copy of every payload handed to a tenant webhook.
type Mirror interface {
	Publish(ctx context.Context, key string, body []byte) error
	Close() error
}

// AmqpMirror publishes payloads to a topic exchange, routed by
// "<field>.<tenant id>".
type AmqpMirror struct {
	conn     *amqp091.Connection
	exchange string
}

// NewAmqpMirror dials the broker and declares a durable topic exchange.
func NewAmqpMirror(url, exchange string) (*AmqpMirror, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "amqp channel")
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	zap.L().Info("webhook: amqp mirror ready", zap.String("exchange", exchange))
	return &AmqpMirror{conn: conn, exchange: exchange}, nil
}

func (m *AmqpMirror) Publish(ctx context.Context, key string, body []byte) error {
	ch, err := m.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "amqp channel")
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx, m.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (m *AmqpMirror) Close() error {
	return m.conn.Close()
}
