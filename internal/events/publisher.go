// Package events mirrors the realtime traffic onto an AMQP topic exchange so
// out-of-process consumers (notification workers, audit pipelines) can follow
// along. The websocket path never depends on it: publishing is fire-and-forget
// and a disabled publisher is a no-op.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/kestrelchat/kestrel/lib/logger/sl"
)

type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewPublisher dials the broker and declares the topic exchange. An empty URL
// returns a disabled publisher, so callers need no conditionals.
func NewPublisher(url, exchange string, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if url == "" {
		return nil, nil
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		exchange: exchange,
		log:      log,
	}, nil
}

// Publish emits one JSON payload under the given routing key. Safe on a nil
// receiver. Failures are logged, never propagated to the realtime path.
func (p *Publisher) Publish(ctx context.Context, key string, payload any) {
	if p == nil {
		return
	}

	ch, err := p.conn.Channel()
	if err != nil {
		p.log.Warn("events channel open failed", sl.Err(err))
		return
	}
	defer ch.Close()

	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("events payload marshal failed", slog.String("key", key), sl.Err(err))
		return
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		p.log.Warn("events publish failed", slog.String("key", key), sl.Err(err))
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.conn.Close()
}
