// Package notify publishes terminal payment outcomes to RabbitMQ and/or Kafka so other
// services (front desk, mailers) can react without polling the booking API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Settlement is the message body, one per finished payment attempt.
type Settlement struct {
	SessionID     string          `json:"session_id"`
	ReservationID string          `json:"reservation_id"`
	OrderCode     string          `json:"order_code"`
	Outcome       string          `json:"outcome"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Error         string          `json:"error,omitempty"`
	At            time.Time       `json:"at"`
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	queue string
	log   *logrus.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
}

// Dial connects and declares the durable queue.
func Dial(url, queue string, log *logrus.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel: %w", err)
	}
	p, err := newPublisher(ch, queue, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, queue string, log *logrus.Logger) (*Publisher, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: declare %s: %w", queue, err)
	}
	return &Publisher{queue: queue, log: log, ch: ch}, nil
}

// Publish sends one persistent JSON message to the queue.
func (p *Publisher) Publish(ctx context.Context, s Settlement) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    s.OrderCode + ":" + s.Outcome,
		Timestamp:    s.At.UTC(),
		Type:         "payment." + s.Outcome,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	if p.log != nil {
		p.log.WithFields(logrus.Fields{"queue": p.queue, "order_code": s.OrderCode, "outcome": s.Outcome}).Debug("settlement published")
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
