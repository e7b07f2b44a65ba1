package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes settlements to a topic keyed by reservation id, so all
// outcomes of one reservation land on the same partition in order.
type KafkaPublisher struct {
	topic string
	w     messageWriter
	log   *logrus.Logger
}

func NewKafka(brokers []string, topic string, log *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		topic: topic,
		log:   log,
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, s Settlement) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.ReservationID),
		Value: body,
		Time:  s.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("payment." + s.Outcome)},
			{Key: "order_code", Value: []byte(s.OrderCode)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: write %s: %w", p.topic, err)
	}
	if p.log != nil {
		p.log.WithFields(logrus.Fields{"topic": p.topic, "order_code": s.OrderCode, "outcome": s.Outcome}).Debug("settlement published")
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

type Sink interface {
	Publish(ctx context.Context, s Settlement) error
	Close() error
}

// Fanout publishes to every sink. One failing sink does not stop the others.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, s Settlement) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, sink := range f {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}
