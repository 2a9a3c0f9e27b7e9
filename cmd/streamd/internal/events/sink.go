package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bblair31/marketViz-backend/pkg/models"
)

// Sink receives triggered-alert events for the dashboard's offline
// notification pipeline.
type Sink interface {
	Publish(ctx context.Context, ev models.AlertEvent) error
	Close() error
}

// NopSink drops events; used when no broker is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, models.AlertEvent) error { return nil }
func (NopSink) Close() error                                     { return nil }

// Compile-time checks
var (
	_ Sink = NopSink{}
	_ Sink = (*KafkaSink)(nil)
)

// KafkaSink produces one message per triggered alert, keyed by user id so a
// user's notifications stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, ev models.AlertEvent) error {
	// UserID is not part of the client payload, so it is restored here for
	// the notification consumers.
	payload, err := json.Marshal(struct {
		UserID string `json:"userId"`
		models.AlertEvent
	}{ev.UserID, ev})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
