package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// Publishes are synchronous within a request, so the writer flushes each
// message almost immediately instead of waiting out kafka-go's 1s default.
const (
	batchTimeout   = 5 * time.Millisecond
	publishTimeout = 2 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes ride lifecycle events and driver locations. Both
// are keyed by ride id so a ride's events stay on one partition.
type KafkaProducer struct {
	writer        messageWriter
	locationTopic string
	eventsTopic   string
	timeout       time.Duration
}

func NewKafkaProducer(brokers []string, locationTopic, eventsTopic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: batchTimeout,
	}
	return &KafkaProducer{writer: w, locationTopic: locationTopic, eventsTopic: eventsTopic, timeout: publishTimeout}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, ev models.LocationEvent) error {
	return k.publish(ctx, k.locationTopic, ev.RideID, ev)
}

func (k *KafkaProducer) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	return k.publish(ctx, k.eventsTopic, ev.RideID, ev)
}

func (k *KafkaProducer) publish(ctx context.Context, topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
