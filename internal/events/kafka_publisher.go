package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes exported domain events to Kafka, one topic per event type.
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
}

// NewKafkaPublisher builds a publisher for the given brokers.
func NewKafkaPublisher(brokers []string, topicPrefix string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
		topicPrefix: topicPrefix,
	}, nil
}

// Topic returns the topic an event type is written to.
func (p *KafkaPublisher) Topic(eventType EventType) string {
	return p.topicPrefix + string(eventType)
}

// Publish writes a single event keyed by its aggregate so per-aggregate order holds.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType EventType, payload []byte, partitionKey string) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.Topic(eventType),
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
