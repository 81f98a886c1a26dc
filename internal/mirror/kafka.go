package mirror

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// kafkaWriter is the subset of *kafka.Writer the sink uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes frames to a Kafka topic keyed by block hash.
type KafkaSink struct {
	writer kafkaWriter
	topic  string
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer, topic: topic}
}

// Name implements Sink.
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, msg Message) error {
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
	}); err != nil {
		return fmt.Errorf("kafka write to %s: %w", s.topic, err)
	}
	return nil
}

// Close implements Sink.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
