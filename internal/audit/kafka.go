package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit records to a Kafka topic so downstream
// consumers (dashboards, long-term archival) can follow incident history.
// The incident ID is the message key, which keeps per-incident ordering
// within a partition.
type KafkaSink struct {
	writer *kafkago.Writer
}

// NewKafkaSink creates a producer for the audit topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Append(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize audit record: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(rec.IncidentID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
			{Key: "timestamp", Value: []byte(rec.Timestamp.Format(time.RFC3339))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
