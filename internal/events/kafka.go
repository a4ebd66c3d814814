package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultInterimTopic = "transcripts.interim"
	defaultFinalTopic   = "transcripts.final"
	defaultControlTopic = "transcripts.control"
)

// KafkaConfig holds Kafka sink configuration.
type KafkaConfig struct {
	// Brokers is the bootstrap broker list. Must be non-empty.
	Brokers []string

	// InterimTopic receives InterimUpdate events.
	// Default: "transcripts.interim".
	InterimTopic string

	// FinalTopic receives FinalUpdate events. Default: "transcripts.final".
	FinalTopic string

	// ControlTopic receives SessionError and SessionMetrics events.
	// Default: "transcripts.control".
	ControlTopic string
}

// Compile-time assertion that KafkaSink implements Sink.
var _ Sink = (*KafkaSink)(nil)

// KafkaSink publishes session events to Kafka, keyed by session ID so all
// events of one session land on the same partition in order.
type KafkaSink struct {
	interim *kafka.Writer
	final   *kafka.Writer
	control *kafka.Writer
}

// NewKafkaSink creates a KafkaSink from cfg. Topics left empty get defaults.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: kafka brokers must not be empty")
	}
	if cfg.InterimTopic == "" {
		cfg.InterimTopic = defaultInterimTopic
	}
	if cfg.FinalTopic == "" {
		cfg.FinalTopic = defaultFinalTopic
	}
	if cfg.ControlTopic == "" {
		cfg.ControlTopic = defaultControlTopic
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	return &KafkaSink{
		interim: newWriter(cfg.InterimTopic),
		final:   newWriter(cfg.FinalTopic),
		control: newWriter(cfg.ControlTopic),
	}, nil
}

// PublishInterim implements Sink.
func (s *KafkaSink) PublishInterim(ctx context.Context, e InterimUpdate) error {
	return publish(ctx, s.interim, e.SessionID, "interim_update", e)
}

// PublishFinal implements Sink.
func (s *KafkaSink) PublishFinal(ctx context.Context, e FinalUpdate) error {
	return publish(ctx, s.final, e.SessionID, "final_update", e)
}

// PublishError implements Sink.
func (s *KafkaSink) PublishError(ctx context.Context, e SessionError) error {
	return publish(ctx, s.control, e.SessionID, "session_error", e)
}

// PublishMetrics implements Sink.
func (s *KafkaSink) PublishMetrics(ctx context.Context, e SessionMetrics) error {
	return publish(ctx, s.control, e.SessionID, "session_metrics", e)
}

// Close closes all writers, joining any errors.
func (s *KafkaSink) Close() error {
	return errors.Join(s.interim.Close(), s.final.Close(), s.control.Close())
}

func publish(ctx context.Context, w *kafka.Writer, key, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write %s to %s: %w", eventType, w.Topic, err)
	}
	return nil
}
