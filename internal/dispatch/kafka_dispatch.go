package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/clean-matching/internal/models"
)

// MessageWriter is the kafka.Writer method the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher hands notifications to the consumer through a topic keyed
// by user id, so one user's notifications stay ordered.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaWriter flushes after a few milliseconds. Writes are synchronous,
// so the default one-second batch timeout would stall every caller.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 5 * time.Millisecond,
	}
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (*KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) Send(ctx context.Context, n models.Notification) error {
	return k.SendBatch(ctx, []models.Notification{n})
}

// SendBatch writes every notification in one WriteMessages call.
func (k *KafkaPublisher) SendBatch(ctx context.Context, ns []models.Notification) error {
	msgs := make([]kafka.Message, 0, len(ns))
	for _, n := range ns {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(n.UserID), Value: b})
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, msgs...)
}
