package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/aluiziolira/go-scrape-cars/models"
)

// messageWriter abstracts kafka.Writer for tests.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes deals keyed by listing URL.
type Kafka struct {
	writer messageWriter
}

// NewKafka writes to topic on the given brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (k *Kafka) Notify(ctx context.Context, l *models.Listing) error {
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal deal: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(l.URL), Value: b}); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
