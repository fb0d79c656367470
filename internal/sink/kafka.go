package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/i474232898/weather-fusion/internal/weather"
)

// KafkaPublisher streams every fused result to a Kafka topic, keyed by
// location so per-location ordering is preserved across partitions.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

// NewKafkaPublisher creates a producer for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

// Publish serializes one fused result and writes it to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, data weather.WeatherData) error {
	msg, err := serializeResult(data)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// serializeResult marshals a fused result into a Kafka message.
func serializeResult(data weather.WeatherData) (kafkago.Message, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize fused result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(data.Location.Key()),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "location", Value: []byte(data.Location.Name)},
			{Key: "fetched_at", Value: []byte(data.FetchedAt.Format(time.RFC3339))},
		},
	}, nil
}
