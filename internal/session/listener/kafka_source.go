package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"avanza/internal/platform/kafka/consumer"
)

// KafkaSource bridges Kafka row-change topics onto the in-process bus.
// Topic names follow "<kind>s.changed"; message values are ChangeEvent JSON.
type KafkaSource struct {
	bus *MemoryBus
}

// NewKafkaSource constructs a source fed by a Kafka consumer. Register it as
// the consumer's handler and subscribe through the Source interface.
func NewKafkaSource() *KafkaSource {
	return &KafkaSource{bus: NewMemoryBus()}
}

// Subscribe implements Source.
func (s *KafkaSource) Subscribe(kind, key string, fn func(ChangeEvent)) (Subscription, error) {
	return s.bus.Subscribe(kind, key, fn)
}

// Handle implements consumer.Handler. Malformed messages are logged by the
// consumer and committed anyway; redelivering them cannot help.
func (s *KafkaSource) Handle(_ context.Context, msg *consumer.Message) error {
	var event ChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil
	}
	if event.Kind == "" {
		event.Kind = kindFromTopic(msg.Topic)
	}
	if event.Key == "" {
		event.Key = string(msg.Key)
	}
	if event.Kind == "" || event.Key == "" {
		return nil
	}
	s.bus.Publish(event)
	return nil
}

func kindFromTopic(topic string) string {
	name, _, ok := strings.Cut(topic, ".")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(name, "s")
}

var _ consumer.Handler = (*KafkaSource)(nil)

// Topics returns the change topics for the given kinds.
func Topics(kinds ...string) []string {
	topics := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		topics = append(topics, fmt.Sprintf("%ss.changed", kind))
	}
	return topics
}
