package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/result"
)

// TopicResults receives one message per terminal task result.
const TopicResults = "agent.results"

// ResultSink streams terminal results to Kafka, keyed by task id.
type ResultSink struct {
	producer Producer
	topic    string
}

var _ result.Sink = (*ResultSink)(nil)

// NewResultSink publishes to topic, or TopicResults when topic is empty.
func NewResultSink(producer Producer, topic string) *ResultSink {
	if topic == "" {
		topic = TopicResults
	}
	return &ResultSink{producer: producer, topic: topic}
}

func (s *ResultSink) Name() string { return "kafka" }

func (s *ResultSink) Record(ctx context.Context, res *domain.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", res.ID, err)
	}
	return s.producer.Publish(ctx, s.topic, res.ID, data)
}
