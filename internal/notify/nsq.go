package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/example/ride-tracking/internal/models"
)

// NSQSink publishes events to an nsqd topic.
type NSQSink struct {
	producer *nsq.Producer
	topic    string
}

func NewNSQSink(address, topic string) (*NSQSink, error) {
	producer, err := nsq.NewProducer(address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to ping NSQ daemon: %w", err)
	}
	return &NSQSink{producer: producer, topic: topic}, nil
}

func (n *NSQSink) Notify(_ context.Context, e models.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.producer.Publish(n.topic, b); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (n *NSQSink) Stop() { n.producer.Stop() }
