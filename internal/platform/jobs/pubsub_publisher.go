package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/shelfsort/api/internal/services"
)

// PubSubResortPublisher publishes resort lifecycle events to a Pub/Sub
// topic. Downstream consumers (inventory dashboards, merchant webhooks)
// subscribe to the terminal-status stream.
type PubSubResortPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubResortPublisher constructs a Pub/Sub backed resort event
// publisher.
func NewPubSubResortPublisher(topic *pubsub.Topic) (*PubSubResortPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub resort publisher: topic is required")
	}
	return &PubSubResortPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type resortCompletedMessage struct {
	RunID        string    `json:"runId"`
	Shop         string    `json:"shop"`
	CollectionID string    `json:"collectionId"`
	Status       string    `json:"status"`
	SortKey      string    `json:"sortKey"`
	ProductCount int       `json:"productCount"`
	JobID        string    `json:"jobId,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// PublishResortCompleted enqueues a terminal-status event on the configured
// topic.
func (p *PubSubResortPublisher) PublishResortCompleted(ctx context.Context, event services.ResortCompletedEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub resort publisher: not initialised")
	}

	data, err := p.marshal(resortCompletedMessage{
		RunID:        event.RunID,
		Shop:         event.Shop,
		CollectionID: event.CollectionID,
		Status:       string(event.Status),
		SortKey:      string(event.SortKey),
		ProductCount: event.ProductCount,
		JobID:        event.JobID,
		OccurredAt:   event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal resort event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "runId", event.RunID)
	setAttr(attrs, "shop", event.Shop)
	setAttr(attrs, "collectionId", event.CollectionID)
	setAttr(attrs, "status", string(event.Status))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish resort event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
