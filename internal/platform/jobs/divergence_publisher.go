package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/Arpitray/commerce/internal/services"
)

// DivergenceMessage is the JSON payload published for a cart mutation that never reached the
// remote store.
type DivergenceMessage struct {
	EventID    string    `json:"eventId"`
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	Operation  string    `json:"operation"`
	ProductID  string    `json:"productId,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PubSubDivergencePublisher publishes cart divergence events to a Pub/Sub topic.
type PubSubDivergencePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.DivergenceReporter = (*PubSubDivergencePublisher)(nil)

// NewPubSubDivergencePublisher constructs a Pub/Sub backed divergence reporter.
func NewPubSubDivergencePublisher(topic *pubsub.Topic) (*PubSubDivergencePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub divergence publisher: topic is required")
	}
	return &PubSubDivergencePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// ReportDivergence implements services.DivergenceReporter and blocks until the broker acknowledges
// the message.
func (p *PubSubDivergencePublisher) ReportDivergence(ctx context.Context, event services.CartDivergence) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub divergence publisher: not initialised")
	}

	data, err := p.marshal(DivergenceMessage{
		EventID:    event.ID,
		SessionID:  event.SessionID,
		UserID:     event.UserID,
		Operation:  string(event.Operation),
		ProductID:  event.ProductID.String(),
		Quantity:   event.Quantity,
		Reason:     event.Reason,
		OccurredAt: event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal divergence event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "operation", string(event.Operation))
	setAttr(attrs, "productId", event.ProductID.String())

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		// Events for one user stay ordered when the topic enables message ordering.
		OrderingKey: orderingKey(p.topic, event.UserID),
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish divergence event: %w", err)
	}
	return nil
}

func orderingKey(topic *pubsub.Topic, userID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(userID)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
