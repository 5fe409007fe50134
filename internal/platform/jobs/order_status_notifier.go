package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/medimart/api/internal/services"
)

const orderStatusEventType = "order.status_changed"

// OrderStatusMessage is the JSON body published for each committed status change.
type OrderStatusMessage struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderCode      string    `json:"orderCode"`
	CustomerID     string    `json:"customerId"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	PaymentStatus  string    `json:"paymentStatus"`
	ActorID        string    `json:"actorId,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PubSubOrderStatusNotifier publishes order status changes to a Pub/Sub topic.
type PubSubOrderStatusNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderStatusNotifier = (*PubSubOrderStatusNotifier)(nil)

// NewPubSubOrderStatusNotifier constructs a notifier backed by topic.
func NewPubSubOrderStatusNotifier(topic *pubsub.Topic) (*PubSubOrderStatusNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub order status notifier: topic is required")
	}
	return &PubSubOrderStatusNotifier{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// NotifyOrderStatusChanged publishes event and waits for the server acknowledgement.
func (n *PubSubOrderStatusNotifier) NotifyOrderStatusChanged(ctx context.Context, event services.OrderStatusChangedEvent) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub order status notifier: not initialised")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return errors.New("pubsub order status notifier: order id is required")
	}

	data, err := n.marshal(OrderStatusMessage{
		Type:           orderStatusEventType,
		OrderID:        event.OrderID,
		OrderCode:      event.OrderCode,
		CustomerID:     event.CustomerID,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		PaymentStatus:  string(event.PaymentStatus),
		ActorID:        event.ActorID,
		Reason:         event.Reason,
		OccurredAt:     event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order status event: %w", err)
	}

	attrs := map[string]string{"type": orderStatusEventType}
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "customerId", event.CustomerID)
	setAttr(attrs, "status", string(event.CurrentStatus))

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order status event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
