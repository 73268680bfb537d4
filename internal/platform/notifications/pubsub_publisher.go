// Package notifications publishes customer-facing notification jobs to Pub/Sub
// for the email worker to deliver.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/voltlane/api/internal/services"
)

// PubSubStatusPublisher publishes order status notifications to a Pub/Sub topic.
type PubSubStatusPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubStatusPublisher constructs a Pub/Sub backed status notification publisher.
func NewPubSubStatusPublisher(topic *pubsub.Topic) (*PubSubStatusPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub status publisher: topic is required")
	}
	return &PubSubStatusPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishStatusNotification enqueues a status notification message on the configured topic.
func (p *PubSubStatusPublisher) PublishStatusNotification(ctx context.Context, message services.StatusNotification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub status publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal status notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "status", message.Status)
	setAttr(attrs, "recipient", message.Recipient)
	setAttr(attrs, "trackingNumber", message.TrackingNumber)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish status notification: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
