package kafka

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/broker/messages"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// EventPublisher emits sync notifications. Messages are keyed by track so a
// consumer sees one track's events in order.
type EventPublisher struct {
	p              publisher
	ordersTopic    string
	completedTopic string
}

func NewEventPublisher(p publisher, ordersTopic, completedTopic string) *EventPublisher {
	return &EventPublisher{p: p, ordersTopic: ordersTopic, completedTopic: completedTopic}
}

func (e *EventPublisher) OrdersSynced(ctx context.Context, m messages.OrdersSynced) error {
	return e.publish(ctx, e.ordersTopic, m.Track, m)
}

func (e *EventPublisher) TrackCompleted(ctx context.Context, m messages.TrackCompleted) error {
	return e.publish(ctx, e.completedTopic, m.Track, m)
}

func (e *EventPublisher) publish(ctx context.Context, topic, key string, v any) error {
	if topic == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return e.p.Publish(ctx, topic, []byte(key), b)
}
