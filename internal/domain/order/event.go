package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated   EventType = "order.created"
	EventUpdated   EventType = "order.updated"
	EventCancelled EventType = "order.cancelled"
	EventCompleted EventType = "order.completed"
)

// Event is emitted after an order transaction commits.
type Event struct {
	Type       EventType
	Order      Order
	OccurredAt time.Time
}

// Publisher delivers lifecycle events. Delivery is best effort: a failed
// publish never undoes the committed order change.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
