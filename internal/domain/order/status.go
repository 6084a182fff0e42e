package order

import (
	"time"

	"github.com/xenking/marketplace/internal/domain/apperr"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusUpdated   Status = "UPDATED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

var transitions = map[Status]map[Status]bool{
	StatusCreated: {StatusUpdated: true, StatusCancelled: true, StatusCompleted: true},
	StatusUpdated: {StatusUpdated: true, StatusCancelled: true, StatusCompleted: true},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// Mutable reports whether items and amounts may still change.
func (s Status) Mutable() bool { return s == StatusCreated || s == StatusUpdated }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCancelled || s == StatusCompleted }

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func (o *Order) transition(to Status, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return apperr.Errorf(apperr.OrderNotMutable, "order in status %s cannot become %s", o.Status, to).
			WithDetail("status", string(o.Status))
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// ReplaceItems swaps the order lines and marks the order UPDATED.
func (o *Order) ReplaceItems(items []Item, at time.Time) error {
	if err := o.transition(StatusUpdated, at); err != nil {
		return err
	}
	o.Items = items
	return nil
}

// Cancel moves the order to CANCELLED.
func (o *Order) Cancel(at time.Time) error {
	return o.transition(StatusCancelled, at)
}

// Complete moves the order to COMPLETED.
func (o *Order) Complete(at time.Time) error {
	return o.transition(StatusCompleted, at)
}
