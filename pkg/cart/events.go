package cart

import (
	"encoding/json"
	"fmt"
)

// Event types as written to the log.
const (
	TypeItemAdded   = "item-added"
	TypeItemRemoved = "item-removed"
	TypeCheckedOut  = "checked-out"
)

// Event is a cart event. The set of variants is closed: only types in this
// package implement it.
type Event interface {
	EventType() string
	applyTo(state State, r reducer) State
}

// ItemAdded records a line item added to the cart.
type ItemAdded struct {
	Item LineItem `json:"item"`
}

// ItemRemoved records a line item removed from the cart.
type ItemRemoved struct {
	Item LineItem `json:"item"`
}

// CheckedOut records the cart being checked out.
type CheckedOut struct{}

func (ItemAdded) EventType() string   { return TypeItemAdded }
func (ItemRemoved) EventType() string { return TypeItemRemoved }
func (CheckedOut) EventType() string  { return TypeCheckedOut }

func (e ItemAdded) applyTo(s State, r reducer) State   { return r.itemAdded(s, e) }
func (e ItemRemoved) applyTo(s State, r reducer) State { return r.itemRemoved(s, e) }
func (e CheckedOut) applyTo(s State, r reducer) State  { return r.checkedOut(s, e) }

type envelope struct {
	Type string    `json:"type"`
	Item *LineItem `json:"item,omitempty"`
}

// MarshalEvent encodes an event as {"type": ..., "item": ...}.
func MarshalEvent(event Event) ([]byte, error) {
	env := envelope{Type: event.EventType()}
	switch e := event.(type) {
	case ItemAdded:
		env.Item = &e.Item
	case ItemRemoved:
		env.Item = &e.Item
	case CheckedOut:
	default:
		return nil, fmt.Errorf("unknown cart event %T", event)
	}
	return json.Marshal(env)
}

// UnmarshalEvent decodes an event written by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode cart event: %w", err)
	}
	switch env.Type {
	case TypeItemAdded, TypeItemRemoved:
		if env.Item == nil {
			return nil, fmt.Errorf("cart event %s has no item", env.Type)
		}
		if env.Type == TypeItemAdded {
			return ItemAdded{Item: *env.Item}, nil
		}
		return ItemRemoved{Item: *env.Item}, nil
	case TypeCheckedOut:
		return CheckedOut{}, nil
	default:
		return nil, fmt.Errorf("unknown cart event type: %q", env.Type)
	}
}
