package cart

import "fmt"

// Model binds the cart to the event-sourced runtime.
type Model struct{}

func (Model) AggregateType() string                { return AggregateType }
func (Model) EmptyState(id string) State           { return EmptyState(id) }
func (Model) Apply(state State, event Event) State { return Apply(state, event) }
func (Model) EventType(event Event) string         { return event.EventType() }

func (Model) EncodeEvent(event Event) ([]byte, error) {
	return MarshalEvent(event)
}

func (Model) DecodeEvent(eventType string, payload []byte) (Event, error) {
	event, err := UnmarshalEvent(payload)
	if err != nil {
		return nil, err
	}
	if event.EventType() != eventType {
		return nil, fmt.Errorf("cart event type mismatch: record says %q, payload says %q", eventType, event.EventType())
	}
	return event, nil
}
