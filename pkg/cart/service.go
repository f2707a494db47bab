package cart

import (
	"context"

	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/telemetry"
)

// Service handles cart commands. Commands for one cart are serialized;
// different carts proceed in parallel.
type Service struct {
	aggregate *engine.EventSourced[State, Event]
	logger    *telemetry.Logger
}

// NewService creates a cart service over log.
func NewService(log engine.EventLog, opts engine.AggregateOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Service{
		aggregate: engine.NewEventSourced[State, Event](Model{}, log, opts),
		logger:    logger.NewComponentLogger("cart"),
	}
}

// AddItem adds item to the cart and returns the updated cart.
func (s *Service) AddItem(ctx context.Context, cartID string, item LineItem) (State, error) {
	if cartID == "" {
		return State{}, engine.NewValidationError("cart id is required")
	}
	state, err := s.aggregate.Handle(ctx, cartID, "add-item", func(current State) ([]Event, error) {
		event, err := AddItem(current, item)
		if err != nil {
			return nil, err
		}
		return []Event{event}, nil
	})
	if err != nil {
		return State{}, err
	}

	s.logger.WithCartID(cartID).
		WithField("product_id", item.ProductID).
		Infof("added %d x %s", item.Quantity, item.ProductID)
	return GetCart(state), nil
}

// GetCart returns the current cart. A cart with no events is empty.
func (s *Service) GetCart(ctx context.Context, cartID string) (State, error) {
	state, err := s.aggregate.Get(ctx, cartID)
	if err != nil {
		return State{}, err
	}
	return GetCart(state), nil
}

// Replay rebuilds the cart from its full event log.
func (s *Service) Replay(ctx context.Context, cartID string) (State, error) {
	state, err := s.aggregate.Replay(ctx, cartID)
	if err != nil {
		return State{}, err
	}
	return GetCart(state), nil
}
