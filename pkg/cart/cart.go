// Package cart implements the shopping cart aggregate. Cart state is never
// stored; it is the fold of the cart's events through Apply.
package cart

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/durastep/pkg/engine"
)

// AggregateType names the cart event log.
const AggregateType = "shopping-cart"

var (
	// ErrAlreadyCheckedOut rejects mutations of a checked-out cart.
	ErrAlreadyCheckedOut = engine.NewConflictError("Shopping cart has already been checked-out", nil).WithReason("ALREADY_CHECKED_OUT")

	// ErrInvalidItem rejects a line item with no product or a non-positive quantity.
	ErrInvalidItem = engine.NewValidationError("invalid line item").WithReason("INVALID_ITEM")
)

// LineItem is one product in a cart.
type LineItem struct {
	ProductID string `json:"productId" validate:"required"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// State is a cart as seen after applying all of its events. Items are
// sorted by ProductID and hold at most one entry per product.
type State struct {
	CartID     string     `json:"cartId"`
	Items      []LineItem `json:"items"`
	CheckedOut bool       `json:"checkedOut"`
}

// FindItem returns the line item for productID.
func (s State) FindItem(productID string) (LineItem, bool) {
	for _, item := range s.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return LineItem{}, false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateItem checks a line item before it is turned into an event.
func ValidateItem(item LineItem) error {
	if err := validate.Struct(item); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
		return ErrInvalidItem.Clone().
			WithMessage("Invalid line item: " + strings.Join(fields, ", ")).
			WithResource(item.ProductID)
	}
	return nil
}

// EmptyState is the cart before any event.
func EmptyState(cartID string) State {
	return State{CartID: cartID, Items: []LineItem{}}
}

// AddItem decides the events for adding item to a cart. It never changes
// state; the caller applies the returned event.
func AddItem(state State, item LineItem) (Event, error) {
	if state.CheckedOut {
		return nil, ErrAlreadyCheckedOut.Clone().WithResource(state.CartID).WithOperation("add-item")
	}
	if err := ValidateItem(item); err != nil {
		return nil, err
	}
	return ItemAdded{Item: item}, nil
}

// Apply folds one event into the state. It is pure.
func Apply(state State, event Event) State {
	return event.applyTo(state, reducer{})
}

// GetCart is the read projection of a cart.
func GetCart(state State) State {
	out := state
	out.Items = append([]LineItem{}, state.Items...)
	return out
}

// reducer holds one case per event variant. Adding a variant to Event
// requires a method here, so a missing case fails to compile.
type reducer struct{}

func (reducer) itemAdded(state State, e ItemAdded) State {
	merged := e.Item
	if existing, ok := state.FindItem(e.Item.ProductID); ok {
		merged = existing
		merged.Quantity = existing.Quantity + e.Item.Quantity
	}

	items := make([]LineItem, 0, len(state.Items)+1)
	for _, item := range state.Items {
		if item.ProductID != merged.ProductID {
			items = append(items, item)
		}
	}
	items = append(items, merged)
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID < items[j].ProductID
	})

	return State{CartID: state.CartID, Items: items, CheckedOut: state.CheckedOut}
}

// ItemRemoved and CheckedOut do not change state yet; no command emits them.
func (reducer) itemRemoved(state State, _ ItemRemoved) State {
	return state
}

func (reducer) checkedOut(state State, _ CheckedOut) State {
	return state
}
