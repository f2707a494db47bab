package cart_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/durastep/pkg/cart"
	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/stores"
)

func ExampleService_AddItem() {
	ctx := context.Background()
	svc := cart.NewService(stores.NewMemoryStore(), engine.AggregateOptions{})

	_, _ = svc.AddItem(ctx, "cart-1", cart.LineItem{ProductID: "towel", Name: "Towel", Quantity: 1})
	_, _ = svc.AddItem(ctx, "cart-1", cart.LineItem{ProductID: "soap", Name: "Soap", Quantity: 2})
	state, _ := svc.AddItem(ctx, "cart-1", cart.LineItem{ProductID: "soap", Name: "Soap", Quantity: 3})

	for _, item := range state.Items {
		fmt.Println(item.ProductID, item.Quantity)
	}
	// Output:
	// soap 5
	// towel 1
}
