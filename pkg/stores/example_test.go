package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_AppendEvents shows how a duplicate sequence number is
// rejected as a conflict.
func ExampleSQLiteStore_AppendEvents() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.KindSQLite, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	rec := engine.EventRecord{
		ID:            "evt-1",
		AggregateType: "cart",
		AggregateID:   "cart-1",
		Seq:           1,
		Type:          "item-added",
		Payload:       []byte(`{"type":"item-added"}`),
		RecordedAt:    time.Now(),
	}
	fmt.Println(store.AppendEvents(ctx, []engine.EventRecord{rec}) == nil)

	rec.ID = "evt-2"
	err = store.AppendEvents(ctx, []engine.EventRecord{rec})
	fmt.Println(engine.IsConflict(err))
	// Output:
	// true
	// true
}
