package cart_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/durastep/pkg/cart"
	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/stores"
	"github.com/openfroyo/durastep/pkg/telemetry"
)

func newService(t *testing.T) (*cart.Service, *stores.MemoryStore) {
	t.Helper()
	store := stores.NewMemoryStore()
	svc := cart.NewService(store, engine.AggregateOptions{Auditor: store})
	return svc, store
}

func TestServiceSoapAndTowel(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	steps := []cart.LineItem{
		{ProductID: "soap", Name: "Soap", Quantity: 2},
		{ProductID: "towel", Name: "Towel", Quantity: 1},
		{ProductID: "soap", Name: "Soap", Quantity: 3},
	}
	for _, item := range steps {
		if _, err := svc.AddItem(ctx, "cart-1", item); err != nil {
			t.Fatalf("AddItem(%s) failed: %v", item.ProductID, err)
		}
	}

	got, err := svc.GetCart(ctx, "cart-1")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	want := []cart.LineItem{
		{ProductID: "soap", Name: "Soap", Quantity: 5},
		{ProductID: "towel", Name: "Towel", Quantity: 1},
	}
	if !reflect.DeepEqual(got.Items, want) {
		t.Errorf("expected %+v, got %+v", want, got.Items)
	}
}

func TestServiceReplayMatchesLiveState(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	svc := cart.NewService(store, engine.AggregateOptions{})

	var live cart.State
	for _, item := range []cart.LineItem{
		{ProductID: "b", Name: "B", Quantity: 1},
		{ProductID: "a", Name: "A", Quantity: 2},
		{ProductID: "b", Name: "B", Quantity: 4},
	} {
		var err error
		live, err = svc.AddItem(ctx, "c", item)
		if err != nil {
			t.Fatal(err)
		}
	}

	// A fresh service holds no replica and must rebuild from the log.
	fresh := cart.NewService(store, engine.AggregateOptions{})
	replayed, err := fresh.Replay(ctx, "c")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !reflect.DeepEqual(replayed, live) {
		t.Errorf("replayed state %+v differs from live state %+v", replayed, live)
	}

	events, err := store.LoadEvents(ctx, cart.AggregateType, "c", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, rec := range events {
		if rec.Seq != int64(i+1) {
			t.Errorf("event %d has seq %d", i, rec.Seq)
		}
		if rec.Type != cart.TypeItemAdded {
			t.Errorf("event %d has type %s", i, rec.Type)
		}
	}
}

func TestServiceRejectionWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	_, err := svc.AddItem(ctx, "c", cart.LineItem{ProductID: "p", Quantity: 0})
	if !errors.Is(err, cart.ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}

	events, err := store.LoadEvents(ctx, cart.AggregateType, "c", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}

	audit, err := store.ListAuditEntries(ctx, cart.AggregateType+".add-item", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(audit) != 1 || audit[0].Result != "rejected" {
		t.Errorf("expected one rejected audit entry, got %+v", audit)
	}
}

func TestServiceCheckedOutEventKeepsCartOpen(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()

	checkout, err := cart.MarshalEvent(cart.CheckedOut{})
	if err != nil {
		t.Fatal(err)
	}
	// Apply treats checked-out as a no-op, so the cart stays open.
	err = store.AppendEvents(ctx, []engine.EventRecord{{
		ID: "e1", AggregateType: cart.AggregateType, AggregateID: "c",
		Seq: 1, Type: cart.TypeCheckedOut, Payload: checkout, RecordedAt: time.Now(),
	}})
	if err != nil {
		t.Fatal(err)
	}

	svc := cart.NewService(store, engine.AggregateOptions{})
	state, err := svc.AddItem(ctx, "c", cart.LineItem{ProductID: "p", Name: "P", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem after no-op checked-out event failed: %v", err)
	}
	if len(state.Items) != 1 {
		t.Errorf("expected one item, got %+v", state.Items)
	}
}

func TestServiceGetUnknownCart(t *testing.T) {
	svc, _ := newService(t)

	got, err := svc.GetCart(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if got.CartID != "nobody" || len(got.Items) != 0 {
		t.Errorf("expected empty cart, got %+v", got)
	}
}

func TestServiceConcurrentAddsSameCart(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddItem(ctx, "c", cart.LineItem{ProductID: "p", Name: "P", Quantity: 1}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AddItem failed: %v", err)
	}

	got, err := svc.GetCart(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != n {
		t.Errorf("expected quantity %d, got %+v", n, got.Items)
	}

	events, _ := store.LoadEvents(ctx, cart.AggregateType, "c", 0)
	if len(events) != n {
		t.Errorf("expected %d events, got %d", n, len(events))
	}
}

func TestServiceRequiresCartID(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.AddItem(context.Background(), "", cart.LineItem{ProductID: "p", Quantity: 1})
	if !engine.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestServiceLogsCartID(t *testing.T) {
	var buf bytes.Buffer
	svc := cart.NewService(stores.NewMemoryStore(), engine.AggregateOptions{
		Logger: telemetry.NewWriterLogger(&buf, "info"),
	})

	if _, err := svc.AddItem(context.Background(), "cart-9", cart.LineItem{ProductID: "soap", Name: "Soap", Quantity: 2}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON log line: %v (%s)", err, buf.String())
	}
	if line["cart_id"] != "cart-9" || line["product_id"] != "soap" || line["component"] != "cart" {
		t.Errorf("unexpected log fields: %v", line)
	}
}
