package projection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/event"
	sqlitestore "github.com/tkarolak/cartledger/internal/cart/storage/sqlite"
)

func newTestApplier(t *testing.T) (*Applier, *sqlitestore.ReadModelStore) {
	t.Helper()
	store, err := sqlitestore.OpenProjections(filepath.Join(t.TempDir(), "projections_test.db"))
	if err != nil {
		t.Fatalf("open read model store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewApplier(store), store
}

func makeEvent(t *testing.T, cartID string, version uint64, eventType event.Type, payload any) event.Event {
	t.Helper()
	evt, err := event.New(cartID, version, eventType, payload, time.Now())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return evt
}

func cartHistory(t *testing.T) []event.Event {
	t.Helper()
	return []event.Event{
		makeEvent(t, "cart-1", 1, event.TypeCartCreated, event.CartCreatedPayload{UserID: "user-1"}),
		makeEvent(t, "cart-1", 2, event.TypeItemAdded, event.ItemAddedPayload{
			ProductID: "sku-1", ProductName: "Widget", Price: 9.99, Quantity: 2,
		}),
		makeEvent(t, "cart-1", 3, event.TypeItemAdded, event.ItemAddedPayload{
			ProductID: "sku-2", ProductName: "Gadget", Price: 5, Quantity: 1,
		}),
		makeEvent(t, "cart-1", 4, event.TypeItemRemoved, event.ItemRemovedPayload{
			ProductID: "sku-1", Quantity: 1,
		}),
		makeEvent(t, "cart-1", 5, event.TypeCartCheckedOut, event.CartCheckedOutPayload{TotalAmount: 14.99}),
	}
}

func TestApplyBuildsRowFromHistory(t *testing.T) {
	applier, store := newTestApplier(t)
	ctx := context.Background()

	for _, evt := range cartHistory(t) {
		if err := applier.Apply(ctx, evt); err != nil {
			t.Fatalf("apply %s/%d: %v", evt.Type, evt.Version, err)
		}
	}

	record, err := store.Get(ctx, "cart-1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if record.Status != "checked_out" || record.Version != 5 {
		t.Fatalf("record = %+v, want checked_out at version 5", record)
	}
	if len(record.Items) != 2 {
		t.Fatalf("items = %+v, want 2 lines", record.Items)
	}
	if record.Items[0].ProductID != "sku-1" || record.Items[0].Quantity != 1 {
		t.Fatalf("first line = %+v, want sku-1 quantity 1", record.Items[0])
	}
	if record.ItemCount != 2 {
		t.Fatalf("item count = %d, want 2", record.ItemCount)
	}
	want := 9.99 + 5
	if diff := record.TotalAmount - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("total = %v, want %v", record.TotalAmount, want)
	}
}

func TestApplySkipsStaleEvent(t *testing.T) {
	applier, store := newTestApplier(t)
	ctx := context.Background()

	history := cartHistory(t)
	for _, evt := range history[:2] {
		if err := applier.Apply(ctx, evt); err != nil {
			t.Fatalf("apply %s/%d: %v", evt.Type, evt.Version, err)
		}
	}

	// Redelivery of an already-applied event must not change the row.
	if err := applier.Apply(ctx, history[1]); err != nil {
		t.Fatalf("redeliver: %v", err)
	}

	record, err := store.Get(ctx, "cart-1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if record.Version != 2 {
		t.Fatalf("version = %d after redelivery, want 2", record.Version)
	}
	if record.Items[0].Quantity != 2 {
		t.Fatalf("quantity = %d after redelivery, want 2", record.Items[0].Quantity)
	}
}

func TestApplyFailsOnVersionGap(t *testing.T) {
	applier, _ := newTestApplier(t)
	ctx := context.Background()

	history := cartHistory(t)
	if err := applier.Apply(ctx, history[0]); err != nil {
		t.Fatalf("apply created: %v", err)
	}
	if err := applier.Apply(ctx, history[2]); err == nil {
		t.Fatal("expected gap error when skipping version 2")
	}
}

func TestApplyFailsWhenFirstEventMissing(t *testing.T) {
	applier, _ := newTestApplier(t)

	added := makeEvent(t, "cart-1", 2, event.TypeItemAdded, event.ItemAddedPayload{
		ProductID: "sku-1", ProductName: "Widget", Price: 1, Quantity: 1,
	})
	if err := applier.Apply(context.Background(), added); err == nil {
		t.Fatal("expected error applying version 2 with no row")
	}
}

func TestRebuildReplaysFullHistory(t *testing.T) {
	eventStore, err := sqlitestore.OpenEvents(filepath.Join(t.TempDir(), "events_test.db"))
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = eventStore.Close() })

	applier, readModel := newTestApplier(t)
	ctx := context.Background()

	history := cartHistory(t)
	if _, err := eventStore.Append(ctx, "cart-1", 0, history); err != nil {
		t.Fatalf("append history: %v", err)
	}

	rebuilder := NewRebuilder(eventStore, applier)
	rebuilt, err := rebuilder.RebuildAll(ctx)
	if err != nil {
		t.Fatalf("rebuild all: %v", err)
	}
	if rebuilt != 1 {
		t.Fatalf("rebuilt = %d, want 1", rebuilt)
	}

	record, err := readModel.Get(ctx, "cart-1")
	if err != nil {
		t.Fatalf("get rebuilt row: %v", err)
	}
	if record.Version != 5 || record.Status != "checked_out" {
		t.Fatalf("rebuilt record = %+v, want checked_out at version 5", record)
	}

	// Rebuilding again lands in the same place.
	if err := rebuilder.Rebuild(ctx, "cart-1"); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	again, err := readModel.Get(ctx, "cart-1")
	if err != nil {
		t.Fatalf("get row after second rebuild: %v", err)
	}
	if again.Version != record.Version || again.TotalAmount != record.TotalAmount {
		t.Fatalf("second rebuild diverged: %+v vs %+v", again, record)
	}
}

func TestRebuildSkipsCartWithoutEvents(t *testing.T) {
	eventStore, err := sqlitestore.OpenEvents(filepath.Join(t.TempDir(), "events_test.db"))
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = eventStore.Close() })

	applier, readModel := newTestApplier(t)
	rebuilder := NewRebuilder(eventStore, applier)

	if err := rebuilder.Rebuild(context.Background(), "missing"); err != nil {
		t.Fatalf("rebuild missing cart: %v", err)
	}
	if _, err := readModel.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected no row for cart without events")
	}
}
