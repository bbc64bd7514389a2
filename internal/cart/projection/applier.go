// Package projection maintains the denormalized cart read model by applying
// journal events in version order.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/domain"
	"github.com/tkarolak/cartledger/internal/cart/event"
	"github.com/tkarolak/cartledger/internal/cart/storage"
)

// Applier folds journal events into read-model rows.
//
// Apply is idempotent: an event at or below the stored row version is a
// no-op, so at-least-once delivery from the outbox is safe. An event more
// than one version ahead of the row is an ordering gap and fails so the
// outbox retries it after the missing event lands.
type Applier struct {
	readModel storage.ReadModelStore
	now       func() time.Time
}

// NewApplier builds an applier over the given read-model store.
func NewApplier(readModel storage.ReadModelStore) *Applier {
	return &Applier{
		readModel: readModel,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply advances the read-model row for the event's cart to the event's
// version. Stale events are skipped without error.
func (a *Applier) Apply(ctx context.Context, evt event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a == nil || a.readModel == nil {
		return fmt.Errorf("read model store is not configured")
	}

	record, err := a.readModel.Get(ctx, evt.CartID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load read model row %s: %w", evt.CartID, err)
		}
		if evt.Version != 1 {
			return fmt.Errorf("apply %s/%d: no read model row to advance", evt.CartID, evt.Version)
		}
		record = storage.CartRecord{}
	}

	if evt.Version <= record.Version {
		return nil
	}
	if evt.Version != record.Version+1 {
		return fmt.Errorf("apply %s/%d: read model row at version %d, gap detected", evt.CartID, evt.Version, record.Version)
	}

	state, err := stateFromRecord(record)
	if err != nil {
		return fmt.Errorf("reconstruct state for %s: %w", evt.CartID, err)
	}
	next, err := domain.Fold(state, evt)
	if err != nil {
		return fmt.Errorf("fold %s event %s/%d: %w", evt.Type, evt.CartID, evt.Version, err)
	}

	if err := a.readModel.Put(ctx, recordFromState(next, a.now())); err != nil {
		return fmt.Errorf("store read model row %s: %w", evt.CartID, err)
	}
	return nil
}

// stateFromRecord rebuilds aggregate state from a read-model row so the next
// event folds against exactly what the row already reflects.
func stateFromRecord(record storage.CartRecord) (domain.State, error) {
	if record.Version == 0 {
		return domain.State{}, nil
	}
	status := domain.Status(record.Status)
	if !status.IsValid() {
		return domain.State{}, fmt.Errorf("read model row holds unknown status %q", record.Status)
	}
	state := domain.State{
		CartID:       record.CartID,
		UserID:       record.UserID,
		Status:       status,
		Version:      record.Version,
		CreatedAt:    record.CreatedAt,
		LastActivity: record.LastActivity,
	}
	for _, item := range record.Items {
		state.Items = append(state.Items, domain.Item{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}
	return state, nil
}

// recordFromState denormalizes aggregate state into a read-model row.
func recordFromState(state domain.State, now time.Time) storage.CartRecord {
	record := storage.CartRecord{
		CartID:       state.CartID,
		UserID:       state.UserID,
		Status:       string(state.Status),
		TotalAmount:  state.TotalAmount(),
		ItemCount:    state.ItemCount(),
		Version:      state.Version,
		CreatedAt:    state.CreatedAt,
		LastActivity: state.LastActivity,
		UpdatedAt:    now,
	}
	for _, item := range state.Items {
		record.Items = append(record.Items, storage.CartItemRecord{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
			TotalPrice:  item.Total(),
		})
	}
	return record
}
