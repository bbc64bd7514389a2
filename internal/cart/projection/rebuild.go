package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/domain"
	"github.com/tkarolak/cartledger/internal/cart/event"
)

// EventSource is the slice of the journal that rebuilds need.
type EventSource interface {
	LoadEvents(ctx context.Context, cartID string) ([]event.Event, error)
	ListCartIDs(ctx context.Context) ([]string, error)
}

// Rebuilder reconstructs read-model rows by replaying full cart histories.
// It repairs rows that drifted or dead-lettered out of the outbox.
type Rebuilder struct {
	events    EventSource
	applier   *Applier
	rebuildAt func() time.Time
}

// NewRebuilder builds a rebuilder that replays from events into the
// applier's read model.
func NewRebuilder(events EventSource, applier *Applier) *Rebuilder {
	return &Rebuilder{
		events:    events,
		applier:   applier,
		rebuildAt: func() time.Time { return time.Now().UTC() },
	}
}

// Rebuild replays one cart's full history and overwrites its read-model row.
// Carts without events are left untouched.
func (r *Rebuilder) Rebuild(ctx context.Context, cartID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.events == nil || r.applier == nil || r.applier.readModel == nil {
		return fmt.Errorf("rebuilder is not configured")
	}

	events, err := r.events.LoadEvents(ctx, cartID)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", cartID, err)
	}
	if len(events) == 0 {
		return nil
	}

	state, err := domain.Replay(events)
	if err != nil {
		return fmt.Errorf("replay history for %s: %w", cartID, err)
	}
	if err := r.applier.readModel.Put(ctx, recordFromState(state, r.rebuildAt())); err != nil {
		return fmt.Errorf("store rebuilt row %s: %w", cartID, err)
	}
	return nil
}

// RebuildAll replays every cart in the journal and returns how many rows
// were rebuilt.
func (r *Rebuilder) RebuildAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if r == nil || r.events == nil {
		return 0, fmt.Errorf("rebuilder is not configured")
	}

	cartIDs, err := r.events.ListCartIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list carts for rebuild: %w", err)
	}
	rebuilt := 0
	for _, cartID := range cartIDs {
		if err := r.Rebuild(ctx, cartID); err != nil {
			return rebuilt, err
		}
		rebuilt++
	}
	return rebuilt, nil
}
