package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tkarolak/cartledger/internal/cart/event"
	"github.com/tkarolak/cartledger/internal/cart/storage"
)

// Append atomically writes events at versions expectedVersion+1 onward and
// enqueues each one on the projection outbox in the same transaction. It
// returns storage.ErrVersionConflict when another writer got there first.
func (s *EventStore) Append(ctx context.Context, cartID string, expectedVersion uint64, events []event.Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return 0, fmt.Errorf("cart id is required")
	}
	if len(events) == 0 {
		return 0, fmt.Errorf("at least one event is required")
	}
	validated := make([]event.Event, len(events))
	for i := range events {
		evt, err := event.ValidateForAppend(events[i])
		if err != nil {
			return 0, fmt.Errorf("validate event %d: %w", i, err)
		}
		if evt.CartID != cartID {
			return 0, fmt.Errorf("event %d cart id %q does not match %q", i, evt.CartID, cartID)
		}
		if want := expectedVersion + uint64(i) + 1; evt.Version != want {
			return 0, fmt.Errorf("event %d version %d does not continue from expected version %d", i, evt.Version, expectedVersion)
		}
		validated[i] = evt
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	var current uint64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM cart_events WHERE cart_id = ?`, cartID)
	if err := row.Scan(&current); err != nil {
		return 0, fmt.Errorf("read current version for %s: %w", cartID, err)
	}
	if current != expectedVersion {
		return 0, storage.ErrVersionConflict
	}

	const insertEventSQL = `
INSERT INTO cart_events (cart_id, version, event_id, event_type, payload, recorded_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
`
	for _, evt := range validated {
		if _, err := tx.ExecContext(
			ctx,
			insertEventSQL,
			evt.CartID,
			int64(evt.Version),
			evt.ID,
			string(evt.Type),
			evt.PayloadJSON,
			toMillis(evt.Timestamp),
		); err != nil {
			if isConstraintError(err) {
				return 0, storage.ErrVersionConflict
			}
			return 0, fmt.Errorf("append event %s/%d: %w", evt.CartID, evt.Version, err)
		}
		if err := enqueueOutbox(ctx, tx, evt); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintError(err) {
			return 0, storage.ErrVersionConflict
		}
		return 0, fmt.Errorf("commit append tx: %w", err)
	}
	return expectedVersion + uint64(len(events)), nil
}

// LoadEvents returns the full event history for one cart ordered by version.
func (s *EventStore) LoadEvents(ctx context.Context, cartID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, fmt.Errorf("cart id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT cart_id, version, event_id, event_type, payload, recorded_at_ms
		 FROM cart_events
		 WHERE cart_id = ?
		 ORDER BY version ASC`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", cartID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events for %s: %w", cartID, err)
	}
	return events, nil
}

// CurrentVersion returns the highest stored version for a cart, zero when
// the cart has no events.
func (s *EventStore) CurrentVersion(ctx context.Context, cartID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return 0, fmt.Errorf("cart id is required")
	}

	var version int64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM cart_events WHERE cart_id = ?`, cartID)
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("read current version for %s: %w", cartID, err)
	}
	return uint64(version), nil
}

// ListCartIDs returns every cart id with at least one journal entry, in
// insertion-stable lexical order. Rebuild tooling iterates this list.
func (s *EventStore) ListCartIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT cart_id FROM cart_events ORDER BY cart_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cart ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cart id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart ids: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(scanner rowScanner) (event.Event, error) {
	var (
		evt        event.Event
		version    int64
		eventType  string
		recordedAt int64
	)
	if err := scanner.Scan(&evt.CartID, &version, &evt.ID, &eventType, &evt.PayloadJSON, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Event{}, storage.ErrNotFound
		}
		return event.Event{}, fmt.Errorf("scan event row: %w", err)
	}
	evt.Version = uint64(version)
	evt.Type = event.Type(eventType)
	evt.Timestamp = fromMillis(recordedAt)
	return evt, nil
}
