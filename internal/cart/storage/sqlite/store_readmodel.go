package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/storage"
)

func encodeItems(items []storage.CartItemRecord) ([]byte, error) {
	if len(items) == 0 {
		return []byte("[]"), nil
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal cart items: %w", err)
	}
	return encoded, nil
}

func decodeItems(value []byte) ([]storage.CartItemRecord, error) {
	if len(value) == 0 {
		return nil, nil
	}
	var items []storage.CartItemRecord
	if err := json.Unmarshal(value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart items: %w", err)
	}
	return items, nil
}

// Put inserts or replaces the read-model row for the record's cart.
func (s *ReadModelStore) Put(ctx context.Context, record storage.CartRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.CartID) == "" {
		return fmt.Errorf("cart id is required")
	}
	if record.Version == 0 {
		return fmt.Errorf("record version must be greater than zero")
	}

	items, err := encodeItems(record.Items)
	if err != nil {
		return err
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	const upsertSQL = `
INSERT INTO carts (
    cart_id, user_id, status, items, total_amount, item_count,
    version, created_at_ms, last_activity_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(cart_id) DO UPDATE SET
    user_id = excluded.user_id,
    status = excluded.status,
    items = excluded.items,
    total_amount = excluded.total_amount,
    item_count = excluded.item_count,
    version = excluded.version,
    created_at_ms = excluded.created_at_ms,
    last_activity_ms = excluded.last_activity_ms,
    updated_at_ms = excluded.updated_at_ms
`
	if _, err := s.sqlDB.ExecContext(
		ctx,
		upsertSQL,
		record.CartID,
		record.UserID,
		record.Status,
		items,
		record.TotalAmount,
		record.ItemCount,
		int64(record.Version),
		toMillis(record.CreatedAt),
		toMillis(record.LastActivity),
		toMillis(updatedAt),
	); err != nil {
		return fmt.Errorf("put cart record %s: %w", record.CartID, err)
	}
	return nil
}

// Get returns the read-model row for a cart or storage.ErrNotFound.
func (s *ReadModelStore) Get(ctx context.Context, cartID string) (storage.CartRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CartRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CartRecord{}, fmt.Errorf("storage is not configured")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return storage.CartRecord{}, fmt.Errorf("cart id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT cart_id, user_id, status, items, total_amount, item_count,
		        version, created_at_ms, last_activity_ms, updated_at_ms
		 FROM carts
		 WHERE cart_id = ?`,
		cartID,
	)
	record, err := scanCartRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CartRecord{}, storage.ErrNotFound
		}
		return storage.CartRecord{}, fmt.Errorf("get cart record %s: %w", cartID, err)
	}
	return record, nil
}

// ListByUser returns a user's carts ordered by last activity descending.
// An empty status matches every status.
func (s *ReadModelStore) ListByUser(ctx context.Context, userID, status string) ([]storage.CartRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	status = strings.ToLower(strings.TrimSpace(status))

	const baseSQL = `SELECT cart_id, user_id, status, items, total_amount, item_count,
	        version, created_at_ms, last_activity_ms, updated_at_ms
	 FROM carts
	 WHERE user_id = ?`

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.sqlDB.QueryContext(ctx, baseSQL+` ORDER BY last_activity_ms DESC, cart_id ASC`, userID)
	} else {
		rows, err = s.sqlDB.QueryContext(ctx, baseSQL+` AND status = ? ORDER BY last_activity_ms DESC, cart_id ASC`, userID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list carts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var records []storage.CartRecord
	for rows.Next() {
		record, err := scanCartRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart records: %w", err)
	}
	return records, nil
}

// Delete removes the read-model row for a cart. Missing rows are not an error.
func (s *ReadModelStore) Delete(ctx context.Context, cartID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return fmt.Errorf("cart id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM carts WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("delete cart record %s: %w", cartID, err)
	}
	return nil
}

func scanCartRecord(scanner rowScanner) (storage.CartRecord, error) {
	var (
		record       storage.CartRecord
		items        []byte
		version      int64
		createdAt    int64
		lastActivity int64
		updatedAt    int64
	)
	if err := scanner.Scan(
		&record.CartID,
		&record.UserID,
		&record.Status,
		&items,
		&record.TotalAmount,
		&record.ItemCount,
		&version,
		&createdAt,
		&lastActivity,
		&updatedAt,
	); err != nil {
		return storage.CartRecord{}, err
	}
	decoded, err := decodeItems(items)
	if err != nil {
		return storage.CartRecord{}, err
	}
	record.Items = decoded
	record.Version = uint64(version)
	record.CreatedAt = fromMillis(createdAt)
	record.LastActivity = fromMillis(lastActivity)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
