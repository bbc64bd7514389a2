// Package storage defines the persistence contracts for the cart journal and
// its read model.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/event"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict indicates an append lost the optimistic-concurrency race:
// the stored version for the cart no longer equals the expected version.
// Command handlers recover by reloading and retrying; the conflict itself is
// never surfaced to callers.
var ErrVersionConflict = errors.New("version conflict")

// EventStore is the append-only cart event journal.
//
// The journal is the single source of truth for a cart. Concurrent appends
// for the same cart at the same expected version must allow exactly one to
// succeed; the rest fail with ErrVersionConflict.
type EventStore interface {
	// Append atomically persists the ordered batch at versions
	// expectedVersion+1, expectedVersion+2, ... and returns the new current
	// version. A version race yields ErrVersionConflict and persists nothing.
	Append(ctx context.Context, cartID string, expectedVersion uint64, events []event.Event) (uint64, error)
	// LoadEvents returns the full event history for a cart, version
	// ascending; an empty slice when the cart has no events.
	LoadEvents(ctx context.Context, cartID string) ([]event.Event, error)
	// CurrentVersion returns 0 when no events exist, else the max version.
	CurrentVersion(ctx context.Context, cartID string) (uint64, error)
	// ListCartIDs returns every cart identity present in the journal.
	ListCartIDs(ctx context.Context) ([]string, error)
}

// CartItemRecord is one denormalized item line in the read model.
type CartItemRecord struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	TotalPrice  float64 `json:"total_price"`
}

// CartRecord is the denormalized read-model row for one cart.
//
// The record trails the journal: its Version is always at or below the
// journal's latest version for the cart, never ahead of it.
type CartRecord struct {
	CartID       string
	UserID       string
	Status       string
	Items        []CartItemRecord
	TotalAmount  float64
	ItemCount    int
	Version      uint64
	CreatedAt    time.Time
	LastActivity time.Time
	UpdatedAt    time.Time
}

// ReadModelStore persists the query-optimized cart snapshot.
type ReadModelStore interface {
	// Put inserts or replaces the row for the record's cart.
	Put(ctx context.Context, record CartRecord) error
	// Get returns the row for a cart or ErrNotFound.
	Get(ctx context.Context, cartID string) (CartRecord, error)
	// ListByUser returns a user's carts ordered by last activity descending,
	// optionally filtered by status (empty status means all).
	ListByUser(ctx context.Context, userID, status string) ([]CartRecord, error)
	// Delete removes the row for a cart; absent rows are not an error.
	Delete(ctx context.Context, cartID string) error
}
