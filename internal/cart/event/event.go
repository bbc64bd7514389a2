// Package event defines the immutable cart event journal records.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a cart event.
type Type string

// Cart lifecycle events. The set is closed: the store rejects any other type.
const (
	// TypeCartCreated records the creation of a cart for a user.
	TypeCartCreated Type = "cart.created"
	// TypeItemAdded records a product quantity being added to a cart.
	TypeItemAdded Type = "cart.item_added"
	// TypeItemRemoved records a product quantity being removed from a cart.
	TypeItemRemoved Type = "cart.item_removed"
	// TypeCartCheckedOut records the terminal checkout of a cart.
	TypeCartCheckedOut Type = "cart.checked_out"
)

// Types returns the closed set of cart event types.
func Types() []Type {
	return []Type{TypeCartCreated, TypeItemAdded, TypeItemRemoved, TypeCartCheckedOut}
}

// IsValid reports whether the event type belongs to the closed set.
func (t Type) IsValid() bool {
	switch t {
	case TypeCartCreated, TypeItemAdded, TypeItemRemoved, TypeCartCheckedOut:
		return true
	}
	return false
}

// Event represents an immutable event in the cart journal.
//
// Events are never updated or deleted after being appended. For a given cart
// no two events share the same version; the store enforces that invariant.
type Event struct {
	// ID is the globally unique event identity.
	ID string
	// CartID is the aggregate this event belongs to.
	CartID string
	// Version is the aggregate version this event produced (starts at 1,
	// strictly increasing per cart).
	Version uint64
	// Type identifies the kind of event.
	Type Type
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// Validation errors surfaced by ValidateForAppend.
var (
	ErrIDRequired     = errors.New("event id is required")
	ErrCartIDRequired = errors.New("cart id is required")
	ErrVersionZero    = errors.New("event version must be greater than zero")
	ErrTypeUnknown    = errors.New("event type is not in the cart event set")
	ErrPayloadInvalid = errors.New("event payload is not valid JSON")
)

// New builds an event with a fresh UUID identity and a marshaled payload.
func New(cartID string, version uint64, t Type, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:          uuid.NewString(),
		CartID:      cartID,
		Version:     version,
		Type:        t,
		Timestamp:   now.UTC(),
		PayloadJSON: data,
	}, nil
}

// ValidateForAppend checks an event before it reaches the journal and
// normalizes its timestamp to UTC millisecond precision.
func ValidateForAppend(evt Event) (Event, error) {
	if strings.TrimSpace(evt.ID) == "" {
		return Event{}, ErrIDRequired
	}
	if strings.TrimSpace(evt.CartID) == "" {
		return Event{}, ErrCartIDRequired
	}
	if evt.Version == 0 {
		return Event{}, ErrVersionZero
	}
	if !evt.Type.IsValid() {
		return Event{}, fmt.Errorf("%w: %q", ErrTypeUnknown, evt.Type)
	}
	if len(evt.PayloadJSON) == 0 || !json.Valid(evt.PayloadJSON) {
		return Event{}, ErrPayloadInvalid
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
	return evt, nil
}
