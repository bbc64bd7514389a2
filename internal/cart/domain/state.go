// Package domain holds the cart aggregate: its state, the pure event fold,
// and the command methods that validate business rules and emit events.
package domain

import "time"

// Status identifies the cart lifecycle state.
type Status string

const (
	// StatusOpen accepts item mutations and checkout.
	StatusOpen Status = "open"
	// StatusCheckedOut is terminal; no further mutating commands are accepted.
	StatusCheckedOut Status = "checked_out"
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	return s == StatusOpen || s == StatusCheckedOut
}

// Item is one product line held in a cart.
type Item struct {
	ProductID   string
	ProductName string
	Price       float64
	Quantity    int
}

// Total returns the line total for the item.
func (i Item) Total() float64 {
	return i.Price * float64(i.Quantity)
}

// State captures cart aggregate state at a version.
//
// The state at version N is always exactly the fold of events 1..N in
// ascending order. Items preserve first-add order.
type State struct {
	CartID       string
	UserID       string
	Items        []Item
	Status       Status
	Version      uint64
	CreatedAt    time.Time
	LastActivity time.Time
}

// TotalAmount returns the sum of all line totals.
func (s State) TotalAmount() float64 {
	var total float64
	for _, item := range s.Items {
		total += item.Total()
	}
	return total
}

// ItemCount returns the sum of held quantities.
func (s State) ItemCount() int {
	var count int
	for _, item := range s.Items {
		count += item.Quantity
	}
	return count
}

// Quantity returns the held quantity for a product, 0 when absent.
func (s State) Quantity(productID string) int {
	for _, item := range s.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

// itemIndex returns the position of a product line, -1 when absent.
func (s State) itemIndex(productID string) int {
	for i, item := range s.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// cloneItems copies the item slice so folds never alias a previous state.
func cloneItems(items []Item) []Item {
	if len(items) == 0 {
		return nil
	}
	cloned := make([]Item, len(items))
	copy(cloned, items)
	return cloned
}
