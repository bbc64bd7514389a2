package event

import (
	"encoding/json"
	"fmt"
)

// CartCreatedPayload captures the payload for cart.created events.
type CartCreatedPayload struct {
	UserID string `json:"user_id"`
}

// ItemAddedPayload captures the payload for cart.item_added events.
//
// Product name and price are captured at add time so replay never depends on
// the catalog's current state.
type ItemAddedPayload struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

// ItemRemovedPayload captures the payload for cart.item_removed events.
type ItemRemovedPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CartCheckedOutPayload captures the payload for cart.checked_out events.
type CartCheckedOutPayload struct {
	TotalAmount float64 `json:"total_amount"`
}

// DecodePayload unmarshals the event payload into target.
func DecodePayload(evt Event, target any) error {
	if err := json.Unmarshal(evt.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode %s payload for cart %s version %d: %w", evt.Type, evt.CartID, evt.Version, err)
	}
	return nil
}
