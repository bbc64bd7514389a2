package domain

import (
	"fmt"

	"github.com/tkarolak/cartledger/internal/cart/event"
)

// foldFunc applies one event type to cart state.
type foldFunc func(State, event.Event) (State, error)

// foldIndex maps each journal event type to its fold function. Replay and
// request-time application dispatch through the same table so state
// transitions stay visible in one place per event type.
var foldIndex = map[event.Type]foldFunc{
	event.TypeCartCreated:    foldCartCreated,
	event.TypeItemAdded:      foldItemAdded,
	event.TypeItemRemoved:    foldItemRemoved,
	event.TypeCartCheckedOut: foldCartCheckedOut,
}

// Fold applies a single event to cart state and returns the next state.
//
// Fold is a pure left-fold step: it performs no I/O and never mutates the
// input state, so replaying any event sequence is deterministic.
func Fold(state State, evt event.Event) (State, error) {
	fn, ok := foldIndex[evt.Type]
	if !ok {
		return state, fmt.Errorf("no fold for event type %q", evt.Type)
	}
	next, err := fn(state, evt)
	if err != nil {
		return state, err
	}
	next.Version = evt.Version
	next.LastActivity = evt.Timestamp
	return next, nil
}

func foldCartCreated(state State, evt event.Event) (State, error) {
	var payload event.CartCreatedPayload
	if err := event.DecodePayload(evt, &payload); err != nil {
		return state, err
	}
	return State{
		CartID:    evt.CartID,
		UserID:    payload.UserID,
		Status:    StatusOpen,
		CreatedAt: evt.Timestamp,
	}, nil
}

func foldItemAdded(state State, evt event.Event) (State, error) {
	var payload event.ItemAddedPayload
	if err := event.DecodePayload(evt, &payload); err != nil {
		return state, err
	}
	next := state
	next.Items = cloneItems(state.Items)
	if i := next.itemIndex(payload.ProductID); i >= 0 {
		next.Items[i].Quantity += payload.Quantity
		return next, nil
	}
	next.Items = append(next.Items, Item{
		ProductID:   payload.ProductID,
		ProductName: payload.ProductName,
		Price:       payload.Price,
		Quantity:    payload.Quantity,
	})
	return next, nil
}

func foldItemRemoved(state State, evt event.Event) (State, error) {
	var payload event.ItemRemovedPayload
	if err := event.DecodePayload(evt, &payload); err != nil {
		return state, err
	}
	next := state
	next.Items = cloneItems(state.Items)
	i := next.itemIndex(payload.ProductID)
	if i < 0 {
		return state, fmt.Errorf("fold item_removed: product %s not held at version %d", payload.ProductID, evt.Version)
	}
	next.Items[i].Quantity -= payload.Quantity
	if next.Items[i].Quantity <= 0 {
		next.Items = append(next.Items[:i], next.Items[i+1:]...)
	}
	return next, nil
}

func foldCartCheckedOut(state State, evt event.Event) (State, error) {
	next := state
	next.Items = cloneItems(state.Items)
	next.Status = StatusCheckedOut
	return next, nil
}

// Replay folds an ordered event sequence from empty state.
func Replay(events []event.Event) (State, error) {
	var state State
	for _, evt := range events {
		next, err := Fold(state, evt)
		if err != nil {
			return State{}, err
		}
		state = next
	}
	return state, nil
}
