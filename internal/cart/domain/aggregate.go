package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/catalog"
	"github.com/tkarolak/cartledger/internal/cart/event"
	"github.com/tkarolak/cartledger/internal/errors"
)

// Cart is the aggregate root for one shopping cart.
//
// Command methods validate business rules against current in-memory state
// and, when valid, synthesize the corresponding event and apply it. They
// never touch the store; the caller persists PendingEvents with the version
// recorded before the commands ran.
type Cart struct {
	state   State
	pending []event.Event
}

// NewCart builds an empty aggregate for a cart identity.
func NewCart(cartID string) *Cart {
	return &Cart{state: State{CartID: cartID}}
}

// Load replays stored history into a fresh aggregate.
func Load(cartID string, history []event.Event) (*Cart, error) {
	cart := NewCart(cartID)
	for _, evt := range history {
		if err := cart.Apply(evt, false); err != nil {
			return nil, err
		}
	}
	return cart, nil
}

// Apply folds one event into in-memory state. When isNew is true the event is
// additionally buffered for persistence by the caller.
func (c *Cart) Apply(evt event.Event, isNew bool) error {
	if evt.Version != c.state.Version+1 {
		return fmt.Errorf("apply %s: version gap on cart %s: expected %d got %d",
			evt.Type, c.state.CartID, c.state.Version+1, evt.Version)
	}
	next, err := Fold(c.state, evt)
	if err != nil {
		return err
	}
	c.state = next
	if isNew {
		c.pending = append(c.pending, evt)
	}
	return nil
}

// State returns the current in-memory state.
func (c *Cart) State() State {
	return c.state
}

// Version returns the version of the last applied event.
func (c *Cart) Version() uint64 {
	return c.state.Version
}

// PendingEvents returns the events produced by commands since load.
func (c *Cart) PendingEvents() []event.Event {
	return append([]event.Event(nil), c.pending...)
}

// ClearPending drops the pending buffer after the caller has persisted it.
func (c *Cart) ClearPending() {
	c.pending = nil
}

// Create opens the cart for a user. Only valid as the first event.
func (c *Cart) Create(userID string, now time.Time) error {
	if c.state.Version != 0 || c.state.UserID != "" {
		return errors.New(errors.CodeCartAlreadyCreated, "cart "+c.state.CartID+" already created")
	}
	return c.emit(event.TypeCartCreated, event.CartCreatedPayload{UserID: userID}, now)
}

// AddItem increases the held quantity of a product.
func (c *Cart) AddItem(product catalog.Product, quantity int, now time.Time) error {
	if err := c.requireOpen("add item"); err != nil {
		return err
	}
	if quantity <= 0 {
		return errors.WithMetadata(errors.CodeCartQuantityInvalid,
			"add quantity must be positive",
			map[string]string{"quantity": strconv.Itoa(quantity)})
	}
	if product.Price < 0 {
		return errors.WithMetadata(errors.CodeCartPriceNegative,
			"product price cannot be negative",
			map[string]string{"product_id": product.ID})
	}
	return c.emit(event.TypeItemAdded, event.ItemAddedPayload{
		ProductID:   product.ID,
		ProductName: product.Name,
		Price:       product.Price,
		Quantity:    quantity,
	}, now)
}

// RemoveItem decreases the held quantity of a product, removing the line when
// it reaches zero. Removing more than held is a rule violation.
func (c *Cart) RemoveItem(productID string, quantity int, now time.Time) error {
	if err := c.requireOpen("remove item"); err != nil {
		return err
	}
	if quantity <= 0 {
		return errors.WithMetadata(errors.CodeCartQuantityInvalid,
			"remove quantity must be positive",
			map[string]string{"quantity": strconv.Itoa(quantity)})
	}
	held := c.state.Quantity(productID)
	if held == 0 {
		return errors.WithMetadata(errors.CodeCartProductNotInCart,
			"product "+productID+" is not in the cart",
			map[string]string{"product_id": productID})
	}
	if quantity > held {
		return errors.WithMetadata(errors.CodeCartRemoveExceedsHeld,
			"remove quantity exceeds held quantity",
			map[string]string{
				"product_id": productID,
				"held":       strconv.Itoa(held),
				"requested":  strconv.Itoa(quantity),
			})
	}
	return c.emit(event.TypeItemRemoved, event.ItemRemovedPayload{
		ProductID: productID,
		Quantity:  quantity,
	}, now)
}

// Checkout finalizes the cart. The cart must be open and non-empty; after
// checkout no mutating command is accepted.
func (c *Cart) Checkout(now time.Time) error {
	if err := c.requireOpen("checkout"); err != nil {
		return err
	}
	if len(c.state.Items) == 0 {
		return errors.New(errors.CodeCartCheckoutEmpty, "cannot checkout an empty cart")
	}
	return c.emit(event.TypeCartCheckedOut, event.CartCheckedOutPayload{
		TotalAmount: c.state.TotalAmount(),
	}, now)
}

func (c *Cart) requireOpen(operation string) error {
	if c.state.Version == 0 {
		return errors.New(errors.CodeNotFound, "cart "+c.state.CartID+" does not exist")
	}
	if c.state.Status != StatusOpen {
		return errors.WithMetadata(errors.CodeCartNotOpen,
			"cannot "+operation+": cart status is "+string(c.state.Status),
			map[string]string{"status": string(c.state.Status)})
	}
	return nil
}

func (c *Cart) emit(t event.Type, payload any, now time.Time) error {
	evt, err := event.New(c.state.CartID, c.state.Version+1, t, payload, now)
	if err != nil {
		return err
	}
	return c.Apply(evt, true)
}
