package domain

import (
	"testing"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/catalog"
	"github.com/tkarolak/cartledger/internal/cart/event"
	apperrors "github.com/tkarolak/cartledger/internal/errors"
)

var (
	widget = catalog.Product{ID: "sku-widget", Name: "Widget", Price: 9.99}
	gadget = catalog.Product{ID: "sku-gadget", Name: "Gadget", Price: 5}
)

func expectCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}

func newCart(t *testing.T) *Cart {
	t.Helper()
	id, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	return NewCart(id)
}

func openCart(t *testing.T) *Cart {
	t.Helper()
	cart := newCart(t)
	if err := cart.Create("user-1", time.Now()); err != nil {
		t.Fatalf("create: %v", err)
	}
	return cart
}

func TestCreateEmitsFirstEvent(t *testing.T) {
	cart := openCart(t)

	if cart.Version() != 1 {
		t.Fatalf("version = %d, want 1", cart.Version())
	}
	state := cart.State()
	if state.UserID != "user-1" || state.Status != StatusOpen {
		t.Fatalf("state = %+v, want open cart for user-1", state)
	}
	pending := cart.PendingEvents()
	if len(pending) != 1 || pending[0].Type != event.TypeCartCreated {
		t.Fatalf("pending = %+v, want one cart.created", pending)
	}
}

func TestCreateTwiceIsRuleViolation(t *testing.T) {
	cart := openCart(t)
	expectCode(t, cart.Create("user-2", time.Now()), apperrors.CodeCartAlreadyCreated)
}

func TestAddItemValidation(t *testing.T) {
	cart := openCart(t)

	expectCode(t, cart.AddItem(widget, 0, time.Now()), apperrors.CodeCartQuantityInvalid)
	expectCode(t, cart.AddItem(widget, -1, time.Now()), apperrors.CodeCartQuantityInvalid)
	expectCode(t, cart.AddItem(catalog.Product{ID: "sku-bad", Price: -1}, 1, time.Now()), apperrors.CodeCartPriceNegative)

	if err := cart.AddItem(widget, 2, time.Now()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := cart.State().Quantity("sku-widget"); got != 2 {
		t.Fatalf("quantity = %d, want 2", got)
	}
}

func TestRemoveItemValidation(t *testing.T) {
	cart := openCart(t)
	if err := cart.AddItem(widget, 2, time.Now()); err != nil {
		t.Fatalf("add: %v", err)
	}

	expectCode(t, cart.RemoveItem("sku-widget", 0, time.Now()), apperrors.CodeCartQuantityInvalid)
	expectCode(t, cart.RemoveItem("sku-gadget", 1, time.Now()), apperrors.CodeCartProductNotInCart)
	expectCode(t, cart.RemoveItem("sku-widget", 3, time.Now()), apperrors.CodeCartRemoveExceedsHeld)

	if err := cart.RemoveItem("sku-widget", 2, time.Now()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(cart.State().Items) != 0 {
		t.Fatalf("items = %+v, want line dropped at zero", cart.State().Items)
	}
}

func TestCheckoutRules(t *testing.T) {
	cart := openCart(t)
	expectCode(t, cart.Checkout(time.Now()), apperrors.CodeCartCheckoutEmpty)

	if err := cart.AddItem(widget, 1, time.Now()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := cart.Checkout(time.Now()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if cart.State().Status != StatusCheckedOut {
		t.Fatalf("status = %s, want checked_out", cart.State().Status)
	}

	expectCode(t, cart.AddItem(gadget, 1, time.Now()), apperrors.CodeCartNotOpen)
	expectCode(t, cart.RemoveItem("sku-widget", 1, time.Now()), apperrors.CodeCartNotOpen)
	expectCode(t, cart.Checkout(time.Now()), apperrors.CodeCartNotOpen)
}

func TestCommandsBeforeCreateAreNotFound(t *testing.T) {
	cart := newCart(t)
	expectCode(t, cart.AddItem(widget, 1, time.Now()), apperrors.CodeNotFound)
	expectCode(t, cart.RemoveItem("sku-widget", 1, time.Now()), apperrors.CodeNotFound)
	expectCode(t, cart.Checkout(time.Now()), apperrors.CodeNotFound)
}

func TestRejectedCommandLeavesNoPendingEvent(t *testing.T) {
	cart := openCart(t)
	before := len(cart.PendingEvents())

	_ = cart.AddItem(widget, -1, time.Now())
	_ = cart.RemoveItem("sku-widget", 1, time.Now())
	_ = cart.Checkout(time.Now())

	if got := len(cart.PendingEvents()); got != before {
		t.Fatalf("pending events = %d after rejected commands, want %d", got, before)
	}
}

func TestLoadRebuildsStateFromHistory(t *testing.T) {
	source := openCart(t)
	if err := source.AddItem(widget, 2, time.Now()); err != nil {
		t.Fatalf("add widget: %v", err)
	}
	if err := source.AddItem(gadget, 1, time.Now()); err != nil {
		t.Fatalf("add gadget: %v", err)
	}
	if err := source.RemoveItem("sku-widget", 1, time.Now()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	history := source.PendingEvents()

	loaded, err := Load(source.State().CartID, history)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.PendingEvents()) != 0 {
		t.Fatal("loaded aggregate must have no pending events")
	}
	want := source.State()
	got := loaded.State()
	if got.Version != want.Version || got.TotalAmount() != want.TotalAmount() || got.ItemCount() != want.ItemCount() {
		t.Fatalf("loaded state = %+v, want %+v", got, want)
	}
}

func TestApplyRejectsVersionGap(t *testing.T) {
	cart := NewCart("cart-1")
	evt, err := event.New("cart-1", 3, event.TypeCartCreated, event.CartCreatedPayload{UserID: "user-1"}, time.Now())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if err := cart.Apply(evt, false); err == nil {
		t.Fatal("expected version gap error")
	}
}

func TestNewIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("id length = %d, want 26 (%q)", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
