// Package app coordinates cart commands and queries over the event journal
// and the read model.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/catalog"
	"github.com/tkarolak/cartledger/internal/cart/domain"
	"github.com/tkarolak/cartledger/internal/cart/event"
	"github.com/tkarolak/cartledger/internal/cart/projection"
	"github.com/tkarolak/cartledger/internal/cart/storage"
	apperrors "github.com/tkarolak/cartledger/internal/errors"
)

// DefaultMaxAttempts bounds the reload-and-retry loop for append conflicts.
const DefaultMaxAttempts = 3

// awaitPollInterval is how often AwaitVersion re-reads the read model.
const awaitPollInterval = 25 * time.Millisecond

// Params carries the collaborators a Service needs.
type Params struct {
	Events    storage.EventStore
	ReadModel storage.ReadModelStore
	Catalog   catalog.Lookup
	// Applier, when set, applies freshly appended events to the read model
	// synchronously on a best-effort basis. The outbox worker remains the
	// delivery guarantee; this only narrows the staleness window.
	Applier *projection.Applier
	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int
	// Now overrides the clock, for tests.
	Now func() time.Time
	// NewID overrides cart id generation, for tests.
	NewID func() (string, error)
	// Logger receives projection lag notices. Defaults to the standard logger.
	Logger *log.Logger
}

// Service executes cart commands against the journal and serves queries from
// the read model.
type Service struct {
	events      storage.EventStore
	readModel   storage.ReadModelStore
	catalog     catalog.Lookup
	applier     *projection.Applier
	maxAttempts int
	now         func() time.Time
	newID       func() (string, error)
	logger      *log.Logger
}

// NewService validates params and builds a Service.
func NewService(p Params) (*Service, error) {
	if p.Events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if p.ReadModel == nil {
		return nil, fmt.Errorf("read model store is required")
	}
	if p.Catalog == nil {
		return nil, fmt.Errorf("product catalog is required")
	}
	s := &Service{
		events:      p.Events,
		readModel:   p.ReadModel,
		catalog:     p.Catalog,
		applier:     p.Applier,
		maxAttempts: p.MaxAttempts,
		now:         p.Now,
		newID:       p.NewID,
		logger:      p.Logger,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = domain.NewID
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s, nil
}

// CreateCart opens a new cart for a user and returns its initial state.
func (s *Service) CreateCart(ctx context.Context, userID string) (domain.State, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.State{}, apperrors.New(apperrors.CodeCartUserIDRequired, "user id is required")
	}
	cartID, err := s.newID()
	if err != nil {
		return domain.State{}, fmt.Errorf("generate cart id: %w", err)
	}
	return s.execute(ctx, cartID, func(cart *domain.Cart) error {
		return cart.Create(userID, s.now())
	})
}

// AddItem adds a quantity of a catalog product to an open cart.
func (s *Service) AddItem(ctx context.Context, cartID, productID string, quantity int) (domain.State, error) {
	cartID, err := requireCartID(cartID)
	if err != nil {
		return domain.State{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.State{}, apperrors.New(apperrors.CodeCartProductIDRequired, "product id is required")
	}

	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return domain.State{}, err
	}
	return s.execute(ctx, cartID, func(cart *domain.Cart) error {
		return cart.AddItem(product, quantity, s.now())
	})
}

// RemoveItem removes a quantity of a product from an open cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, productID string, quantity int) (domain.State, error) {
	cartID, err := requireCartID(cartID)
	if err != nil {
		return domain.State{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.State{}, apperrors.New(apperrors.CodeCartProductIDRequired, "product id is required")
	}
	return s.execute(ctx, cartID, func(cart *domain.Cart) error {
		return cart.RemoveItem(productID, quantity, s.now())
	})
}

// Checkout finalizes an open, non-empty cart.
func (s *Service) Checkout(ctx context.Context, cartID string) (domain.State, error) {
	cartID, err := requireCartID(cartID)
	if err != nil {
		return domain.State{}, err
	}
	return s.execute(ctx, cartID, func(cart *domain.Cart) error {
		return cart.Checkout(s.now())
	})
}

// execute runs one command through the load, decide, append cycle. Version
// conflicts reload fresh state and re-run the command against it; rule
// violations surface immediately without retry. A retry budget exhausted by
// conflicts becomes WRITE_CONTENTION.
func (s *Service) execute(ctx context.Context, cartID string, command func(*domain.Cart) error) (domain.State, error) {
	var lastConflict error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.State{}, err
		}

		history, err := s.events.LoadEvents(ctx, cartID)
		if err != nil {
			return domain.State{}, apperrors.Wrap(apperrors.CodeUnknown, "load cart history", err)
		}
		cart, err := domain.Load(cartID, history)
		if err != nil {
			return domain.State{}, apperrors.Wrap(apperrors.CodeUnknown, "replay cart history", err)
		}

		expected := cart.Version()
		if err := command(cart); err != nil {
			return domain.State{}, err
		}
		pending := cart.PendingEvents()
		if len(pending) == 0 {
			return cart.State(), nil
		}

		if _, err := s.events.Append(ctx, cartID, expected, pending); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				lastConflict = err
				continue
			}
			return domain.State{}, apperrors.Wrap(apperrors.CodeUnknown, "append cart events", err)
		}
		cart.ClearPending()
		s.projectAppended(ctx, pending)
		return cart.State(), nil
	}
	return domain.State{}, apperrors.Wrap(apperrors.CodeWriteContention,
		fmt.Sprintf("cart %s: retry budget of %d attempts exhausted", cartID, s.maxAttempts),
		lastConflict)
}

// projectAppended pushes just-appended events into the read model so readers
// usually observe their own writes. Failures are logged and left to the
// outbox worker.
func (s *Service) projectAppended(ctx context.Context, events []event.Event) {
	if s.applier == nil {
		return
	}
	for _, evt := range events {
		if err := s.applier.Apply(ctx, evt); err != nil {
			s.logger.Printf("projection lagging for cart %s at version %d: %v", evt.CartID, evt.Version, err)
			return
		}
	}
}

// GetCart returns the read-model row for a cart.
func (s *Service) GetCart(ctx context.Context, cartID string) (storage.CartRecord, error) {
	cartID, err := requireCartID(cartID)
	if err != nil {
		return storage.CartRecord{}, err
	}
	record, err := s.readModel.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.CartRecord{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"cart "+cartID+" not found",
				map[string]string{"cart_id": cartID})
		}
		return storage.CartRecord{}, apperrors.Wrap(apperrors.CodeUnknown, "load cart", err)
	}
	return record, nil
}

// GetUserCarts returns a user's carts, newest activity first, optionally
// filtered by status.
func (s *Service) GetUserCarts(ctx context.Context, userID, status string) ([]storage.CartRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeCartUserIDRequired, "user id is required")
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !domain.Status(status).IsValid() {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknown,
			"unknown cart status filter",
			map[string]string{"status": status})
	}
	records, err := s.readModel.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list user carts", err)
	}
	return records, nil
}

// AwaitVersion blocks until the read-model row for a cart reaches at least
// the given version, or the context expires. Callers that need
// read-your-writes after a command wait on the version the command returned.
func (s *Service) AwaitVersion(ctx context.Context, cartID string, version uint64) error {
	cartID, err := requireCartID(cartID)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()
	for {
		record, err := s.readModel.Get(ctx, cartID)
		if err == nil && record.Version >= version {
			return nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return apperrors.Wrap(apperrors.CodeUnknown, "poll read model", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func requireCartID(cartID string) (string, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return "", apperrors.New(apperrors.CodeCartIDRequired, "cart id is required")
	}
	return cartID, nil
}
