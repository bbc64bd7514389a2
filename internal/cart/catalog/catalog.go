// Package catalog exposes the read-only product lookup consumed by cart
// commands. The catalog is an external collaborator; the cart journal only
// needs existence, name, and price at command time.
package catalog

import (
	"context"
	"strings"

	"github.com/tkarolak/cartledger/internal/errors"
)

// Product describes a purchasable product at lookup time.
type Product struct {
	ID    string
	Name  string
	Price float64
}

// Lookup resolves products by identity.
type Lookup interface {
	Product(ctx context.Context, productID string) (Product, error)
}

// NotFound builds the error returned when a product does not exist.
func NotFound(productID string) *errors.Error {
	return errors.WithMetadata(errors.CodeProductNotFound,
		"product "+productID+" not found",
		map[string]string{"product_id": productID})
}

// Static is an in-memory Lookup backed by a fixed product list.
type Static struct {
	products map[string]Product
}

// NewStatic builds a Static catalog from the given products.
func NewStatic(products ...Product) *Static {
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &Static{products: byID}
}

// Product returns the product by id or a PRODUCT_NOT_FOUND error.
func (s *Static) Product(_ context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if s == nil || productID == "" {
		return Product{}, NotFound(productID)
	}
	p, ok := s.products[productID]
	if !ok {
		return Product{}, NotFound(productID)
	}
	return p, nil
}
