// Package errors provides structured error handling with gRPC status mapping.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Cart rule violations
	CodeCartAlreadyCreated    Code = "CART_ALREADY_CREATED"
	CodeCartNotOpen           Code = "CART_NOT_OPEN"
	CodeCartQuantityInvalid   Code = "CART_QUANTITY_NOT_POSITIVE"
	CodeCartPriceNegative     Code = "CART_PRICE_NEGATIVE"
	CodeCartRemoveExceedsHeld Code = "CART_REMOVE_EXCEEDS_HELD"
	CodeCartCheckoutEmpty     Code = "CART_CHECKOUT_EMPTY"
	CodeCartProductNotInCart  Code = "CART_PRODUCT_NOT_IN_CART"

	// Command input errors
	CodeCartUserIDRequired    Code = "CART_USER_ID_REQUIRED"
	CodeCartIDRequired        Code = "CART_ID_REQUIRED"
	CodeCartProductIDRequired Code = "CART_PRODUCT_ID_REQUIRED"

	// Lookup errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeProductNotFound Code = "PRODUCT_NOT_FOUND"

	// Write-path errors
	CodeWriteContention Code = "WRITE_CONTENTION"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCartQuantityInvalid,
		CodeCartPriceNegative,
		CodeCartUserIDRequired,
		CodeCartIDRequired,
		CodeCartProductIDRequired:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeCartAlreadyCreated,
		CodeCartNotOpen,
		CodeCartRemoveExceedsHeld,
		CodeCartCheckoutEmpty,
		CodeCartProductNotInCart:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeProductNotFound:
		return codes.NotFound

	// Aborted - transient write race, caller may resubmit
	case CodeWriteContention:
		return codes.Aborted

	default:
		return codes.Internal
	}
}

// IsRuleViolation reports whether the code names a domain rule rejection.
// Rule violations are final for the submitted command and are never retried.
func (c Code) IsRuleViolation() bool {
	switch c {
	case CodeCartAlreadyCreated,
		CodeCartNotOpen,
		CodeCartQuantityInvalid,
		CodeCartPriceNegative,
		CodeCartRemoveExceedsHeld,
		CodeCartCheckoutEmpty,
		CodeCartProductNotInCart:
		return true
	default:
		return false
	}
}
