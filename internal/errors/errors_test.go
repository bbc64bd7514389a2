package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeCartNotOpen, "cart is checked out")

	if !stderrors.Is(err, New(CodeCartNotOpen, "different message")) {
		t.Fatal("errors with the same code must match")
	}
	if stderrors.Is(err, New(CodeNotFound, "cart is checked out")) {
		t.Fatal("errors with different codes must not match")
	}
	if stderrors.Is(err, stderrors.New("cart is checked out")) {
		t.Fatal("plain errors must not match domain errors")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeUnknown, "append failed", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	if err.Unwrap() != cause {
		t.Fatalf("unwrap = %v, want cause", err.Unwrap())
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != CodeUnknown {
		t.Fatalf("CodeOf(nil) = %s, want %s", got, CodeUnknown)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %s, want %s", got, CodeUnknown)
	}
	if got := CodeOf(New(CodeCartCheckoutEmpty, "empty")); got != CodeCartCheckoutEmpty {
		t.Fatalf("CodeOf = %s, want %s", got, CodeCartCheckoutEmpty)
	}

	wrapped := fmt.Errorf("create cart: %w", New(CodeCartAlreadyCreated, "already created"))
	if got := CodeOf(wrapped); got != CodeCartAlreadyCreated {
		t.Fatalf("CodeOf(wrapped) = %s, want %s", got, CodeCartAlreadyCreated)
	}

	doubleWrapped := fmt.Errorf("handler: %w", Wrap(CodeWriteContention, "gave up", stderrors.New("conflict")))
	if got := CodeOf(doubleWrapped); got != CodeWriteContention {
		t.Fatalf("CodeOf(doubleWrapped) = %s, want %s", got, CodeWriteContention)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := []struct {
		code Code
		want codes.Code
	}{
		{CodeCartQuantityInvalid, codes.InvalidArgument},
		{CodeCartUserIDRequired, codes.InvalidArgument},
		{CodeCartNotOpen, codes.FailedPrecondition},
		{CodeCartCheckoutEmpty, codes.FailedPrecondition},
		{CodeNotFound, codes.NotFound},
		{CodeProductNotFound, codes.NotFound},
		{CodeWriteContention, codes.Aborted},
		{CodeUnknown, codes.Internal},
		{Code("SOMETHING_NEW"), codes.Internal},
	}
	for _, tc := range cases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Errorf("%s maps to %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestIsRuleViolation(t *testing.T) {
	if !CodeCartRemoveExceedsHeld.IsRuleViolation() {
		t.Fatal("remove-exceeds-held is a rule violation")
	}
	if CodeWriteContention.IsRuleViolation() {
		t.Fatal("write contention is transient, not a rule violation")
	}
	if CodeNotFound.IsRuleViolation() {
		t.Fatal("not-found is a lookup error, not a rule violation")
	}
}

func TestToGRPCStatusCarriesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeCartRemoveExceedsHeld, "remove quantity exceeds held quantity", map[string]string{
		"product_id": "sku-1",
		"held":       "2",
	})

	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("status code = %s, want FailedPrecondition", st.Code())
	}
	if st.Message() != "remove quantity exceeds held quantity" {
		t.Fatalf("message = %q", st.Message())
	}

	var info *errdetails.ErrorInfo
	for _, detail := range st.Details() {
		if d, ok := detail.(*errdetails.ErrorInfo); ok {
			info = d
		}
	}
	if info == nil {
		t.Fatal("expected ErrorInfo detail")
	}
	if info.GetReason() != string(CodeCartRemoveExceedsHeld) {
		t.Fatalf("reason = %q, want %q", info.GetReason(), CodeCartRemoveExceedsHeld)
	}
	if info.GetDomain() != Domain {
		t.Fatalf("domain = %q, want %q", info.GetDomain(), Domain)
	}
	if info.GetMetadata()["product_id"] != "sku-1" {
		t.Fatalf("metadata = %v", info.GetMetadata())
	}
}
