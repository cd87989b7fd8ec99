package orders

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("concurrent modification")
	ErrDuplicate          = errors.New("duplicate record")
	ErrCartEmpty          = errors.New("cart is empty")
	ErrItemNotInCart      = errors.New("product not found in cart")
	ErrProductUnavailable = errors.New("product is currently unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrOTPNotEligible     = errors.New("order is not eligible for a verification code")
	ErrAlreadyVerified    = errors.New("verification already completed")
	ErrExpired            = errors.New("verification code has expired")
	ErrAttemptsExceeded   = errors.New("too many failed verification attempts")
	ErrInvalidCode        = errors.New("invalid verification code")

	// ErrDuplicateOrderNumber is the order-number flavour of ErrDuplicate;
	// the coordinator retries it with a fresh number.
	ErrDuplicateOrderNumber = fmt.Errorf("%w: order number", ErrDuplicate)
)

// StateError reports a state conflict together with the authoritative status.
type StateError struct {
	Err     error
	Current Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v (current status: %s)", e.Err, e.Current)
}

func (e *StateError) Unwrap() error { return e.Err }

func stateErr(err error, current Status) error {
	return &StateError{Err: err, Current: current}
}

// CodeError is returned for a rejected verification code. It never carries the
// expected code.
type CodeError struct {
	Err               error
	AttemptsRemaining int
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("%v: %d attempts remaining", e.Err, e.AttemptsRemaining)
}

func (e *CodeError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

var codes = []struct {
	err  error
	code string
}{
	{ErrCartEmpty, "cart_empty"},
	{ErrItemNotInCart, "item_not_in_cart"},
	{ErrProductUnavailable, "product_unavailable"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrOTPNotEligible, "otp_not_eligible"},
	{ErrAlreadyVerified, "already_verified"},
	{ErrExpired, "otp_expired"},
	{ErrAttemptsExceeded, "attempts_exceeded"},
	{ErrInvalidCode, "invalid_code"},
	{ErrValidation, "validation"},
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrConflict, "conflict"},
	{ErrDuplicate, "duplicate"},
}

// Code returns the stable machine-readable code for err, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
