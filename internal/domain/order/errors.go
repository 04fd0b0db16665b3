package order

import (
	"errors"
	"fmt"

	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidTransition   = errors.New("invalid order transition")
	ErrForbidden           = errors.New("caller may not perform this action")
	ErrValidationFailed    = errors.New("validation failed")
	ErrAlreadySet          = errors.New("field is already set")
	ErrConcurrencyConflict = errors.New("order was modified concurrently")
	ErrOrderExists         = errors.New("product already has an active order")
)

// Typed variants; errors.Is matches both the variant and its kind.
var (
	ErrOrderCancelled = fmt.Errorf("%w: order is cancelled", ErrInvalidTransition)
	ErrOrderCompleted = fmt.Errorf("%w: order is completed", ErrInvalidTransition)
	ErrRatingNotOpen  = fmt.Errorf("%w: ratings open once delivery is confirmed", ErrInvalidTransition)
	ErrAlreadyRated   = fmt.Errorf("%w: you have already rated this order", ErrAlreadySet)
)

// IsDomainError reports whether err is a caller-facing error rather than an
// infrastructure failure.
func IsDomainError(err error) bool {
	for _, kind := range []error{
		ErrOrderNotFound,
		ErrInvalidTransition,
		ErrForbidden,
		ErrValidationFailed,
		ErrAlreadySet,
		ErrConcurrencyConflict,
		ErrOrderExists,
		reputation.ErrDuplicateRating,
		reputation.ErrInvalidRating,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// translateStoreError maps store sentinels onto order error kinds.
func translateStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	case errors.Is(err, store.ErrProductClaimed):
		return fmt.Errorf("%w: %v", ErrOrderExists, err)
	}
	return err
}
