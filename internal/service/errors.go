package service

import (
	"errors"
	"fmt"

	"github.com/fjod/go_cart/checkout-engine/domain"
)

// aborted marks a persistence failure; both the sentinel and the cause stay matchable.
func aborted(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransactionAborted, err)
}

// resultLabel maps an orchestrator error to a metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrTransactionAborted):
		return "aborted"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
