package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/checkout-engine/domain"
)

// OrderCache holds a user's order history as returned by the order list query.
type OrderCache interface {
	Get(ctx context.Context, userID int64) ([]domain.Order, error)
	Set(ctx context.Context, userID int64, orders []domain.Order) error
	Delete(ctx context.Context, userID int64) error
}

var ErrCacheMiss = errors.New("cache miss")
