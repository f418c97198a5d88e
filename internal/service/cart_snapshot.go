package service

import (
	"context"
	"sort"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/pricing"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
)

// buildCartSnapshot captures the cart at the catalog's current prices. Items are
// ordered by product id so concurrent checkouts lock products in the same order.
func (s *CheckoutServiceImpl) buildCartSnapshot(ctx context.Context, tx repository.Tx, userID int64) (*domain.CartSnapshot, error) {
	lines, err := tx.GetCartLines(ctx, userID)
	if err != nil {
		return nil, aborted("read cart", err)
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	snapshot := &domain.CartSnapshot{
		UserID:     userID,
		Items:      make([]domain.CartSnapshotItem, 0, len(lines)),
		Currency:   "USD",
		CapturedAt: time.Now(),
	}
	for _, l := range lines {
		snapshot.Items = append(snapshot.Items, domain.CartSnapshotItem{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Subtotal:    pricing.LineTotal(l.UnitPrice, l.Quantity),
		})
	}
	sort.Slice(snapshot.Items, func(i, j int) bool {
		return snapshot.Items[i].ProductID < snapshot.Items[j].ProductID
	})
	return snapshot, nil
}
