package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/cache"
	"github.com/fjod/go_cart/checkout-engine/pkg/logger"
)

const cacheOpTimeout = time.Second

// GetOrders returns the user's orders, newest first.
func (s *CheckoutServiceImpl) GetOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		if s.cache != nil {
			cached, err := s.cache.Get(ctx, userID)
			if err == nil {
				out := make([]*domain.Order, len(cached))
				for i := range cached {
					out[i] = &cached[i]
				}
				return out, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				lg := logger.Ctx(ctx, s.log)
				lg.Warn().Err(err).Int64("user_id", userID).Msg("order cache get failed")
			}
		}

		orders, err := s.store.ListOrdersByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.fillCache(ctx, userID, orders)
		return orders, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight hands the same slice to every waiter
	shared := v.([]*domain.Order)
	out := make([]*domain.Order, len(shared))
	for i, o := range shared {
		out[i] = o.Clone()
	}
	return out, nil
}

// GetOrder returns NotFound for orders owned by someone else.
func (s *CheckoutServiceImpl) GetOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.OrderNotFound(orderID)
	}
	return order, nil
}

func (s *CheckoutServiceImpl) fillCache(ctx context.Context, userID int64, orders []*domain.Order) {
	if s.cache == nil {
		return
	}
	values := make([]domain.Order, len(orders))
	for i, o := range orders {
		values[i] = *o
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Set(cctx, userID, values); err != nil {
		lg := logger.Ctx(ctx, s.log)
		lg.Warn().Err(err).Int64("user_id", userID).Msg("order cache set failed")
	}
}

func (s *CheckoutServiceImpl) invalidateCache(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(cctx, userID); err != nil {
		lg := logger.Ctx(ctx, s.log)
		lg.Warn().Err(err).Int64("user_id", userID).Msg("order cache invalidate failed")
	}
}
