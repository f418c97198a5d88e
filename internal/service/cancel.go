package service

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/fjod/go_cart/checkout-engine/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CancelOrder cancels one of the user's orders and puts its stock back.
func (s *CheckoutServiceImpl) CancelOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("order.id", orderID),
	))
	defer span.End()

	order, err := s.cancel(ctx, userID, orderID)
	s.metrics.CancellationResult(resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.invalidateCache(ctx, userID)
	return s.reload(ctx, order), nil
}

func (s *CheckoutServiceImpl) cancel(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, aborted("begin cancel", err)
	}
	defer tx.Rollback()

	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.OrderNotFound(orderID)
	}

	if err := s.cancelLocked(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, aborted("commit cancel", err)
	}
	return order, nil
}

func (s *CheckoutServiceImpl) lockOrder(ctx context.Context, tx repository.Tx, orderID int64) (*domain.Order, error) {
	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, aborted("lock order", err)
	}
	return order, nil
}

// cancelLocked expects the order row to be locked by tx. Lines whose stock cannot
// be restored are logged and skipped; the order is cancelled regardless.
func (s *CheckoutServiceImpl) cancelLocked(ctx context.Context, tx repository.Tx, order *domain.Order) error {
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return domain.InvalidTransition(order.Status, domain.OrderStatusCancelled)
	}

	log := logger.Ctx(ctx, s.log).With().Int64("order_id", order.ID).Logger()
	for _, line := range order.Lines {
		if err := tx.Release(ctx, line.ProductID, line.Quantity); err != nil {
			if ctx.Err() != nil {
				return aborted("release stock", err)
			}
			log.Warn().Err(err).
				Int64("product_id", line.ProductID).
				Int32("quantity", line.Quantity).
				Msg("could not restore stock for cancelled order line, skipping")
		}
	}

	previous := order.Status
	if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled, order.PaymentStatus); err != nil {
		return aborted("update order status", err)
	}
	order.Status = domain.OrderStatusCancelled

	event, err := orderEvent(repository.EventOrderCancelled, order, previous)
	if err != nil {
		return aborted("encode order event", err)
	}
	if err := tx.AddOutboxEvent(ctx, event); err != nil {
		return aborted("append outbox event", err)
	}
	log.Info().Str("from", previous.String()).Msg("order cancelled")
	return nil
}

// reload re-reads a committed order so the caller sees the stored updated_at;
// the in-memory copy is returned if the read fails.
func (s *CheckoutServiceImpl) reload(ctx context.Context, order *domain.Order) *domain.Order {
	fresh, err := s.store.GetOrderByID(ctx, order.ID)
	if err != nil {
		lg := logger.Ctx(ctx, s.log)
		lg.Warn().Err(err).Int64("order_id", order.ID).Msg("reload order after commit failed")
		return order
	}
	return fresh
}
