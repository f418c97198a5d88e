package service

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/fjod/go_cart/checkout-engine/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// UpdateStatus moves an order along the status machine. Cancelling through here
// restores stock exactly like CancelOrder.
func (s *CheckoutServiceImpl) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status", status.String()),
	))
	defer span.End()

	if !status.IsValid() {
		return nil, domain.InvalidRequest(fmt.Sprintf("unknown order status %q", status))
	}

	order, err := s.updateStatus(ctx, orderID, status)
	if status == domain.OrderStatusCancelled {
		s.metrics.CancellationResult(resultLabel(err))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.invalidateCache(ctx, order.UserID)
	return s.reload(ctx, order), nil
}

func (s *CheckoutServiceImpl) updateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, aborted("begin status update", err)
	}
	defer tx.Rollback()

	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if status == domain.OrderStatusCancelled {
		if err := s.cancelLocked(ctx, tx, order); err != nil {
			return nil, err
		}
	} else {
		if !order.Status.CanTransitionTo(status) {
			return nil, domain.InvalidTransition(order.Status, status)
		}
		previous := order.Status
		paid := order.PaymentStatus || status == domain.OrderStatusPaid
		if err := tx.UpdateOrderStatus(ctx, order.ID, status, paid); err != nil {
			return nil, aborted("update order status", err)
		}
		order.Status = status
		order.PaymentStatus = paid

		event, err := orderEvent(repository.EventOrderStatusChanged, order, previous)
		if err != nil {
			return nil, aborted("encode order event", err)
		}
		if err := tx.AddOutboxEvent(ctx, event); err != nil {
			return nil, aborted("append outbox event", err)
		}
		lg := logger.Ctx(ctx, s.log)
		lg.Info().
			Int64("order_id", order.ID).
			Str("from", previous.String()).
			Str("to", status.String()).
			Msg("order status changed")
	}

	if err := tx.Commit(); err != nil {
		return nil, aborted("commit status update", err)
	}
	return order, nil
}
