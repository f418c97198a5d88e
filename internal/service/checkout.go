package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/pricing"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/fjod/go_cart/checkout-engine/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Checkout converts the user's cart into a PENDING order in a single transaction.
// Invoice generation runs after commit and never affects the result.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, request *domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout", trace.WithAttributes(attribute.Int64("user.id", request.UserID)))
	defer span.End()

	log := logger.Ctx(ctx, s.log).With().Int64("user_id", request.UserID).Logger()

	if err := request.Validate(); err != nil {
		s.metrics.CheckoutResult(resultLabel(err))
		return nil, err
	}

	order, replayed, err := s.placeOrder(ctx, request)
	if err != nil {
		s.metrics.CheckoutResult(resultLabel(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Info().Err(err).Msg("checkout rejected")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Bool("checkout.replayed", replayed))

	if replayed {
		s.metrics.CheckoutResult("replayed")
		log.Info().Int64("order_id", order.ID).Str("idempotency_key", request.IdempotencyKey).Msg("duplicate checkout request, returning existing order")
		return &domain.CheckoutResponse{Order: order, InvoiceURL: order.InvoiceURL(), Replayed: true}, nil
	}

	s.metrics.CheckoutResult("success")
	log.Info().
		Int64("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Str("total", pricing.Format(order.Total)).
		Msg("order placed")
	s.invalidateCache(ctx, order.UserID)

	if path, ok := s.issueInvoice(ctx, order); ok {
		order.InvoicePath = path
	}
	return &domain.CheckoutResponse{Order: order, InvoiceURL: order.InvoiceURL()}, nil
}

// placeOrder runs the transactional part of checkout. replayed is true when the
// idempotency key already produced an order.
func (s *CheckoutServiceImpl) placeOrder(ctx context.Context, request *domain.CheckoutRequest) (*domain.Order, bool, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, false, aborted("begin checkout", err)
	}
	defer tx.Rollback()

	if request.IdempotencyKey != "" {
		existing, err := tx.FindOrderByIdempotencyKey(ctx, request.UserID, request.IdempotencyKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, aborted("check idempotency key", err)
		}
	}

	snapshot, err := s.buildCartSnapshot(ctx, tx, request.UserID)
	if errors.Is(err, domain.ErrEmptyCart) && request.IdempotencyKey != "" {
		// A concurrent checkout with the same key may have emptied the cart while
		// this one waited on the cart row locks; its order is visible now.
		existing, ferr := tx.FindOrderByIdempotencyKey(ctx, request.UserID, request.IdempotencyKey)
		if ferr == nil {
			return existing, true, nil
		}
		if !errors.Is(ferr, domain.ErrNotFound) {
			return nil, false, aborted("check idempotency key", ferr)
		}
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.reserveInventory(ctx, tx, snapshot); err != nil {
		return nil, false, err
	}

	order := newOrder(request, snapshot, s.orderNumber(request.UserID))
	if err := tx.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateCheckout) {
			// a concurrent request with the same key committed first
			_ = tx.Rollback()
			winner, ferr := s.store.FindOrderByIdempotencyKey(ctx, request.UserID, request.IdempotencyKey)
			if ferr != nil {
				return nil, false, aborted("load concurrent checkout", ferr)
			}
			return winner, true, nil
		}
		return nil, false, aborted("create order", err)
	}

	event, err := orderEvent(repository.EventOrderCreated, order, "")
	if err != nil {
		return nil, false, aborted("encode order event", err)
	}
	if err := tx.AddOutboxEvent(ctx, event); err != nil {
		return nil, false, aborted("append outbox event", err)
	}

	if err := tx.ClearCart(ctx, request.UserID); err != nil {
		return nil, false, aborted("clear cart", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, aborted("commit checkout", err)
	}
	return order, false, nil
}

// reserveInventory stops at the first line that cannot be reserved; the caller's rollback undoes the rest.
func (s *CheckoutServiceImpl) reserveInventory(ctx context.Context, tx repository.Tx, snapshot *domain.CartSnapshot) error {
	for _, item := range snapshot.Items {
		err := tx.Reserve(ctx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrOutOfStock) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return aborted("reserve stock", err)
	}
	return nil
}

func newOrder(request *domain.CheckoutRequest, snapshot *domain.CartSnapshot, number string) *domain.Order {
	totals := pricing.FromSnapshot(snapshot).Round()

	lines := make([]domain.OrderLine, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		lines = append(lines, domain.OrderLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.UnitPrice,
			Quantity:    item.Quantity,
			Total:       item.Subtotal,
		})
	}

	return &domain.Order{
		UserID:          request.UserID,
		OrderNumber:     number,
		Status:          domain.OrderStatusPending,
		PaymentMethod:   request.PaymentMethod,
		PaymentStatus:   false,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		Discount:        totals.Discount,
		Total:           totals.Total,
		ShippingAddress: request.ShippingAddress,
		Phone:           request.Phone,
		Notes:           request.Notes,
		IdempotencyKey:  request.IdempotencyKey,
		Lines:           lines,
	}
}

type orderEventPayload struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	UserID      int64              `json:"user_id"`
	Status      domain.OrderStatus `json:"status"`
	Previous    domain.OrderStatus `json:"previous_status,omitempty"`
	Total       string             `json:"total"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

func orderEvent(eventType string, order *domain.Order, previous domain.OrderStatus) (*repository.OutboxEvent, error) {
	payload, err := json.Marshal(orderEventPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Previous:    previous,
		Total:       pricing.Format(order.Total),
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &repository.OutboxEvent{
		AggregateID: strconv.FormatInt(order.ID, 10),
		EventType:   eventType,
		Payload:     payload,
	}, nil
}
