package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/pkg/circuitbreaker"
	"github.com/fjod/go_cart/checkout-engine/pkg/logger"
)

// issueInvoice is the best-effort step after checkout commits. Failures are logged
// and left to the recovery paths in the outbox poller and invoice consumer.
func (s *CheckoutServiceImpl) issueInvoice(ctx context.Context, order *domain.Order) (string, bool) {
	if s.invoices == nil {
		return "", false
	}
	path, err := s.generateAndAttach(ctx, order)
	if err != nil {
		lg := logger.Ctx(ctx, s.log)
		lg.Warn().Err(err).
			Int64("order_id", order.ID).
			Str("order_number", order.OrderNumber).
			Msg("invoice generation failed, will retry later")
		return "", false
	}
	return path, true
}

// IssueInvoice generates and attaches the invoice for an order that has none.
// Orders that already carry an invoice, and cancelled orders, are left alone.
func (s *CheckoutServiceImpl) IssueInvoice(ctx context.Context, orderID int64) (string, error) {
	if s.invoices == nil {
		return "", errors.New("invoice generator is not configured")
	}
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.InvoicePath != "" || order.Status == domain.OrderStatusCancelled {
		return order.InvoicePath, nil
	}
	return s.generateAndAttach(ctx, order)
}

func (s *CheckoutServiceImpl) generateAndAttach(ctx context.Context, order *domain.Order) (string, error) {
	ctx, span := s.tracer.Start(ctx, "IssueInvoice")
	defer span.End()

	// detached from the caller's cancellation, bounded by its own timeout
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.invoiceTimeout)
	defer cancel()

	path, err := s.breaker.Execute(func() (string, error) {
		return s.invoices.Generate(ictx, order)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			s.metrics.InvoiceResult("breaker_open")
		} else {
			s.metrics.InvoiceResult("failed")
		}
		span.RecordError(err)
		return "", fmt.Errorf("generate invoice for order %d: %w", order.ID, err)
	}

	if err := s.store.AttachInvoice(ictx, order.ID, path); err != nil {
		s.metrics.InvoiceResult("attach_failed")
		span.RecordError(err)
		return "", fmt.Errorf("attach invoice to order %d: %w", order.ID, err)
	}

	s.metrics.InvoiceResult("success")
	s.invalidateCache(ctx, order.UserID)
	lg := logger.Ctx(ctx, s.log)
	lg.Info().Int64("order_id", order.ID).Str("path", path).Msg("invoice issued")
	return path, nil
}
