package http

import (
	"context"

	"github.com/fjod/go_cart/checkout-engine/domain"
)

// MockOrderService implements service.OrderService for handler tests.
type MockOrderService struct {
	CheckoutResp *domain.CheckoutResponse
	Order        *domain.Order
	Orders       []*domain.Order
	Err          error

	LastCheckout *domain.CheckoutRequest
	LastUserID   int64
	LastOrderID  int64
	LastStatus   domain.OrderStatus
}

func (m *MockOrderService) Checkout(_ context.Context, req *domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	m.LastCheckout = req
	if m.Err != nil {
		return nil, m.Err
	}
	return m.CheckoutResp, nil
}

func (m *MockOrderService) CancelOrder(_ context.Context, userID, orderID int64) (*domain.Order, error) {
	m.LastUserID, m.LastOrderID = userID, orderID
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Order, nil
}

func (m *MockOrderService) UpdateStatus(_ context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	m.LastOrderID, m.LastStatus = orderID, status
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Order, nil
}

func (m *MockOrderService) GetOrders(_ context.Context, userID int64) ([]*domain.Order, error) {
	m.LastUserID = userID
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Orders, nil
}

func (m *MockOrderService) GetOrder(_ context.Context, userID, orderID int64) (*domain.Order, error) {
	m.LastUserID, m.LastOrderID = userID, orderID
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Order, nil
}
