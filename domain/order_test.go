package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusPending, OrderStatusCompleted, false},
		{OrderStatusPaid, OrderStatusShipped, true},
		{OrderStatusPaid, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusShipped, OrderStatusCompleted, true},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusCompleted, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, OrderStatusCompleted.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusPaid.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())
}

func TestOrderStatus_IsValid(t *testing.T) {
	assert.True(t, OrderStatusShipped.IsValid())
	assert.False(t, OrderStatus("REFUNDED").IsValid())
}

func TestOrder_InvoiceURL(t *testing.T) {
	o := &Order{ID: 17, OrderNumber: "ORD-1-2-abc"}
	assert.Empty(t, o.InvoiceURL())

	o.InvoicePath = "/tmp/invoices/invoice-ORD-1-2-abc.pdf"
	assert.Equal(t, "/api/v1/orders/17/invoice", o.InvoiceURL())
}

func TestOrder_CloneDoesNotShareLines(t *testing.T) {
	o := &Order{
		ID: 1,
		Lines: []OrderLine{
			{ProductID: 1, Quantity: 2, Price: decimal.NewFromInt(10), Total: decimal.NewFromInt(20)},
		},
	}

	c := o.Clone()
	c.Lines[0].Quantity = 5

	assert.Equal(t, int32(2), o.Lines[0].Quantity)
}

func TestCheckoutRequest_Validate(t *testing.T) {
	valid := CheckoutRequest{
		UserID:          1,
		PaymentMethod:   PaymentMethodCOD,
		ShippingAddress: "1 Main St",
		Phone:           "555-0100",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(r *CheckoutRequest)
	}{
		{"missing user", func(r *CheckoutRequest) { r.UserID = 0 }},
		{"bad payment method", func(r *CheckoutRequest) { r.PaymentMethod = "CARD" }},
		{"blank address", func(r *CheckoutRequest) { r.ShippingAddress = "   " }},
		{"blank phone", func(r *CheckoutRequest) { r.Phone = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)
		})
	}
}
