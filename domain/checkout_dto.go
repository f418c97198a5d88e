package domain

import "strings"

type CheckoutRequest struct {
	UserID          int64
	PaymentMethod   PaymentMethod
	ShippingAddress string
	Phone           string
	Notes           string
	IdempotencyKey  string
}

// Validate checks the caller supplied fields; cart contents are checked by the orchestrator.
func (r *CheckoutRequest) Validate() error {
	if r.UserID <= 0 {
		return invalidRequest("user_id must be positive")
	}
	if !r.PaymentMethod.IsValid() {
		return invalidRequest("payment_method must be one of COD, ONLINE")
	}
	if strings.TrimSpace(r.ShippingAddress) == "" {
		return invalidRequest("shipping_address is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return invalidRequest("phone is required")
	}
	return nil
}

type CheckoutResponse struct {
	Order      *Order
	InvoiceURL string
	// Replayed is set when the idempotency key matched an order placed earlier.
	Replayed bool
}
