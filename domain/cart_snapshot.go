package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is a cart row joined with the live catalog entry it points at.
type CartLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int32           `json:"quantity"`
}

type CartSnapshotItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CartSnapshot represents the full cart state at checkout time
type CartSnapshot struct {
	UserID     int64              `json:"user_id"`
	Items      []CartSnapshotItem `json:"items"`
	Currency   string             `json:"currency"`
	CapturedAt time.Time          `json:"captured_at"`
}

func (s *CartSnapshot) IsEmpty() bool {
	return s == nil || len(s.Items) == 0
}
