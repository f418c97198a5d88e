package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fjod/go_cart/checkout-engine/domain"
)

// Seed is the fixture format accepted by Load: a catalog plus pre-filled carts.
type Seed struct {
	Products []domain.Product `json:"products"`
	Carts    []SeedCart       `json:"carts"`
}

type SeedCart struct {
	UserID int64          `json:"user_id"`
	Items  []SeedCartItem `json:"items"`
}

type SeedCartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

// Load reads a JSON seed and applies it. Cart lines may name products missing
// from the catalog; checkout reports those as NotFound.
func (s *MemoryStore) Load(r io.Reader) error {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, p := range seed.Products {
		if p.ID <= 0 || p.Stock < 0 || p.Price.IsNegative() {
			return fmt.Errorf("invalid seed product %d", p.ID)
		}
	}
	for _, c := range seed.Carts {
		for _, item := range c.Items {
			if c.UserID <= 0 || item.Quantity <= 0 {
				return fmt.Errorf("invalid seed cart line for user %d, product %d", c.UserID, item.ProductID)
			}
		}
	}

	for _, p := range seed.Products {
		s.SetProduct(p)
	}
	for _, c := range seed.Carts {
		for _, item := range c.Items {
			s.AddToCart(c.UserID, item.ProductID, item.Quantity)
		}
	}
	return nil
}
