package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/shopspring/decimal"
)

// GetCartLines reads the user's cart joined with the current catalog name and
// price. Cart rows are locked so a concurrent checkout of the same cart waits
// and then sees it empty. A line whose product is gone comes back with only its
// product id and quantity; Reserve reports it as NotFound.
func (t *pgTx) GetCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	query := `SELECT ci.product_id, p.name, p.price, ci.quantity
	          FROM cart_items ci
	          JOIN carts c ON c.id = ci.cart_id
	          LEFT JOIN products p ON p.id = ci.product_id
	          WHERE c.user_id = $1
	          ORDER BY ci.id
	          FOR UPDATE OF ci`

	rows, err := t.tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		var name sql.NullString
		var price decimal.NullDecimal
		if err := rows.Scan(&l.ProductID, &name, &price, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		l.ProductName = name.String
		l.UnitPrice = price.Decimal
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (t *pgTx) ClearCart(ctx context.Context, userID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`, userID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
