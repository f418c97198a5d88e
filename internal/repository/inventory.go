package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/checkout-engine/domain"
)

// Reserve debits stock with a compare-and-swap on the product row. The row
// lock taken by the UPDATE is held until the surrounding transaction ends, so
// two checkouts racing for the last unit cannot both succeed.
func (t *pgTx) Reserve(ctx context.Context, productID int64, quantity int32) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		productID, quantity)
	if err != nil {
		return fmt.Errorf("reserve product %d: %w", productID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve product %d: %w", productID, err)
	}
	if affected == 1 {
		return nil
	}

	var name string
	var stock int32
	err = t.tx.QueryRowContext(ctx,
		`SELECT name, stock FROM products WHERE id = $1`, productID).Scan(&name, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProductNotFound(productID)
	}
	if err != nil {
		return fmt.Errorf("query stock for product %d: %w", productID, err)
	}
	return &domain.OutOfStockError{
		ProductID:   productID,
		ProductName: name,
		Requested:   quantity,
		Available:   stock,
	}
}

// Release credits stock back. Each release runs under its own savepoint so a
// failing line leaves the transaction usable for the remaining lines.
func (t *pgTx) Release(ctx context.Context, productID int64, quantity int32) (err error) {
	if _, err = t.tx.ExecContext(ctx, `SAVEPOINT release_line`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	defer func() {
		if err != nil {
			if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT release_line`); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
			}
			return
		}
		if _, relErr := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT release_line`); relErr != nil {
			err = fmt.Errorf("release savepoint: %w", relErr)
		}
	}()

	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock + $2 WHERE id = $1`, productID, quantity)
	if err != nil {
		return fmt.Errorf("release product %d: %w", productID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release product %d: %w", productID, err)
	}
	if affected == 0 {
		return domain.ProductNotFound(productID)
	}
	return nil
}
