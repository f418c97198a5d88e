package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation          = "23505"
	orderNumberConstraint    = "orders_order_number_key"
	idempotencyKeyConstraint = "orders_user_idempotency_key"
)

const orderColumns = `o.id, o.user_id, o.order_number, o.status, o.payment_method, o.payment_status,
	       o.subtotal, o.tax, o.discount, o.total, o.shipping_address, o.phone, o.notes,
	       o.invoice_path, o.idempotency_key, o.created_at, o.updated_at`

const lineColumns = `i.id, i.product_id, i.product_name, i.price, i.quantity, i.total`

const selectOrderWithLines = `SELECT ` + orderColumns + `, ` + lineColumns + `
	          FROM orders o LEFT JOIN order_items i ON i.order_id = o.id`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (t *pgTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO orders (user_id, order_number, status, payment_method, payment_status,
	              subtotal, tax, discount, total, shipping_address, phone, notes, idempotency_key, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		order.UserID,
		order.OrderNumber,
		order.Status,
		order.PaymentMethod,
		order.PaymentStatus,
		order.Subtotal,
		order.Tax,
		order.Discount,
		order.Total,
		order.ShippingAddress,
		order.Phone,
		nullString(order.Notes),
		nullString(order.IdempotencyKey),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			switch pqErr.Constraint {
			case idempotencyKeyConstraint:
				return ErrDuplicateCheckout
			case orderNumberConstraint:
				return ErrDuplicateOrderNumber
			}
		}
		return fmt.Errorf("insert order: %w", err)
	}

	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO order_items (order_id, product_id, product_name, price, quantity, total)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`)
	if err != nil {
		return fmt.Errorf("prepare order item insert: %w", err)
	}
	defer stmt.Close()

	for i := range order.Lines {
		line := &order.Lines[i]
		if err := stmt.QueryRowContext(ctx,
			order.ID,
			line.ProductID,
			line.ProductName,
			line.Price,
			line.Quantity,
			line.Total,
		).Scan(&line.ID); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	return findByIdempotencyKey(ctx, t.tx, userID, key)
}

// GetOrderForUpdate locks the order row for the rest of the transaction.
func (t *pgTx) GetOrderForUpdate(ctx context.Context, orderID int64) (*domain.Order, error) {
	orders, err := queryOrders(ctx, t.tx,
		selectOrderWithLines+` WHERE o.id = $1 ORDER BY i.id FOR UPDATE OF o`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order for update: %w", err)
	}
	if len(orders) == 0 {
		return nil, domain.OrderNotFound(orderID)
	}
	return orders[0], nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, paymentStatus bool) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, updated_at = NOW() WHERE id = $1`,
		orderID, status, paymentStatus)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.OrderNotFound(orderID)
	}
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	orders, err := queryOrders(ctx, r.db, selectOrderWithLines+` WHERE o.id = $1 ORDER BY i.id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if len(orders) == 0 {
		return nil, domain.OrderNotFound(orderID)
	}
	return orders[0], nil
}

func (r *Repository) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	return findByIdempotencyKey(ctx, r.db, userID, key)
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID int64) ([]*domain.Order, error) {
	orders, err := queryOrders(ctx, r.db,
		selectOrderWithLines+` WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id DESC, i.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	return orders, nil
}

func (r *Repository) AttachInvoice(ctx context.Context, orderID int64, path string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET invoice_path = $2, updated_at = NOW() WHERE id = $1`, orderID, path)
	if err != nil {
		return fmt.Errorf("attach invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.OrderNotFound(orderID)
	}
	return nil
}

func (r *Repository) ListOrdersMissingInvoice(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM orders
		 WHERE invoice_path IS NULL AND status <> $1 AND created_at < $2
		 ORDER BY id LIMIT $3`,
		domain.OrderStatusCancelled, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders missing invoice: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

func findByIdempotencyKey(ctx context.Context, q queryer, userID int64, key string) (*domain.Order, error) {
	orders, err := queryOrders(ctx, q,
		selectOrderWithLines+` WHERE o.user_id = $1 AND o.idempotency_key = $2 ORDER BY i.id`, userID, key)
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	if len(orders) == 0 {
		return nil, &domain.NotFoundError{Entity: "order for idempotency key", ID: userID}
	}
	return orders[0], nil
}

// queryOrders folds the order x order_items join back into aggregates,
// keeping the row order of the query.
func queryOrders(ctx context.Context, q queryer, query string, args ...any) ([]*domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	byID := make(map[int64]*domain.Order)
	for rows.Next() {
		var (
			o                               domain.Order
			notes, invoicePath, idempotency sql.NullString
			lineID, productID               sql.NullInt64
			productName                     sql.NullString
			price, total                    decimal.NullDecimal
			quantity                        sql.NullInt32
		)
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.OrderNumber, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
			&o.Subtotal, &o.Tax, &o.Discount, &o.Total, &o.ShippingAddress, &o.Phone, &notes,
			&invoicePath, &idempotency, &o.CreatedAt, &o.UpdatedAt,
			&lineID, &productID, &productName, &price, &quantity, &total,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		current, seen := byID[o.ID]
		if !seen {
			o.Notes = notes.String
			o.InvoicePath = invoicePath.String
			o.IdempotencyKey = idempotency.String
			o.Lines = []domain.OrderLine{}
			current = &o
			byID[o.ID] = current
			orders = append(orders, current)
		}
		if lineID.Valid {
			current.Lines = append(current.Lines, domain.OrderLine{
				ID:          lineID.Int64,
				ProductID:   productID.Int64,
				ProductName: productName.String,
				Price:       price.Decimal,
				Quantity:    quantity.Int32,
				Total:       total.Decimal,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
