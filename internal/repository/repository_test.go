package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedProduct(t *testing.T, repo *Repository, name, price string, stock int32) int64 {
	var id int64
	err := repo.db.QueryRow(
		`INSERT INTO products (name, price, stock) VALUES ($1, $2, $3) RETURNING id`,
		name, price, stock).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedCartItem(t *testing.T, repo *Repository, userID, productID int64, qty int32) {
	_, err := repo.db.Exec(
		`INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	require.NoError(t, err)
	_, err = repo.db.Exec(
		`INSERT INTO cart_items (cart_id, product_id, quantity)
		 SELECT id, $2, $3 FROM carts WHERE user_id = $1`, userID, productID, qty)
	require.NoError(t, err)
}

func stockOf(t *testing.T, repo *Repository, productID int64) int32 {
	var stock int32
	require.NoError(t, repo.db.QueryRow(`SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock))
	return stock
}

func newTestOrder(userID int64, number string) *domain.Order {
	return &domain.Order{
		UserID:          userID,
		OrderNumber:     number,
		Status:          domain.OrderStatusPending,
		PaymentMethod:   domain.PaymentMethodCOD,
		Subtotal:        dec("25.00"),
		Tax:             dec("2.50"),
		Discount:        dec("0.00"),
		Total:           dec("27.50"),
		ShippingAddress: "1 Main St",
		Phone:           "555-0100",
		Lines: []domain.OrderLine{
			{ProductID: 1, ProductName: "Lamp", Price: dec("10.00"), Quantity: 2, Total: dec("20.00")},
			{ProductID: 2, ProductName: "Bulb", Price: dec("5.00"), Quantity: 1, Total: dec("5.00")},
		},
	}
}

func createOrder(t *testing.T, repo *Repository, order *domain.Order) {
	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.CreateOrder(ctx, order))
	require.NoError(t, tx.Commit())
}

func TestReserve_Success(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	id := seedProduct(t, repo, "Lamp", "10.00", 5)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Reserve(ctx, id, 3))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int32(2), stockOf(t, repo, id))
}

func TestReserve_OutOfStock(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	id := seedProduct(t, repo, "Lamp", "10.00", 1)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.Reserve(ctx, id, 2)
	require.ErrorIs(t, err, domain.ErrOutOfStock)

	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, int32(1), oos.Available)
	assert.Equal(t, "Lamp", oos.ProductName)
}

func TestReserve_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.ErrorIs(t, tx.Reserve(ctx, 999, 1), domain.ErrNotFound)
}

func TestReserve_ConcurrentLastUnit(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	id := seedProduct(t, repo, "Last one", "1.00", 1)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, outOfStock := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := repo.BeginTx(ctx)
			if err != nil {
				return
			}
			defer tx.Rollback()

			err = tx.Reserve(ctx, id, 1)
			if err == nil {
				err = tx.Commit()
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrOutOfStock):
				outOfStock++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, outOfStock)
	assert.Equal(t, int32(0), stockOf(t, repo, id))
}

func TestRollback_DiscardsReservation(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	id := seedProduct(t, repo, "Lamp", "10.00", 5)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Reserve(ctx, id, 5))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	assert.Equal(t, int32(5), stockOf(t, repo, id))
}

func TestRelease_MissingProductKeepsTxUsable(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	id := seedProduct(t, repo, "Lamp", "10.00", 1)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.ErrorIs(t, tx.Release(ctx, 999, 2), domain.ErrNotFound)
	require.NoError(t, tx.Release(ctx, id, 2))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int32(3), stockOf(t, repo, id))
}

func TestGetCartLines_UsesCurrentCatalogPrice(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	a := seedProduct(t, repo, "A", "10.00", 10)
	b := seedProduct(t, repo, "B", "5.00", 10)
	seedCartItem(t, repo, 7, a, 2)
	seedCartItem(t, repo, 7, b, 1)

	_, err := repo.db.Exec(`UPDATE products SET price = 12.00 WHERE id = $1`, a)
	require.NoError(t, err)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	lines, err := tx.GetCartLines(ctx, 7)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, a, lines[0].ProductID)
	assert.Equal(t, "A", lines[0].ProductName)
	assert.True(t, lines[0].UnitPrice.Equal(dec("12.00")))
	assert.Equal(t, int32(2), lines[0].Quantity)

	require.NoError(t, tx.ClearCart(ctx, 7))
	require.NoError(t, tx.Commit())

	tx2, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx2.Rollback()
	lines, err = tx2.GetCartLines(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestGetCartLines_KeepsLinesForRemovedProducts(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	a := seedProduct(t, repo, "A", "10.00", 10)
	b := seedProduct(t, repo, "B", "5.00", 10)
	seedCartItem(t, repo, 7, a, 1)
	seedCartItem(t, repo, 7, b, 1)

	_, err := repo.db.Exec(`DELETE FROM products WHERE id = $1`, b)
	require.NoError(t, err)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	lines, err := tx.GetCartLines(ctx, 7)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, b, lines[1].ProductID)
	assert.Empty(t, lines[1].ProductName)
	assert.True(t, lines[1].UnitPrice.IsZero())
	assert.ErrorIs(t, tx.Reserve(ctx, b, 1), domain.ErrNotFound)
}

func TestCreateOrder_Success(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	order := newTestOrder(1, "ORD-1")
	order.Notes = "leave at door"
	createOrder(t, repo, order)

	assert.NotZero(t, order.ID)
	assert.NotZero(t, order.Lines[0].ID)

	fetched, err := repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, fetched.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, fetched.Status)
	assert.False(t, fetched.PaymentStatus)
	assert.Equal(t, "leave at door", fetched.Notes)
	assert.True(t, fetched.Total.Equal(dec("27.50")))
	require.Len(t, fetched.Lines, 2)
	assert.Equal(t, "Lamp", fetched.Lines[0].ProductName)
	assert.True(t, fetched.Lines[0].Total.Equal(dec("20.00")))
	assert.Empty(t, fetched.InvoicePath)
}

func TestCreateOrder_DuplicateIdempotencyKey(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	first := newTestOrder(1, "ORD-1")
	first.IdempotencyKey = "key-1"
	createOrder(t, repo, first)

	second := newTestOrder(1, "ORD-2")
	second.IdempotencyKey = "key-1"
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	assert.ErrorIs(t, tx.CreateOrder(ctx, second), ErrDuplicateCheckout)

	found, err := repo.FindOrderByIdempotencyKey(ctx, 1, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repo.FindOrderByIdempotencyKey(ctx, 2, "key-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOrder_DuplicateOrderNumber(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	createOrder(t, repo, newTestOrder(1, "ORD-SAME"))

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	assert.ErrorIs(t, tx.CreateOrder(ctx, newTestOrder(2, "ORD-SAME")), ErrDuplicateOrderNumber)
}

func TestGetOrderByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.GetOrderByID(context.Background(), 12345)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListOrdersByUserID(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order1 := newTestOrder(5, "ORD-A")
	createOrder(t, repo, order1)

	// Small sleep to ensure different created_at timestamps
	time.Sleep(10 * time.Millisecond)

	order2 := newTestOrder(5, "ORD-B")
	createOrder(t, repo, order2)
	createOrder(t, repo, newTestOrder(6, "ORD-OTHER"))

	orders, err := repo.ListOrdersByUserID(ctx, 5)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, order2.ID, orders[0].ID)
	assert.Equal(t, order1.ID, orders[1].ID)
	assert.Len(t, orders[0].Lines, 2)
	assert.Len(t, orders[1].Lines, 2)
}

func TestUpdateOrderStatus_LocksAndUpdates(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := newTestOrder(1, "ORD-1")
	createOrder(t, repo, order)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	locked, err := tx.GetOrderForUpdate(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, locked.Lines, 2)

	require.NoError(t, tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPaid, true))
	require.NoError(t, tx.Commit())

	fetched, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, fetched.Status)
	assert.True(t, fetched.PaymentStatus)
}

func TestGetOrderForUpdate_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.GetOrderForUpdate(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttachInvoice_AndMissingInvoiceBacklog(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	withInvoice := newTestOrder(1, "ORD-1")
	without := newTestOrder(1, "ORD-2")
	createOrder(t, repo, withInvoice)
	createOrder(t, repo, without)

	require.NoError(t, repo.AttachInvoice(ctx, withInvoice.ID, "/tmp/invoice-ORD-1.pdf"))
	assert.ErrorIs(t, repo.AttachInvoice(ctx, 9999, "/tmp/x.pdf"), domain.ErrNotFound)

	ids, err := repo.ListOrdersMissingInvoice(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{without.ID}, ids)

	ids, err = repo.ListOrdersMissingInvoice(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOutboxEvents(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	event := &OutboxEvent{
		AggregateID: "ORD-1",
		EventType:   EventOrderCreated,
		Payload:     json.RawMessage(`{"order_id":1}`),
	}
	require.NoError(t, tx.AddOutboxEvent(ctx, event))
	require.NoError(t, tx.Commit())

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, EventOrderCreated, events[0].EventType)
	assert.JSONEq(t, `{"order_id":1}`, string(events[0].Payload))

	require.NoError(t, repo.MarkEventAsProcessed(ctx, event.ID))

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
