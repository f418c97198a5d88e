package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/cache"
	"github.com/fjod/go_cart/checkout-engine/internal/metrics"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/fjod/go_cart/checkout-engine/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MockInvoiceGenerator records calls and returns a fixed path or error.
type MockInvoiceGenerator struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (m *MockInvoiceGenerator) Generate(_ context.Context, order *domain.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return "", m.Err
	}
	return "/var/invoices/" + domain.InvoiceFileName(order.OrderNumber), nil
}

func (m *MockInvoiceGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockOrderCache is a map-backed cache.OrderCache.
type MockOrderCache struct {
	mu      sync.Mutex
	data    map[int64][]domain.Order
	Gets    int
	Sets    int
	Deletes int
	GetErr  error
}

func NewMockOrderCache() *MockOrderCache {
	return &MockOrderCache{data: make(map[int64][]domain.Order)}
}

func (m *MockOrderCache) Get(_ context.Context, userID int64) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	v, ok := m.data[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return append([]domain.Order(nil), v...), nil
}

func (m *MockOrderCache) Set(_ context.Context, userID int64, orders []domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sets++
	m.data[userID] = append([]domain.Order(nil), orders...)
	return nil
}

func (m *MockOrderCache) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes++
	delete(m.data, userID)
	return nil
}

func (m *MockOrderCache) Has(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[userID]
	return ok
}

// FaultyStore wraps the memory store and injects failures into its transactions.
type FaultyStore struct {
	*store.MemoryStore
	CreateErr      error
	HideIdempotent bool
	AttachErr      error

	// StaleKeyLookups hides this many in-transaction idempotency lookups, like a
	// read that ran before a concurrent checkout committed.
	StaleKeyLookups int
}

func (f *FaultyStore) BeginTx(ctx context.Context) (repository.Tx, error) {
	tx, err := f.MemoryStore.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, store: f}, nil
}

func (f *FaultyStore) AttachInvoice(ctx context.Context, orderID int64, path string) error {
	if f.AttachErr != nil {
		return f.AttachErr
	}
	return f.MemoryStore.AttachInvoice(ctx, orderID, path)
}

type faultyTx struct {
	repository.Tx
	store *FaultyStore
}

func (t *faultyTx) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	if t.store.HideIdempotent {
		return nil, &domain.NotFoundError{Entity: "order for idempotency key", ID: userID}
	}
	if t.store.StaleKeyLookups > 0 {
		t.store.StaleKeyLookups--
		return nil, &domain.NotFoundError{Entity: "order for idempotency key", ID: userID}
	}
	return t.Tx.FindOrderByIdempotencyKey(ctx, userID, key)
}

func (t *faultyTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	if t.store.CreateErr != nil {
		return t.store.CreateErr
	}
	return t.Tx.CreateOrder(ctx, order)
}

var errConnReset = errors.New("connection reset by peer")

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedProducts(st *store.MemoryStore, products ...domain.Product) {
	for _, p := range products {
		st.SetProduct(p)
	}
}

func productA(stock int32) domain.Product {
	return domain.Product{ID: 1, Name: "A", Price: money("10.00"), Stock: stock}
}

func productB(stock int32) domain.Product {
	return domain.Product{ID: 2, Name: "B", Price: money("5.00"), Stock: stock}
}

func checkoutRequest(userID int64, key string) *domain.CheckoutRequest {
	return &domain.CheckoutRequest{
		UserID:          userID,
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: "1 Main St",
		Phone:           "555-0100",
		IdempotencyKey:  key,
	}
}

type testEnv struct {
	store    *store.MemoryStore
	invoices *MockInvoiceGenerator
	cache    *MockOrderCache
	metrics  *metrics.Metrics
	svc      *CheckoutServiceImpl
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	env := &testEnv{
		store:    st,
		invoices: &MockInvoiceGenerator{},
		cache:    NewMockOrderCache(),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	env.svc = NewCheckoutService(st, env.invoices, env.cache, env.metrics, zerolog.Nop(), time.Second)
	return env
}

func stockOf(t *testing.T, st *store.MemoryStore, id int64) int32 {
	t.Helper()
	p, ok := st.Product(id)
	if !ok {
		t.Fatalf("product %d not found", id)
	}
	return p.Stock
}
