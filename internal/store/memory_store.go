// Package store holds an in-memory implementation of repository.RepoInterface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
)

var ErrTxDone = errors.New("transaction has already been committed or rolled back")

type cartItem struct {
	ProductID int64
	Quantity  int32
}

// MemoryStore keeps products, carts, orders and outbox events in maps.
// At most one transaction is open at a time; reads wait for it to finish,
// which makes every transaction serializable.
type MemoryStore struct {
	sem chan struct{}

	products map[int64]*domain.Product
	carts    map[int64][]cartItem
	orders   map[int64]*domain.Order
	outbox   []*repository.OutboxEvent

	nextOrderID int64
	nextLineID  int64
	nextEventID int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:      make(chan struct{}, 1),
		products: make(map[int64]*domain.Product),
		carts:    make(map[int64][]cartItem),
		orders:   make(map[int64]*domain.Order),
		now:      time.Now,
	}
}

func (s *MemoryStore) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) unlock() {
	<-s.sem
}

// SetProduct creates or replaces a catalog entry (used for seeding).
func (s *MemoryStore) SetProduct(p domain.Product) {
	_ = s.lock(context.Background())
	defer s.unlock()
	cp := p
	s.products[p.ID] = &cp
}

// DeleteProduct removes a catalog entry, leaving carts and orders untouched.
func (s *MemoryStore) DeleteProduct(id int64) {
	_ = s.lock(context.Background())
	defer s.unlock()
	delete(s.products, id)
}

// Product returns a copy of the catalog entry.
func (s *MemoryStore) Product(id int64) (domain.Product, bool) {
	_ = s.lock(context.Background())
	defer s.unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, false
	}
	return *p, true
}

// AddToCart adds quantity of a product to the user's cart, merging with an existing line.
func (s *MemoryStore) AddToCart(userID, productID int64, quantity int32) {
	_ = s.lock(context.Background())
	defer s.unlock()
	for i, item := range s.carts[userID] {
		if item.ProductID == productID {
			s.carts[userID][i].Quantity += quantity
			return
		}
	}
	s.carts[userID] = append(s.carts[userID], cartItem{ProductID: productID, Quantity: quantity})
}

// CartSize returns the number of lines in the user's cart.
func (s *MemoryStore) CartSize(userID int64) int {
	_ = s.lock(context.Background())
	defer s.unlock()
	return len(s.carts[userID])
}

// OrderCount returns the number of persisted orders.
func (s *MemoryStore) OrderCount() int {
	_ = s.lock(context.Background())
	defer s.unlock()
	return len(s.orders)
}

// Outbox returns copies of all outbox events.
func (s *MemoryStore) Outbox() []repository.OutboxEvent {
	_ = s.lock(context.Background())
	defer s.unlock()
	out := make([]repository.OutboxEvent, len(s.outbox))
	for i, e := range s.outbox {
		out[i] = *e
	}
	return out
}

func (s *MemoryStore) BeginTx(ctx context.Context) (repository.Tx, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	return &memTx{s: s}, nil
}

func (s *MemoryStore) GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.OrderNotFound(orderID)
	}
	return o.Clone(), nil
}

func (s *MemoryStore) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.findByKey(userID, key)
}

func (s *MemoryStore) findByKey(userID int64, key string) (*domain.Order, error) {
	for _, o := range s.orders {
		if o.UserID == userID && key != "" && o.IdempotencyKey == key {
			return o.Clone(), nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "order for idempotency key", ID: userID}
}

func (s *MemoryStore) ListOrdersByUserID(ctx context.Context, userID int64) ([]*domain.Order, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	var out []*domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AttachInvoice(ctx context.Context, orderID int64, path string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.OrderNotFound(orderID)
	}
	o.InvoicePath = path
	o.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	var out []*repository.OutboxEvent
	for _, e := range s.outbox {
		if e.ProcessedAt == nil {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkEventAsProcessed(ctx context.Context, id int64) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	for _, e := range s.outbox {
		if e.ID == id {
			now := s.now()
			e.ProcessedAt = &now
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListOrdersMissingInvoice(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	var ids []int64
	for id, o := range s.orders {
		if o.InvoicePath == "" && o.Status != domain.OrderStatusCancelled && o.CreatedAt.Before(createdBefore) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStore) RunMigrations(*repository.Credentials) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// memTx records an undo action per mutation and replays them in reverse on rollback.
type memTx struct {
	s    *MemoryStore
	undo []func()
	done bool
}

func (t *memTx) check(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	return ctx.Err()
}

func (t *memTx) GetCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	var lines []domain.CartLine
	for _, item := range t.s.carts[userID] {
		line := domain.CartLine{ProductID: item.ProductID, Quantity: item.Quantity}
		// a removed product keeps its line so Reserve can report it
		if p, ok := t.s.products[item.ProductID]; ok {
			line.ProductName = p.Name
			line.UnitPrice = p.Price
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (t *memTx) ClearCart(ctx context.Context, userID int64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	previous, existed := t.s.carts[userID]
	delete(t.s.carts, userID)
	t.undo = append(t.undo, func() {
		if existed {
			t.s.carts[userID] = previous
		}
	})
	return nil
}

func (t *memTx) Reserve(ctx context.Context, productID int64, quantity int32) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return domain.ProductNotFound(productID)
	}
	if p.Stock < quantity {
		return &domain.OutOfStockError{
			ProductID:   productID,
			ProductName: p.Name,
			Requested:   quantity,
			Available:   p.Stock,
		}
	}
	p.Stock -= quantity
	t.undo = append(t.undo, func() { p.Stock += quantity })
	return nil
}

func (t *memTx) Release(ctx context.Context, productID int64, quantity int32) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return domain.ProductNotFound(productID)
	}
	p.Stock += quantity
	t.undo = append(t.undo, func() { p.Stock -= quantity })
	return nil
}

func (t *memTx) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.s.findByKey(userID, key)
}

func (t *memTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for _, o := range t.s.orders {
		if o.OrderNumber == order.OrderNumber {
			return repository.ErrDuplicateOrderNumber
		}
		if order.IdempotencyKey != "" && o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
			return repository.ErrDuplicateCheckout
		}
	}

	t.s.nextOrderID++
	order.ID = t.s.nextOrderID
	now := t.s.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Lines {
		t.s.nextLineID++
		order.Lines[i].ID = t.s.nextLineID
	}

	id := order.ID
	t.s.orders[id] = order.Clone()
	t.undo = append(t.undo, func() { delete(t.s.orders, id) })
	return nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, domain.OrderNotFound(orderID)
	}
	return o.Clone(), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, paymentStatus bool) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	o, ok := t.s.orders[orderID]
	if !ok {
		return domain.OrderNotFound(orderID)
	}
	prevStatus, prevPaid, prevUpdated := o.Status, o.PaymentStatus, o.UpdatedAt
	o.Status = status
	o.PaymentStatus = paymentStatus
	o.UpdatedAt = t.s.now()
	t.undo = append(t.undo, func() {
		o.Status, o.PaymentStatus, o.UpdatedAt = prevStatus, prevPaid, prevUpdated
	})
	return nil
}

func (t *memTx) AddOutboxEvent(ctx context.Context, event *repository.OutboxEvent) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if !json.Valid(event.Payload) {
		return errors.New("outbox payload is not valid JSON")
	}
	t.s.nextEventID++
	event.ID = t.s.nextEventID
	event.CreatedAt = t.s.now()
	cp := *event
	t.s.outbox = append(t.s.outbox, &cp)
	n := len(t.s.outbox)
	t.undo = append(t.undo, func() { t.s.outbox = t.s.outbox[:n-1] })
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.undo = nil
	t.s.unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.s.unlock()
	return nil
}
