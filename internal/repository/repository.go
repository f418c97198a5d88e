package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

var (
	ErrDuplicateCheckout    = errors.New("order for this idempotency key already exists")
	ErrDuplicateOrderNumber = errors.New("order number already taken")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Store is the persistence boundary of the checkout engine. Mutations that
// must be atomic go through a Tx obtained from BeginTx.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID int64) ([]*domain.Order, error)
	AttachInvoice(ctx context.Context, orderID int64, path string) error
}

// Tx is one unit of work. Rollback after Commit is a no-op, so callers defer it.
type Tx interface {
	GetCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error)
	ClearCart(ctx context.Context, userID int64) error

	Reserve(ctx context.Context, productID int64, quantity int32) error
	Release(ctx context.Context, productID int64, quantity int32) error

	FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderForUpdate(ctx context.Context, orderID int64) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, paymentStatus bool) error

	AddOutboxEvent(ctx context.Context, event *OutboxEvent) error

	Commit() error
	Rollback() error
}

// OutboxRepository is what the outbox poller needs.
type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	ListOrdersMissingInvoice(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error)
}

type RepoInterface interface {
	Store
	OutboxRepository
	Close() error
	RunMigrations(*Credentials) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "checkout_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
