package service

import (
	"context"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/cache"
	"github.com/fjod/go_cart/checkout-engine/internal/metrics"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/fjod/go_cart/checkout-engine/pkg/circuitbreaker"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const defaultInvoiceTimeout = 10 * time.Second

type OrderService interface {
	Checkout(ctx context.Context, request *domain.CheckoutRequest) (*domain.CheckoutResponse, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error)
	GetOrders(ctx context.Context, userID int64) ([]*domain.Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error)
}

// InvoiceIssuer is implemented by the service and used by the outbox poller and the invoice consumer.
type InvoiceIssuer interface {
	IssueInvoice(ctx context.Context, orderID int64) (string, error)
}

type InvoiceGenerator interface {
	Generate(ctx context.Context, order *domain.Order) (string, error)
}

type CheckoutServiceImpl struct {
	store    repository.Store
	invoices InvoiceGenerator
	cache    cache.OrderCache
	metrics  *metrics.Metrics
	log      zerolog.Logger
	tracer   trace.Tracer

	breaker        *circuitbreaker.Breaker[string]
	invoiceTimeout time.Duration

	sfg         singleflight.Group // collapses concurrent order-list cache misses
	orderNumber func(userID int64) string
}

// NewCheckoutService wires the orchestrators. invoices, orderCache and m may be nil.
func NewCheckoutService(
	store repository.Store,
	invoices InvoiceGenerator,
	orderCache cache.OrderCache,
	m *metrics.Metrics,
	log zerolog.Logger,
	invoiceTimeout time.Duration,
) *CheckoutServiceImpl {
	if invoiceTimeout <= 0 {
		invoiceTimeout = defaultInvoiceTimeout
	}
	s := &CheckoutServiceImpl{
		store:          store,
		invoices:       invoices,
		cache:          orderCache,
		metrics:        m,
		log:            log.With().Str("component", "checkout").Logger(),
		tracer:         otel.Tracer("github.com/fjod/go_cart/checkout-engine/internal/service"),
		invoiceTimeout: invoiceTimeout,
		orderNumber:    newOrderNumber,
	}

	settings := circuitbreaker.DefaultSettings("invoice-generator")
	settings.OnStateChange = func(name, from, to string) {
		s.log.Warn().Str("breaker", name).Str("from", from).Str("to", to).Msg("circuit breaker state changed")
	}
	s.breaker = circuitbreaker.New[string](settings)
	return s
}
