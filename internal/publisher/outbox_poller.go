package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_cart/checkout-engine/internal/metrics"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	Topic = "order-events"

	batchSize = 100
	// orders younger than this are still inside the checkout's own invoice attempt
	invoiceGrace = time.Minute
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type InvoiceIssuer interface {
	IssueInvoice(ctx context.Context, orderID int64) (string, error)
}

// OutboxPoller relays committed outbox events to Kafka and re-issues invoices
// for orders whose post-commit invoice attempt failed.
type OutboxPoller struct {
	timeout      time.Duration
	eventTick    time.Duration
	recoveryTick time.Duration
	repo         repository.OutboxRepository
	writer       MessageWriter
	invoices     InvoiceIssuer
	metrics      *metrics.Metrics
	log          zerolog.Logger
	now          func() time.Time
}

func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo repository.OutboxRepository, writer MessageWriter, invoices InvoiceIssuer, m *metrics.Metrics, log zerolog.Logger) *OutboxPoller {
	return &OutboxPoller{
		timeout:      5 * time.Second,
		eventTick:    time.Second,
		recoveryTick: 30 * time.Second,
		repo:         repo,
		writer:       writer,
		invoices:     invoices,
		metrics:      m,
		log:          log.With().Str("component", "outbox-poller").Logger(),
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverMissingInvoices(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	if p.writer == nil {
		return
	}
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch outbox events")
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.metrics.OutboxResult("publish_failed")
			p.log.Warn().Err(err).Int64("event_id", event.ID).Msg("failed to publish outbox event")
			// keep per-aggregate ordering: later events wait for this one
			return
		}
		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.metrics.OutboxResult("mark_failed")
			p.log.Warn().Err(err).Int64("event_id", event.ID).Msg("failed to mark outbox event as processed")
			continue
		}
		p.metrics.OutboxResult("published")
	}
}

func (p *OutboxPoller) recoverMissingInvoices(ctx context.Context) {
	if p.invoices == nil {
		return
	}
	ids, err := p.repo.ListOrdersMissingInvoice(ctx, p.now().Add(-invoiceGrace), batchSize)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to list orders missing an invoice")
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		path, err := p.invoices.IssueInvoice(ctx, id)
		if err != nil {
			p.log.Warn().Err(err).Int64("order_id", id).Msg("invoice recovery failed")
			continue
		}
		p.log.Info().Int64("order_id", id).Str("path", path).Msg("invoice recovered")
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps one order's events on one partition
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(wctx, msg)
}
