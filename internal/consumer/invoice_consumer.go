package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/checkout-engine/internal/publisher"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const GroupID = "invoice-worker"

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type orderCreatedEvent struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// InvoiceConsumer issues invoices for order.created events. Failed attempts are
// committed anyway; the outbox poller's recovery pass picks those orders up.
//
// An event is handled no earlier than delay after the order was created, so the
// checkout's own invoice attempt has finished and IssueInvoice finds the path.
type InvoiceConsumer struct {
	reader   MessageReader
	invoices publisher.InvoiceIssuer
	delay    time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewKafkaReader(brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    publisher.Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
}

func NewInvoiceConsumer(reader MessageReader, invoices publisher.InvoiceIssuer, delay time.Duration, log zerolog.Logger) *InvoiceConsumer {
	return &InvoiceConsumer{
		reader:   reader,
		invoices: invoices,
		delay:    delay,
		log:      log.With().Str("component", "invoice-consumer").Logger(),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (c *InvoiceConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *InvoiceConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn().Err(err).Msg("error closing kafka reader")
	}
}

func (c *InvoiceConsumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.Warn().Err(err).Msg("error reading message")
		// avoid a hot loop while the broker is unreachable
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	err = c.handle(ctx, m)
	if ctx.Err() != nil {
		// left uncommitted so the event is redelivered after restart
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Int64("offset", m.Offset).Int("partition", m.Partition).Msg("invoice event not handled")
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn().Err(err).Int64("offset", m.Offset).Msg("failed to commit message")
	}
}

func (c *InvoiceConsumer) handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != repository.EventOrderCreated {
		return nil
	}

	var event orderCreatedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("parse order event: %w", err)
	}
	if event.OrderID <= 0 {
		return fmt.Errorf("order event without order_id")
	}

	created := event.OccurredAt
	if created.IsZero() {
		created = m.Time
	}
	if wait := created.Add(c.delay).Sub(c.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	path, err := c.invoices.IssueInvoice(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("issue invoice for order %d: %w", event.OrderID, err)
	}
	c.log.Debug().Int64("order_id", event.OrderID).Str("path", path).Msg("invoice ensured")
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
