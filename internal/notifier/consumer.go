package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/wa-commerce/internal/domain"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type TenantResolver interface {
	ByTenantID(ctx context.Context, tenantID string) (*domain.TenantConfig, error)
}

type SMSSender interface {
	Send(ctx context.Context, cfg *domain.SMSConfig, phone, body string) (string, error)
}

// Consumer turns order.paid events into SMS notifications for the customer
// and the merchant. Other order events are skipped.
type Consumer struct {
	reader  messageReader
	tenants TenantResolver
	sms     SMSSender
	logger  *slog.Logger
}

func NewConsumer(tenants TenantResolver, sms SMSSender, topic, groupID string, logger *slog.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, tenants: tenants, sms: sms, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("error closing kafka reader", "error", err)
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("error reading message", "error", err)
		return
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.logger.Error("error parsing order event", "offset", m.Offset, "error", err)
		return
	}
	if event.Type != domain.OrderEventPaid {
		return
	}

	if err := c.notify(ctx, event); err != nil {
		c.logger.Error("order notification failed", "order_id", event.OrderID, "tenant_id", event.TenantID, "error", err)
	}
}

// notify sends the customer confirmation and, when the tenant has a business
// phone, the merchant alert. Both are attempted even if the first fails.
func (c *Consumer) notify(ctx context.Context, event domain.OrderEvent) error {
	tenant, err := c.tenants.ByTenantID(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant: %w", err)
	}

	var errs []error
	if _, err := c.sms.Send(ctx, tenant.SMS, event.PhoneNumber, customerText(event, tenant.BusinessName)); err != nil {
		errs = append(errs, fmt.Errorf("customer sms: %w", err))
	}
	if tenant.BusinessPhone != "" {
		if _, err := c.sms.Send(ctx, tenant.SMS, tenant.BusinessPhone, businessText(event)); err != nil {
			errs = append(errs, fmt.Errorf("business sms: %w", err))
		}
	}
	return errors.Join(errs...)
}

func customerText(e domain.OrderEvent, businessName string) string {
	return fmt.Sprintf("Order %s confirmed! Amount: %s. Thank you for shopping with %s!",
		e.OrderID, domain.FormatAmount(e.TotalMinor, e.Currency), businessName)
}

func businessText(e domain.OrderEvent) string {
	name := e.CustomerName
	if name == "" {
		name = e.PhoneNumber
	}
	return fmt.Sprintf("NEW ORDER! ID: %s, Customer: %s, Amount: %s, Items: %d",
		e.OrderID, name, domain.FormatAmount(e.TotalMinor, e.Currency), e.ItemCount)
}
