package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/wa-commerce/internal/metrics"
	"github.com/fjod/wa-commerce/internal/repository"
)

const batchSize = 100

// messageWriter is the part of *kafka.Writer the poller uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller publishes unprocessed outbox events to Kafka in creation order
// and marks each one processed after a successful write. Delivery is at least once.
type OutboxPoller struct {
	eventTick time.Duration
	repo      repository.OutboxRepository
	writer    messageWriter
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewOutboxPoller(repo repository.OutboxRepository, topic string, logger *slog.Logger, m *metrics.Metrics, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &OutboxPoller{
		eventTick: time.Second,
		repo:      repo,
		writer:    w,
		logger:    logger,
		metrics:   m,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processUnpublishedEvents returns how many events were published.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.logger.Error("failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			p.metrics.OutboxPublished.WithLabelValues("error").Inc()
			p.logger.Error("failed to publish event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			// Later events for the same order must not overtake this one.
			return published
		}
		p.metrics.OutboxPublished.WithLabelValues("ok").Inc()
		published++

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
			continue
		}
		p.logger.Debug("event published", "event_id", event.ID, "event_type", event.EventType, "order_id", event.AggregateID)
	}
	return published
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps one order's events on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.CreatedAt,
	}
	return p.writer.WriteMessages(ctx, msg)
}
