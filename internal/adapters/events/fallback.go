package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
)

type NoopConsumer struct{}

func NewNoopConsumer() *NoopConsumer {
	return &NoopConsumer{}
}

func (n *NoopConsumer) Poll(_ context.Context, _ int) ([]Message, error) {
	return nil, nil
}

// LoggingPublisher stands in for Kafka when no brokers are configured.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "event published",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "success",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}

func (p *LoggingPublisher) PublishDLQ(ctx context.Context, record contracts.DLQRecord) error {
	p.logger.ErrorContext(ctx, "event dead-lettered",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish_dlq",
		"outcome", "failure",
		"event_id", record.OriginalEvent.EventID,
		"event_type", record.OriginalEvent.EventType,
		"retry_count", record.RetryCount,
		"error", record.ErrorSummary,
	)
	return nil
}

// MemoryBus is an in-process consumer and publisher. Published messages become
// pollable, which lets tests run the outbox and consumer workers end to end.
type MemoryBus struct {
	mu       sync.Mutex
	queue    []Message
	dlq      []contracts.DLQRecord
	failures map[string]error
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{failures: map[string]error{}}
}

func (b *MemoryBus) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[eventType]; err != nil {
		return err
	}
	b.queue = append(b.queue, Message{Topic: eventType, Key: []byte(partitionKey), Payload: append([]byte(nil), payload...)})
	return nil
}

func (b *MemoryBus) PublishDLQ(_ context.Context, record contracts.DLQRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dlq = append(b.dlq, record)
	return nil
}

func (b *MemoryBus) Poll(_ context.Context, max int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max <= 0 || max > len(b.queue) {
		max = len(b.queue)
	}
	out := append([]Message(nil), b.queue[:max]...)
	b.queue = b.queue[max:]
	return out, nil
}

// FailPublish makes every Publish of eventType return err until cleared with nil.
func (b *MemoryBus) FailPublish(eventType string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, eventType)
		return
	}
	b.failures[eventType] = err
}

func (b *MemoryBus) Pending() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.queue...)
}

func (b *MemoryBus) DeadLetters() []contracts.DLQRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]contracts.DLQRecord(nil), b.dlq...)
}
