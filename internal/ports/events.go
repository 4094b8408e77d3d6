package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
)

type OutboxRecord struct {
	RecordID       string
	EventClass     string
	Envelope       contracts.EventEnvelope
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	SentAt         *time.Time
	DeadLetteredAt *time.Time
}

// EventPublisher writes one serialized envelope to the bus, keyed for partitioning.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record contracts.DLQRecord) error
}
