package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

type OutboxWorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	ClaimTTL   time.Duration
}

// OutboxWorker relays committed ledger events to the bus. A record that keeps
// failing is dead-lettered after MaxRetries attempts.
type OutboxWorker struct {
	logger    *slog.Logger
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	dlq       ports.DLQPublisher
	cfg       OutboxWorkerConfig
	nowFn     func() time.Time
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, dlq ports.DLQPublisher, cfg OutboxWorkerConfig) *OutboxWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	return &OutboxWorker{
		logger:    logger.With("module", "events.outbox_worker", "layer", "adapter"),
		outbox:    outbox,
		publisher: publisher,
		dlq:       dlq,
		cfg:       cfg,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce relays one claimed batch and returns how many records were sent.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	token := uuid.NewString()
	records, err := w.outbox.ClaimPending(ctx, w.cfg.BatchSize, token, w.nowFn().Add(w.cfg.ClaimTTL))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range records {
		if err := w.publish(ctx, rec); err != nil {
			w.fail(ctx, rec, token, err)
			continue
		}
		if err := w.outbox.MarkSent(ctx, rec.RecordID, token, w.nowFn()); err != nil {
			w.logger.WarnContext(ctx, "outbox mark sent failed",
				"operation", "mark_sent",
				"outcome", "failure",
				"record_id", rec.RecordID,
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent, nil
}

func (w *OutboxWorker) publish(ctx context.Context, rec ports.OutboxRecord) error {
	payload, err := json.Marshal(rec.Envelope)
	if err != nil {
		return err
	}
	return w.publisher.Publish(ctx, rec.Envelope.EventType, payload, rec.Envelope.PartitionKey)
}

func (w *OutboxWorker) fail(ctx context.Context, rec ports.OutboxRecord, token string, cause error) {
	now := w.nowFn()
	attempts := rec.RetryCount + 1
	if attempts < w.cfg.MaxRetries || w.dlq == nil {
		if err := w.outbox.MarkFailed(ctx, rec.RecordID, token, cause.Error(), now); err != nil {
			w.logger.WarnContext(ctx, "outbox mark failed failed", "record_id", rec.RecordID, "error", err)
		}
		w.logger.WarnContext(ctx, "outbox publish failed",
			"operation", "publish",
			"outcome", "retry",
			"record_id", rec.RecordID,
			"event_type", rec.Envelope.EventType,
			"retry_count", attempts,
			"error", cause,
		)
		return
	}
	dlqErr := w.dlq.PublishDLQ(ctx, contracts.DLQRecord{
		OriginalEvent: rec.Envelope,
		ErrorSummary:  cause.Error(),
		RetryCount:    attempts,
		FirstSeenAt:   rec.CreatedAt,
		LastErrorAt:   now,
		TraceID:       rec.Envelope.TraceID,
	})
	if dlqErr != nil {
		_ = w.outbox.MarkFailed(ctx, rec.RecordID, token, dlqErr.Error(), now)
		return
	}
	if err := w.outbox.MarkDeadLettered(ctx, rec.RecordID, token, cause.Error(), now); err != nil {
		w.logger.WarnContext(ctx, "outbox mark dead-lettered failed", "record_id", rec.RecordID, "error", err)
		return
	}
	w.logger.ErrorContext(ctx, "outbox record dead-lettered",
		"operation", "publish",
		"outcome", "dead_lettered",
		"record_id", rec.RecordID,
		"event_type", rec.Envelope.EventType,
		"retry_count", attempts,
		"error", cause,
	)
}
