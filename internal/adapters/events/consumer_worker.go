package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

type EnvelopeHandler interface {
	HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error
}

// ConsumerWorker feeds payment.* envelopes into the ledger. Offsets are
// committed on read, so a message that still fails after MaxAttempts is
// dead-lettered instead of being dropped.
type ConsumerWorker struct {
	logger      *slog.Logger
	consumer    Consumer
	handler     EnvelopeHandler
	dlq         ports.DLQPublisher
	interval    time.Duration
	maxAttempts int
	backoff     time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler EnvelopeHandler, dlq ports.DLQPublisher, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger:      logger.With("module", "events.consumer_worker", "layer", "adapter"),
		consumer:    consumer,
		handler:     handler,
		dlq:         dlq,
		interval:    interval,
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
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

func (w *ConsumerWorker) ProcessOnce(ctx context.Context) error {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if !domain.IsCanonicalInputEvent(msg.Topic) {
			continue
		}
		w.handle(ctx, msg)
	}
	return nil
}

func (w *ConsumerWorker) handle(ctx context.Context, msg Message) {
	firstSeen := time.Now().UTC()
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		w.deadLetter(ctx, msg, envelope, fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err), 1, firstSeen)
		return
	}
	if envelope.EventType == "" {
		envelope.EventType = msg.Topic
	}
	var err error
	attempt := 0
	for attempt < w.maxAttempts {
		attempt++
		err = w.handler.HandleCanonicalEvent(ctx, envelope)
		if err == nil || permanent(err) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.backoff * time.Duration(attempt)):
		}
	}
	if err == nil {
		return
	}
	w.deadLetter(ctx, msg, envelope, err, attempt, firstSeen)
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidEnvelope) ||
		errors.Is(err, domain.ErrUnsupportedEventType) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvariantViolation)
}

func (w *ConsumerWorker) deadLetter(ctx context.Context, msg Message, envelope contracts.EventEnvelope, cause error, attempts int, firstSeen time.Time) {
	w.logger.ErrorContext(ctx, "payment event handling failed",
		"operation", "handle_event",
		"outcome", "failure",
		"topic", msg.Topic,
		"event_id", envelope.EventID,
		"attempts", attempts,
		"error", cause,
	)
	if w.dlq == nil {
		return
	}
	if err := w.dlq.PublishDLQ(ctx, contracts.DLQRecord{
		OriginalEvent: envelope,
		ErrorSummary:  cause.Error(),
		RetryCount:    attempts,
		FirstSeenAt:   firstSeen,
		LastErrorAt:   time.Now().UTC(),
		SourceTopic:   msg.Topic,
		TraceID:       envelope.TraceID,
	}); err != nil {
		w.logger.ErrorContext(ctx, "dlq publish failed", "operation", "publish_dlq", "outcome", "failure", "error", err)
	}
}
