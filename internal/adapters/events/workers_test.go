package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func outboxRecord(id, eventType, affiliateID string) ports.OutboxRecord {
	return ports.OutboxRecord{
		RecordID:   id,
		EventClass: domain.CanonicalEventClass(eventType),
		Envelope: contracts.EventEnvelope{
			EventID:          "evt_" + id,
			EventType:        eventType,
			OccurredAt:       time.Now().UTC(),
			PartitionKeyPath: "data.affiliate_id",
			PartitionKey:     affiliateID,
			SourceService:    "M89-Affiliate-Ledger",
			TraceID:          "trace-" + id,
			SchemaVersion:    "v1",
			Data:             json.RawMessage(`{"affiliate_id":"` + affiliateID + `"}`),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestOutboxWorkerPublishesInOrderWithPartitionKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repos := memory.NewRepositories()
	bus := NewMemoryBus()
	for _, rec := range []ports.OutboxRecord{
		outboxRecord("1", domain.EventCommissionCreated, "aff_1"),
		outboxRecord("2", domain.EventCommissionConfirmed, "aff_1"),
	} {
		if err := repos.Outbox.Enqueue(ctx, rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	w := NewOutboxWorker(discardLogger(), repos.Outbox, bus, bus, OutboxWorkerConfig{BatchSize: 10})
	sent, err := w.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected 2 sent, got %d", sent)
	}
	msgs := bus.Pending()
	if len(msgs) != 2 || msgs[0].Topic != domain.EventCommissionCreated || msgs[1].Topic != domain.EventCommissionConfirmed {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if string(msgs[0].Key) != "aff_1" {
		t.Fatalf("expected partition key aff_1, got %q", msgs[0].Key)
	}
	for _, rec := range repos.Outbox.Records() {
		if rec.SentAt == nil {
			t.Fatalf("record %s not marked sent", rec.RecordID)
		}
	}
	if sent, _ := w.ProcessOnce(ctx); sent != 0 {
		t.Fatalf("expected nothing left to send, got %d", sent)
	}
}

func TestOutboxWorkerDeadLettersAfterMaxRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repos := memory.NewRepositories()
	bus := NewMemoryBus()
	bus.FailPublish(domain.EventDebtFlagged, errors.New("broker unavailable"))
	if err := repos.Outbox.Enqueue(ctx, outboxRecord("1", domain.EventDebtFlagged, "aff_9")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w := NewOutboxWorker(discardLogger(), repos.Outbox, bus, bus, OutboxWorkerConfig{MaxRetries: 2})

	if _, err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	rec := repos.Outbox.Records()[0]
	if rec.RetryCount != 1 || rec.DeadLetteredAt != nil {
		t.Fatalf("expected one retry recorded, got %+v", rec)
	}
	if _, err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	rec = repos.Outbox.Records()[0]
	if rec.DeadLetteredAt == nil {
		t.Fatalf("expected record dead-lettered")
	}
	dlq := bus.DeadLetters()
	if len(dlq) != 1 || dlq[0].OriginalEvent.EventID != "evt_1" || dlq[0].RetryCount != 2 {
		t.Fatalf("unexpected dlq records: %+v", dlq)
	}
	if _, err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if len(bus.DeadLetters()) != 1 {
		t.Fatalf("dead-lettered record must not be claimed again")
	}
}

type fakeHandler struct {
	mu    sync.Mutex
	calls int
	errs  []error
	seen  []contracts.EventEnvelope
}

func (h *fakeHandler) HandleCanonicalEvent(_ context.Context, envelope contracts.EventEnvelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.seen = append(h.seen, envelope)
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

func paymentMessage(t *testing.T, topic, eventID string) Message {
	t.Helper()
	raw, err := json.Marshal(contracts.EventEnvelope{
		EventID:    eventID,
		EventType:  topic,
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"order_id":"ord_1"}`),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return Message{Topic: topic, Payload: raw}
}

type staticConsumer struct{ msgs []Message }

func (c *staticConsumer) Poll(_ context.Context, _ int) ([]Message, error) {
	out := c.msgs
	c.msgs = nil
	return out, nil
}

func TestConsumerWorkerRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	bus := NewMemoryBus()
	handler := &fakeHandler{errs: []error{domain.ErrConflict}}
	consumer := &staticConsumer{msgs: []Message{paymentMessage(t, domain.EventPaymentSucceeded, "evt_1")}}
	w := NewConsumerWorker(discardLogger(), consumer, handler, bus, time.Second)
	w.backoff = time.Millisecond

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if handler.calls != 2 {
		t.Fatalf("expected retry after conflict, got %d calls", handler.calls)
	}
	if len(bus.DeadLetters()) != 0 {
		t.Fatalf("expected no dead letters")
	}
}

func TestConsumerWorkerDeadLettersPermanentFailures(t *testing.T) {
	t.Parallel()
	bus := NewMemoryBus()
	handler := &fakeHandler{errs: []error{domain.ErrInvalidEnvelope}}
	consumer := &staticConsumer{msgs: []Message{
		paymentMessage(t, domain.EventPaymentRefunded, "evt_bad"),
		{Topic: domain.EventPaymentChargeback, Payload: []byte("{not json")},
		paymentMessage(t, "user.registered", "evt_other"),
	}}
	w := NewConsumerWorker(discardLogger(), consumer, handler, bus, time.Second)
	w.backoff = time.Millisecond

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if handler.calls != 1 {
		t.Fatalf("permanent errors must not be retried and foreign topics skipped, got %d calls", handler.calls)
	}
	dlq := bus.DeadLetters()
	if len(dlq) != 2 {
		t.Fatalf("expected 2 dead letters, got %d", len(dlq))
	}
	if dlq[0].OriginalEvent.EventID != "evt_bad" || dlq[0].SourceTopic != domain.EventPaymentRefunded {
		t.Fatalf("unexpected first dead letter: %+v", dlq[0])
	}
	if dlq[1].SourceTopic != domain.EventPaymentChargeback {
		t.Fatalf("unexpected second dead letter: %+v", dlq[1])
	}
}

func TestConsumerWorkerFillsEventTypeFromTopic(t *testing.T) {
	t.Parallel()
	raw, _ := json.Marshal(contracts.EventEnvelope{EventID: "evt_2", Data: json.RawMessage(`{}`)})
	handler := &fakeHandler{}
	consumer := &staticConsumer{msgs: []Message{{Topic: domain.EventPaymentSucceeded, Payload: raw}}}
	w := NewConsumerWorker(discardLogger(), consumer, handler, nil, time.Second)
	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(handler.seen) != 1 || handler.seen[0].EventType != domain.EventPaymentSucceeded {
		t.Fatalf("expected event type from topic, got %+v", handler.seen)
	}
}
