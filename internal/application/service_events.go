package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

// HandleCanonicalEvent applies one payment.* envelope from the bus. An event
// is marked processed only after it was applied, so a failed apply is retried
// on redelivery.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	if !domain.IsCanonicalInputEvent(envelope.EventType) {
		return domain.ErrUnsupportedEventType
	}
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, envelope.EventID, s.nowFn())
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}
	var payload contracts.PaymentEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
	}
	payload.EventType = domain.PaymentTypeForEvent(envelope.EventType)
	if payload.OccurredAt == nil {
		occurredAt := envelope.OccurredAt
		payload.OccurredAt = &occurredAt
	}
	if _, err := s.HandlePayment(ctx, payload, envelope.TraceID); err != nil {
		return err
	}
	if s.eventDedup != nil {
		return s.eventDedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, s.nowFn().Add(s.cfg.EventDedupTTL))
	}
	return nil
}

// ledgerOutbox builds one outbox record per ledger entry and debt flag, so
// events commit in the same batch as the balances they describe.
func (s *Service) ledgerOutbox(plan ledgerPlan, traceID string, now time.Time) ([]ports.OutboxRecord, error) {
	if s.outbox == nil {
		return nil, nil
	}
	commissions := make(map[string]domain.Commission, len(plan.commissions))
	for _, c := range plan.commissions {
		commissions[c.CommissionID] = c
	}
	withdrawals := make(map[string]domain.Withdrawal, len(plan.withdrawals))
	for _, w := range plan.withdrawals {
		withdrawals[w.WithdrawalID] = w
	}
	out := make([]ports.OutboxRecord, 0, len(plan.entries)+len(plan.debtFlags))
	for _, e := range plan.entries {
		var data any
		switch {
		case e.CommissionID != "":
			data = commissionPayload(commissions[e.CommissionID], e)
		case e.WithdrawalID != "":
			data = withdrawalPayload(withdrawals[e.WithdrawalID], e)
		default:
			continue
		}
		rec, err := s.newOutboxRecord(domain.LedgerEventType(e.Kind), traceID, data, e.AffiliateID, now)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	for _, f := range plan.debtFlags {
		rec, err := s.newOutboxRecord(domain.EventDebtFlagged, traceID, contracts.DebtFlaggedPayload{
			AffiliateID:    f.AffiliateID,
			FlagID:         f.FlagID,
			CommissionID:   f.CommissionID,
			OrderID:        f.OrderID,
			Amount:         f.Amount.StringFixed(2),
			AvailableAfter: f.AvailableAfter.StringFixed(2),
			Reason:         f.Reason,
			FlaggedAt:      f.CreatedAt.UTC().Format(time.RFC3339),
		}, f.AffiliateID, now)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Service) newOutboxRecord(eventType, traceID string, data any, affiliateID string, now time.Time) (ports.OutboxRecord, error) {
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return ports.OutboxRecord{}, domain.ErrUnsupportedEventType
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ports.OutboxRecord{}, domain.ErrInvalidInput
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	env := contracts.EventEnvelope{EventID: uuid.NewString(), EventType: eventType, EventClass: domain.CanonicalEventClass(eventType), OccurredAt: now, PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType), PartitionKey: affiliateID, SourceService: s.cfg.ServiceName, TraceID: traceID, SchemaVersion: "v1", Data: b}
	return ports.OutboxRecord{RecordID: "obx_" + uuid.NewString(), EventClass: env.EventClass, Envelope: env, CreatedAt: now}, nil
}

// enqueueEvent writes an event outside of a ledger batch.
func (s *Service) enqueueEvent(ctx context.Context, eventType, traceID string, data any, affiliateID string, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	rec, err := s.newOutboxRecord(eventType, traceID, data, affiliateID, now)
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, rec)
}

func (s *Service) enqueueAttributionCaptured(ctx context.Context, binding domain.Attribution, now time.Time) error {
	return s.enqueueEvent(ctx, domain.EventAttributionCaptured, "", contracts.AttributionCapturedPayload{AffiliateID: binding.AffiliateID, VisitorToken: binding.VisitorToken, ReferralCode: binding.ReferralCode, CapturedAt: binding.CapturedAt.UTC().Format(time.RFC3339), ExpiresAt: binding.ExpiresAt.UTC().Format(time.RFC3339)}, binding.AffiliateID, now)
}

func commissionPayload(c domain.Commission, e domain.LedgerEntry) contracts.CommissionEventPayload {
	return contracts.CommissionEventPayload{
		AffiliateID:      e.AffiliateID,
		CommissionID:     e.CommissionID,
		OrderID:          c.OrderID,
		Plan:             c.Plan,
		Currency:         c.Currency,
		SaleAmount:       c.SaleAmount.StringFixed(2),
		CommissionRate:   c.CommissionRate.String(),
		CommissionAmount: e.Amount.StringFixed(2),
		Status:           c.Status,
		FromStatus:       e.FromStatus,
		MaturesAt:        c.MaturesAt.UTC().Format(time.RFC3339),
		AvailableAfter:   e.AvailableAfter.StringFixed(2),
		OccurredAt:       e.OccurredAt.UTC().Format(time.RFC3339),
	}
}

func withdrawalPayload(w domain.Withdrawal, e domain.LedgerEntry) contracts.WithdrawalEventPayload {
	return contracts.WithdrawalEventPayload{
		AffiliateID:    e.AffiliateID,
		WithdrawalID:   e.WithdrawalID,
		Amount:         e.Amount.StringFixed(2),
		Currency:       w.Currency,
		Status:         w.Status,
		PaymentMethod:  w.PaymentMethod,
		AvailableAfter: e.AvailableAfter.StringFixed(2),
		OccurredAt:     e.OccurredAt.UTC().Format(time.RFC3339),
	}
}

func validateEnvelope(event contracts.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.TraceID) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.PartitionKeyPath) == "" || strings.TrimSpace(event.PartitionKey) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 {
		return domain.ErrInvalidEnvelope
	}
	return nil
}
