package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

// ledgerPlan is what a builder wants written. Entry ids, amounts-after and the
// affiliate caches are filled in by applyLedger.
type ledgerPlan struct {
	entries     []domain.LedgerEntry
	commissions []domain.Commission
	withdrawals []domain.Withdrawal
	transitions []domain.StatusTransition
	debtFlags   []domain.DebtFlag
}

// ledgerBuilder runs under the affiliate lock against freshly loaded state and
// may run more than once when a commit loses an optimistic race. Returning
// domain.ErrDuplicateEvent means the work was already done.
type ledgerBuilder func(ctx context.Context, aff domain.Affiliate, now time.Time) (ledgerPlan, error)

// mutateLedger is the single write path for balances.
func (s *Service) mutateLedger(ctx context.Context, affiliateID, traceID string, build ledgerBuilder) (domain.Affiliate, error) {
	var out domain.Affiliate
	err := s.withAffiliateLock(ctx, affiliateID, func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt <= s.cfg.MaxConflictRetries; attempt++ {
			saved, err := s.applyLedger(ctx, affiliateID, traceID, build)
			if err == nil {
				out = saved
				return nil
			}
			if !isRetryableConflict(err) {
				return err
			}
			lastErr = err
			s.logger.WarnContext(ctx, "ledger commit lost optimistic race",
				"operation", "mutate_ledger",
				"outcome", "retry",
				"affiliate_id", affiliateID,
				"attempt", attempt+1,
			)
		}
		return lastErr
	})
	return out, err
}

func (s *Service) applyLedger(ctx context.Context, affiliateID, traceID string, build ledgerBuilder) (domain.Affiliate, error) {
	now := s.nowFn()
	aff, err := s.affiliates.GetByID(ctx, affiliateID)
	if err != nil {
		return domain.Affiliate{}, err
	}
	plan, err := build(ctx, aff, now)
	if err != nil {
		return aff, err
	}
	cached := aff.Balances()
	if !s.cfg.SkipProjection {
		entries, err := s.ledger.ListEntries(ctx, affiliateID)
		if err != nil {
			return aff, err
		}
		projected, err := domain.ProjectBalances(entries)
		if err != nil {
			s.reportInvariantViolation(ctx, err)
			return aff, err
		}
		if !projected.Equal(cached) {
			violation := &domain.InvariantViolationError{
				AffiliateID: affiliateID,
				Cached:      cached,
				Projected:   projected,
				Detail:      "cached balances differ from ledger projection",
			}
			if len(plan.entries) > 0 {
				violation.EventKey = plan.entries[0].EventKey
				violation.Kind = plan.entries[0].Kind
				violation.Amount = plan.entries[0].Amount.String()
			}
			s.reportInvariantViolation(ctx, violation)
			return aff, violation
		}
	}

	b := cached
	for i := range plan.entries {
		e := &plan.entries[i]
		e.EntryID = "led_" + uuid.NewString()
		e.AffiliateID = affiliateID
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		next, err := domain.ApplyEntry(b, *e)
		if err != nil {
			var violation *domain.InvariantViolationError
			if errors.As(err, &violation) {
				violation.Cached = cached
				violation.Projected = b
			}
			s.reportInvariantViolation(ctx, err)
			return aff, err
		}
		b = next
		e.AvailableAfter = b.Available()
	}

	for i := range plan.debtFlags {
		plan.debtFlags[i].AffiliateID = affiliateID
		plan.debtFlags[i].AvailableAfter = b.Available()
		if plan.debtFlags[i].CreatedAt.IsZero() {
			plan.debtFlags[i].CreatedAt = now
		}
	}
	updated := aff.WithBalances(b)
	updated.UpdatedAt = now
	outbox, err := s.ledgerOutbox(plan, traceID, now)
	if err != nil {
		return aff, err
	}
	return s.ledger.Commit(ctx, ports.LedgerBatch{
		Affiliate:       updated,
		ExpectedVersion: aff.Version,
		Entries:         plan.entries,
		Commissions:     plan.commissions,
		Withdrawals:     plan.withdrawals,
		Transitions:     plan.transitions,
		DebtFlags:       plan.debtFlags,
		Outbox:          outbox,
	})
}

func (s *Service) reportInvariantViolation(ctx context.Context, err error) {
	fields := []any{
		"operation", "ledger_apply",
		"outcome", "halted",
		"error", err,
	}
	var violation *domain.InvariantViolationError
	if errors.As(err, &violation) {
		fields = append(fields,
			"affiliate_id", violation.AffiliateID,
			"event_key", violation.EventKey,
			"kind", violation.Kind,
			"amount", violation.Amount,
			"cached", violation.Cached.String(),
			"projected", violation.Projected.String(),
			"detail", violation.Detail,
		)
	}
	s.logger.ErrorContext(ctx, "ledger invariant violation, manual reconciliation required", fields...)
}

// RunMaturationSweep confirms pending commissions whose maturation date has
// passed. Each commission is re-read under its affiliate's lock and its
// confirmation event key is unique, so overlapping or repeated sweeps confirm
// it exactly once.
func (s *Service) RunMaturationSweep(ctx context.Context) (SweepResult, error) {
	now := s.nowFn()
	due, err := s.commissions.ListDue(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Scanned: len(due)}
	byAffiliate := map[string][]string{}
	order := make([]string, 0)
	for _, c := range due {
		if _, ok := byAffiliate[c.AffiliateID]; !ok {
			order = append(order, c.AffiliateID)
		}
		byAffiliate[c.AffiliateID] = append(byAffiliate[c.AffiliateID], c.CommissionID)
	}
	var errs []error
	for _, affiliateID := range order {
		ids := byAffiliate[affiliateID]
		confirmed := 0
		_, err := s.mutateLedger(ctx, affiliateID, uuid.NewString(), func(ctx context.Context, _ domain.Affiliate, at time.Time) (ledgerPlan, error) {
			confirmed = 0
			var plan ledgerPlan
			for _, id := range ids {
				c, err := s.commissions.GetByID(ctx, id)
				if err != nil {
					return ledgerPlan{}, err
				}
				if !c.DueAt(now) {
					continue
				}
				confirmedAt := at
				c.Status = domain.CommissionStatusConfirmed
				c.ConfirmedAt = &confirmedAt
				c.UpdatedAt = at
				plan.commissions = append(plan.commissions, c)
				plan.entries = append(plan.entries, domain.LedgerEntry{
					Kind:         domain.LedgerCommissionConfirmed,
					EventKey:     domain.CommissionEventKey(domain.LedgerCommissionConfirmed, c.CommissionID),
					CommissionID: c.CommissionID,
					Amount:       c.CommissionAmount,
				})
				plan.transitions = append(plan.transitions, s.transition(domain.EntityCommission, c.CommissionID, affiliateID,
					domain.CommissionStatusPending, domain.CommissionStatusConfirmed, "matured", "system", at))
				confirmed++
			}
			if len(plan.entries) == 0 {
				return ledgerPlan{}, domain.ErrDuplicateEvent
			}
			return plan, nil
		})
		switch {
		case err == nil:
			res.Confirmed += confirmed
		case errors.Is(err, domain.ErrDuplicateEvent):
		default:
			res.Failed += len(ids)
			errs = append(errs, err)
			s.logger.ErrorContext(ctx, "maturation sweep failed for affiliate",
				"operation", "maturation_sweep",
				"outcome", "failure",
				"affiliate_id", affiliateID,
				"commissions", len(ids),
				"error", err,
			)
		}
	}
	s.logger.InfoContext(ctx, "maturation sweep completed",
		"operation", "maturation_sweep",
		"outcome", "success",
		"scanned", res.Scanned,
		"confirmed", res.Confirmed,
		"failed", res.Failed,
	)
	return res, errors.Join(errs...)
}

// TriggerMaturationSweep is the admin entry point for RunMaturationSweep.
func (s *Service) TriggerMaturationSweep(ctx context.Context, actor Actor) (SweepResult, error) {
	if err := requireAdmin(actor); err != nil {
		return SweepResult{}, err
	}
	return s.RunMaturationSweep(ctx)
}

// Reconcile rebuilds an affiliate's balances from the ledger and reports drift.
// Cached balances are only overwritten when apply is set, and the overwrite is
// audited; nothing here corrects a ledger on its own.
func (s *Service) Reconcile(ctx context.Context, actor Actor, affiliateID string, apply bool) (ReconciliationReport, error) {
	if err := requireAdmin(actor); err != nil {
		return ReconciliationReport{}, err
	}
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return ReconciliationReport{}, domain.ErrInvalidInput
	}
	var report ReconciliationReport
	err := s.withAffiliateLock(ctx, affiliateID, func(ctx context.Context) error {
		aff, err := s.affiliates.GetByID(ctx, affiliateID)
		if err != nil {
			return err
		}
		entries, err := s.ledger.ListEntries(ctx, affiliateID)
		if err != nil {
			return err
		}
		projected, err := domain.ProjectBalances(entries)
		if err != nil {
			s.reportInvariantViolation(ctx, err)
			return err
		}
		report = ReconciliationReport{
			AffiliateID: affiliateID,
			Cached:      aff.Balances(),
			Projected:   projected,
			Entries:     len(entries),
			Drift:       !projected.Equal(aff.Balances()),
		}
		if !report.Drift || !apply {
			return nil
		}
		fixed := aff.WithBalances(projected)
		fixed.UpdatedAt = s.nowFn()
		if _, err := s.ledger.OverwriteBalances(ctx, fixed, aff.Version); err != nil {
			return err
		}
		report.Applied = true
		s.appendAudit(ctx, affiliateID, "affiliate.balances.reconciled", actor.SubjectID, "manual reconciliation", map[string]string{
			"cached":    report.Cached.String(),
			"projected": report.Projected.String(),
		})
		return nil
	})
	return report, err
}

func (s *Service) transition(entityType, entityID, affiliateID, from, to, reason, actorID string, at time.Time) domain.StatusTransition {
	return domain.StatusTransition{
		TransitionID: "trn_" + uuid.NewString(),
		EntityType:   entityType,
		EntityID:     entityID,
		AffiliateID:  affiliateID,
		FromStatus:   from,
		ToStatus:     to,
		Reason:       reason,
		ActorID:      actorID,
		OccurredAt:   at,
	}
}

func (s *Service) withAffiliateLock(ctx context.Context, affiliateID string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	release, err := s.locker.Lock(ctx, affiliateID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func isRetryableConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict) &&
		!errors.Is(err, domain.ErrInvalidTransition) &&
		!errors.Is(err, domain.ErrIdempotencyConflict)
}
