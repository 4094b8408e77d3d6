package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

// RequestWithdrawal reserves funds from the caller's available balance. The
// Idempotency-Key makes client retries return the original withdrawal.
func (s *Service) RequestWithdrawal(ctx context.Context, actor Actor, in RequestWithdrawalInput) (domain.Withdrawal, error) {
	if err := requireActor(actor); err != nil {
		return domain.Withdrawal{}, err
	}
	if strings.TrimSpace(actor.IdempotencyKey) == "" {
		return domain.Withdrawal{}, domain.ErrIdempotencyRequired
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil {
		return domain.Withdrawal{}, domain.ErrInvalidInput
	}
	method := strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	if method == "" {
		return domain.Withdrawal{}, domain.ErrInvalidInput
	}
	aff, err := s.affiliates.GetByUserID(ctx, actor.SubjectID)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	requestHash := hashJSON(map[string]any{"op": "request_withdrawal", "user": actor.SubjectID, "amount": amount.StringFixed(2), "method": method, "details": in.PaymentDetails})
	return idempotent(ctx, s, idempotencyKey("request_withdrawal", actor), requestHash, 201, func() (domain.Withdrawal, error) {
		return s.RequestWithdrawalFor(ctx, aff.AffiliateID, amount, method, in.PaymentDetails, actor.RequestID)
	})
}

// RequestWithdrawalFor places a WithdrawalDebited reservation for an affiliate.
// The minimum is checked up front; the balance check runs under the lock
// against freshly loaded balances.
func (s *Service) RequestWithdrawalFor(ctx context.Context, affiliateID string, amount decimal.Decimal, method string, details map[string]string, traceID string) (domain.Withdrawal, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return domain.Withdrawal{}, domain.ErrInvalidInput
	}
	if amount.LessThan(s.cfg.MinimumWithdrawal) {
		return domain.Withdrawal{}, domain.ErrBelowMinimum
	}
	var w domain.Withdrawal
	_, err := s.mutateLedger(ctx, affiliateID, traceID, func(ctx context.Context, aff domain.Affiliate, now time.Time) (ledgerPlan, error) {
		if aff.Status != domain.AffiliateStatusActive {
			return ledgerPlan{}, domain.ErrAffiliateInactive
		}
		if err := domain.CheckWithdrawalAmount(amount, s.cfg.MinimumWithdrawal, aff.AvailableBalance); err != nil {
			return ledgerPlan{}, err
		}
		w = domain.Withdrawal{
			WithdrawalID:   "wd_" + uuid.NewString(),
			AffiliateID:    aff.AffiliateID,
			Amount:         amount,
			Currency:       s.cfg.Currency,
			PaymentMethod:  method,
			PaymentDetails: details,
			Status:         domain.WithdrawalStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return ledgerPlan{
			withdrawals: []domain.Withdrawal{w},
			entries: []domain.LedgerEntry{{
				Kind:         domain.LedgerWithdrawalDebited,
				EventKey:     domain.WithdrawalEventKey(domain.LedgerWithdrawalDebited, w.WithdrawalID),
				WithdrawalID: w.WithdrawalID,
				Amount:       amount,
			}},
			transitions: []domain.StatusTransition{
				s.transition(domain.EntityWithdrawal, w.WithdrawalID, aff.AffiliateID, "", domain.WithdrawalStatusPending, "requested", aff.UserID, now),
			},
		}, nil
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}
	s.logger.InfoContext(ctx, "withdrawal requested",
		"operation", "request_withdrawal",
		"outcome", "success",
		"affiliate_id", affiliateID,
		"withdrawal_id", w.WithdrawalID,
		"amount", amount.StringFixed(2),
	)
	return w, nil
}

// ProcessWithdrawal moves a pending withdrawal to processing. Funds stay reserved.
func (s *Service) ProcessWithdrawal(ctx context.Context, actor Actor, withdrawalID string) (domain.Withdrawal, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Withdrawal{}, err
	}
	return s.resolveWithdrawal(ctx, actor, strings.TrimSpace(withdrawalID), domain.WithdrawalStatusProcessing, "")
}

// ResolveWithdrawal completes or rejects a withdrawal. Rejection releases the
// reservation; completion moves it into withdrawn and marks the covered
// commissions paid. Repeating the same resolution returns the earlier result.
func (s *Service) ResolveWithdrawal(ctx context.Context, actor Actor, in ResolveWithdrawalInput) (domain.Withdrawal, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Withdrawal{}, err
	}
	outcome, err := domain.NormalizeWithdrawalOutcome(in.Outcome)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	return s.resolveWithdrawal(ctx, actor, strings.TrimSpace(in.WithdrawalID), outcome, strings.TrimSpace(in.Note))
}

func (s *Service) resolveWithdrawal(ctx context.Context, actor Actor, withdrawalID, to, note string) (domain.Withdrawal, error) {
	if withdrawalID == "" {
		return domain.Withdrawal{}, domain.ErrInvalidInput
	}
	w, err := s.withdrawals.GetByID(ctx, withdrawalID)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if w.Status == to {
		return w, nil
	}
	if !domain.CanTransition(w.Status, to) {
		return domain.Withdrawal{}, domain.ErrInvalidTransition
	}

	var out domain.Withdrawal
	_, err = s.mutateLedger(ctx, w.AffiliateID, actor.RequestID, func(ctx context.Context, aff domain.Affiliate, now time.Time) (ledgerPlan, error) {
		cur, err := s.withdrawals.GetByID(ctx, withdrawalID)
		if err != nil {
			return ledgerPlan{}, err
		}
		if cur.Status == to {
			out = cur
			return ledgerPlan{}, domain.ErrDuplicateEvent
		}
		if !domain.CanTransition(cur.Status, to) {
			return ledgerPlan{}, domain.ErrInvalidTransition
		}
		from := cur.Status
		cur.Status = to
		cur.UpdatedAt = now
		if to == domain.WithdrawalStatusProcessing {
			processingAt := now
			cur.ProcessingAt = &processingAt
		} else {
			resolvedAt := now
			cur.ResolvedAt = &resolvedAt
			cur.ResolvedBy = actor.SubjectID
			cur.ResolutionNote = note
		}
		plan := ledgerPlan{
			withdrawals: []domain.Withdrawal{cur},
			transitions: []domain.StatusTransition{
				s.transition(domain.EntityWithdrawal, cur.WithdrawalID, aff.AffiliateID, from, to, note, actor.SubjectID, now),
			},
		}
		switch to {
		case domain.WithdrawalStatusRejected:
			plan.entries = append(plan.entries, domain.LedgerEntry{
				Kind:         domain.LedgerWithdrawalReversed,
				EventKey:     domain.WithdrawalEventKey(domain.LedgerWithdrawalReversed, cur.WithdrawalID),
				WithdrawalID: cur.WithdrawalID,
				Amount:       cur.Amount,
			})
		case domain.WithdrawalStatusCompleted:
			plan.entries = append(plan.entries, domain.LedgerEntry{
				Kind:         domain.LedgerWithdrawalCompleted,
				EventKey:     domain.WithdrawalEventKey(domain.LedgerWithdrawalCompleted, cur.WithdrawalID),
				WithdrawalID: cur.WithdrawalID,
				Amount:       cur.Amount,
			})
			paid, err := s.allocatePaid(ctx, aff, cur, now)
			if err != nil {
				return ledgerPlan{}, err
			}
			for _, c := range paid {
				plan.commissions = append(plan.commissions, c)
				plan.transitions = append(plan.transitions, s.transition(domain.EntityCommission, c.CommissionID, aff.AffiliateID,
					domain.CommissionStatusConfirmed, domain.CommissionStatusPaid, "withdrawal:"+cur.WithdrawalID, actor.SubjectID, now))
			}
		}
		out = cur
		return plan, nil
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		return out, nil
	}
	if err != nil {
		return domain.Withdrawal{}, err
	}
	s.appendAudit(ctx, out.AffiliateID, "affiliate.withdrawal."+to, actor.SubjectID, note, map[string]string{"withdrawal_id": out.WithdrawalID, "amount": out.Amount.StringFixed(2)})
	return out, nil
}

// allocatePaid marks confirmed commissions paid while the affiliate's total
// withdrawn amount, after this withdrawal, exceeds what was already paid out.
func (s *Service) allocatePaid(ctx context.Context, aff domain.Affiliate, w domain.Withdrawal, now time.Time) ([]domain.Commission, error) {
	paidOut, err := s.commissions.SumPaidOut(ctx, aff.AffiliateID)
	if err != nil {
		return nil, err
	}
	coverage := aff.WithdrawnBalance.Add(w.Amount).Sub(paidOut)
	if !coverage.IsPositive() {
		return nil, nil
	}
	confirmed, err := s.commissions.ListByStatus(ctx, aff.AffiliateID, domain.CommissionStatusConfirmed)
	if err != nil {
		return nil, err
	}
	allocated := domain.AllocatePaid(confirmed, coverage)
	for i := range allocated {
		paidAt := now
		allocated[i].Status = domain.CommissionStatusPaid
		allocated[i].PaidAt = &paidAt
		allocated[i].UpdatedAt = now
	}
	return allocated, nil
}
