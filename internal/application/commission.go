package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

var errCommissionSkipped = errors.New("commission skipped")

// HandlePayment dispatches one payment processor callback. Unattributable
// payments are not errors: they come back as a skipped outcome with a reason.
func (s *Service) HandlePayment(ctx context.Context, payload contracts.PaymentEventPayload, traceID string) (PaymentOutcome, error) {
	eventType := strings.ToLower(strings.TrimSpace(payload.EventType))
	out := PaymentOutcome{EventType: eventType}
	switch eventType {
	case domain.PaymentTypeSucceeded:
		res, err := s.handlePaymentSucceeded(ctx, payload, traceID)
		if err != nil {
			return out, err
		}
		out.Commission = &res
	case domain.PaymentTypeRefunded, domain.PaymentTypeChargeback:
		res, err := s.OnPaymentReversed(ctx, payload.OrderID, eventType, traceID)
		if err != nil {
			return out, err
		}
		out.Cancellation = &res
	default:
		return out, fmt.Errorf("%w: %q", domain.ErrUnsupportedEventType, payload.EventType)
	}
	return out, nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, payload contracts.PaymentEventPayload, traceID string) (CommissionResult, error) {
	orderID := strings.TrimSpace(payload.OrderID)
	if orderID == "" {
		return CommissionResult{}, domain.ErrInvalidInput
	}
	sale, err := decimal.NewFromString(strings.TrimSpace(payload.SaleAmount))
	if err != nil || !sale.IsPositive() {
		return CommissionResult{}, domain.ErrInvalidInput
	}
	now := s.nowFn()
	// attribution is judged as of the purchase
	occurredAt := now
	if payload.OccurredAt != nil && !payload.OccurredAt.IsZero() && !payload.OccurredAt.After(now) {
		occurredAt = payload.OccurredAt.UTC()
	}

	affiliateID, reason, err := s.resolvePaymentAffiliate(ctx, payload, occurredAt)
	if err != nil {
		return CommissionResult{}, err
	}
	if reason != "" {
		return s.skipPayment(ctx, orderID, reason), nil
	}

	return s.OnPaymentConfirmed(ctx, PaymentConfirmedInput{
		OrderID:     orderID,
		AffiliateID: affiliateID,
		CustomerID:  payload.CustomerID,
		Plan:        payload.Plan,
		SaleAmount:  sale,
		Currency:    payload.Currency,
		TraceID:     traceID,
	})
}

// resolvePaymentAffiliate keeps first touch: a visitor's active binding wins
// over any code on the payment, valid or not. The code only counts for
// visitors without a binding.
func (s *Service) resolvePaymentAffiliate(ctx context.Context, payload contracts.PaymentEventPayload, at time.Time) (string, string, error) {
	if token := strings.TrimSpace(payload.VisitorToken); token != "" && s.attributions != nil {
		binding, err := s.attributions.GetActive(ctx, token, at)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", "", err
		}
		if binding != nil {
			return binding.AffiliateID, "", nil
		}
	}
	code := ""
	if payload.AffiliateReferralCode != nil {
		code = domain.NormalizeReferralCode(*payload.AffiliateReferralCode)
	}
	if code == "" {
		return "", domain.SkipReasonNoReferral, nil
	}
	aff, err := s.affiliates.GetByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.SkipReasonUnknownCode, nil
	}
	if err != nil {
		return "", "", err
	}
	return aff.AffiliateID, "", nil
}

// OnPaymentConfirmed creates the pending commission for a resolved sale. It is
// idempotent on order id: a replay returns the existing commission.
func (s *Service) OnPaymentConfirmed(ctx context.Context, in PaymentConfirmedInput) (CommissionResult, error) {
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.AffiliateID = strings.TrimSpace(in.AffiliateID)
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.Plan = domain.NormalizePlan(in.Plan)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = s.cfg.Currency
	}
	if in.OrderID == "" || in.AffiliateID == "" || !in.SaleAmount.IsPositive() {
		return CommissionResult{}, domain.ErrInvalidInput
	}
	if existing, err := s.commissions.GetByOrderID(ctx, in.OrderID); err == nil {
		return CommissionResult{Outcome: domain.CommissionOutcomeDuplicate, Commission: &existing}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return CommissionResult{}, err
	}
	if _, err := s.affiliates.GetByID(ctx, in.AffiliateID); errors.Is(err, domain.ErrNotFound) {
		return s.skipPayment(ctx, in.OrderID, domain.SkipReasonAffiliateMissing), nil
	} else if err != nil {
		return CommissionResult{}, err
	}

	var result CommissionResult
	_, err := s.mutateLedger(ctx, in.AffiliateID, in.TraceID, func(ctx context.Context, aff domain.Affiliate, now time.Time) (ledgerPlan, error) {
		// Status and tier are read here, under the lock, so the rate frozen onto
		// the commission is the one in force when the payment is applied.
		if reason := s.commissionSkipReason(aff, in); reason != "" {
			result = CommissionResult{Outcome: domain.CommissionOutcomeSkipped, Reason: reason}
			return ledgerPlan{}, errCommissionSkipped
		}
		// frozen onto the row; see domain.RateTable
		rate, _ := s.cfg.Rates.Rate(aff.Tier, in.Plan)
		amount := domain.ComputeCommissionAmount(in.SaleAmount, rate)
		if !amount.IsPositive() {
			result = CommissionResult{Outcome: domain.CommissionOutcomeSkipped, Reason: domain.SkipReasonPlanNotEligible}
			return ledgerPlan{}, errCommissionSkipped
		}
		c := domain.Commission{
			CommissionID:     "com_" + uuid.NewString(),
			AffiliateID:      aff.AffiliateID,
			OrderID:          in.OrderID,
			CustomerID:       in.CustomerID,
			Plan:             in.Plan,
			Currency:         in.Currency,
			SaleAmount:       in.SaleAmount,
			CommissionRate:   rate,
			CommissionAmount: amount,
			Status:           domain.CommissionStatusPending,
			CreatedAt:        now,
			MaturesAt:        now.Add(s.cfg.MaturationPeriod),
			UpdatedAt:        now,
		}
		result = CommissionResult{Outcome: domain.CommissionOutcomeCreated, Commission: &c}
		return ledgerPlan{
			commissions: []domain.Commission{c},
			entries: []domain.LedgerEntry{{
				Kind:         domain.LedgerCommissionCreated,
				EventKey:     domain.CommissionEventKey(domain.LedgerCommissionCreated, c.CommissionID),
				CommissionID: c.CommissionID,
				Amount:       amount,
			}},
			transitions: []domain.StatusTransition{
				s.transition(domain.EntityCommission, c.CommissionID, aff.AffiliateID, "", domain.CommissionStatusPending, domain.PaymentTypeSucceeded, "system", now),
			},
		}, nil
	})
	switch {
	case errors.Is(err, errCommissionSkipped):
		s.logSkippedPayment(ctx, in.OrderID, result.Reason)
		return result, nil
	case errors.Is(err, domain.ErrDuplicateEvent):
		existing, gerr := s.commissions.GetByOrderID(ctx, in.OrderID)
		if gerr != nil {
			return CommissionResult{}, gerr
		}
		return CommissionResult{Outcome: domain.CommissionOutcomeDuplicate, Commission: &existing}, nil
	case err != nil:
		return CommissionResult{}, err
	}
	s.logger.InfoContext(ctx, "commission created",
		"operation", "on_payment_confirmed",
		"outcome", "success",
		"affiliate_id", in.AffiliateID,
		"order_id", in.OrderID,
		"commission_id", result.Commission.CommissionID,
		"amount", result.Commission.CommissionAmount.StringFixed(2),
	)
	return result, nil
}

func (s *Service) commissionSkipReason(aff domain.Affiliate, in PaymentConfirmedInput) string {
	switch {
	case !aff.CanRefer():
		return domain.SkipReasonInactive
	case in.CustomerID != "" && aff.UserID == in.CustomerID:
		return domain.SkipReasonSelfReferral
	case !strings.EqualFold(in.Currency, s.cfg.Currency):
		return domain.SkipReasonCurrencyMismatch
	}
	if _, ok := s.cfg.Rates.Rate(aff.Tier, in.Plan); !ok {
		return domain.SkipReasonPlanNotEligible
	}
	return ""
}

func (s *Service) skipPayment(ctx context.Context, orderID, reason string) CommissionResult {
	s.logSkippedPayment(ctx, orderID, reason)
	return CommissionResult{Outcome: domain.CommissionOutcomeSkipped, Reason: reason}
}

func (s *Service) logSkippedPayment(ctx context.Context, orderID, reason string) {
	level := s.logger.InfoContext
	if reason == domain.SkipReasonCurrencyMismatch {
		level = s.logger.WarnContext
	}
	level(ctx, "payment not commissionable",
		"operation", "on_payment_confirmed",
		"outcome", "skipped",
		"order_id", orderID,
		"reason", reason,
	)
}

// OnPaymentReversed cancels the commission of a refunded or charged back order.
// Clawing back a paid commission, or any clawback that leaves the available
// balance negative, raises a debt flag for administrators.
func (s *Service) OnPaymentReversed(ctx context.Context, orderID, reason, traceID string) (CommissionCancellation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CommissionCancellation{}, domain.ErrInvalidInput
	}
	c, err := s.commissions.GetByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.InfoContext(ctx, "reversal for unknown order ignored",
			"operation", "on_payment_reversed",
			"outcome", "skipped",
			"order_id", orderID,
		)
		return CommissionCancellation{Outcome: domain.CommissionOutcomeSkipped, Reason: domain.SkipReasonOrderNotFound}, nil
	}
	if err != nil {
		return CommissionCancellation{}, err
	}
	if c.Status == domain.CommissionStatusCancelled {
		return CommissionCancellation{Outcome: domain.CommissionOutcomeDuplicate, PreviousStatus: c.Status, Commission: &c}, nil
	}

	var out CommissionCancellation
	_, err = s.mutateLedger(ctx, c.AffiliateID, traceID, func(ctx context.Context, aff domain.Affiliate, now time.Time) (ledgerPlan, error) {
		cur, err := s.commissions.GetByID(ctx, c.CommissionID)
		if err != nil {
			return ledgerPlan{}, err
		}
		if cur.Status == domain.CommissionStatusCancelled {
			return ledgerPlan{}, domain.ErrDuplicateEvent
		}
		prev := cur.Status
		entry := domain.LedgerEntry{
			Kind:         domain.LedgerCommissionCancelled,
			EventKey:     domain.CommissionEventKey(domain.LedgerCommissionCancelled, cur.CommissionID),
			CommissionID: cur.CommissionID,
			Amount:       cur.CommissionAmount,
			FromStatus:   prev,
		}
		cancelledAt := now
		cur.Status = domain.CommissionStatusCancelled
		cur.CancelledAt = &cancelledAt
		cur.CancelReason = reason
		cur.UpdatedAt = now
		plan := ledgerPlan{
			entries:     []domain.LedgerEntry{entry},
			commissions: []domain.Commission{cur},
			transitions: []domain.StatusTransition{
				s.transition(domain.EntityCommission, cur.CommissionID, aff.AffiliateID, prev, domain.CommissionStatusCancelled, reason, "system", now),
			},
		}
		out = CommissionCancellation{Outcome: domain.CommissionOutcomeCancelled, Reason: reason, PreviousStatus: prev, Commission: &cur}

		debtReason := ""
		if prev == domain.CommissionStatusPaid {
			debtReason = domain.DebtReasonPaidClawback
		}
		if preview, err := domain.ApplyEntry(aff.Balances(), entry); err == nil && preview.Available().IsNegative() && debtReason == "" {
			debtReason = domain.DebtReasonNegativeBalance
		}
		if debtReason != "" {
			flag := domain.DebtFlag{
				FlagID:       "debt_" + uuid.NewString(),
				CommissionID: cur.CommissionID,
				OrderID:      cur.OrderID,
				Amount:       cur.CommissionAmount,
				Reason:       debtReason,
				CreatedAt:    now,
			}
			plan.debtFlags = append(plan.debtFlags, flag)
		}
		return plan, nil
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		cur, gerr := s.commissions.GetByID(ctx, c.CommissionID)
		if gerr != nil {
			return CommissionCancellation{}, gerr
		}
		return CommissionCancellation{Outcome: domain.CommissionOutcomeDuplicate, PreviousStatus: cur.Status, Commission: &cur}, nil
	}
	if err != nil {
		return CommissionCancellation{}, err
	}
	aff, err := s.affiliates.GetByID(ctx, c.AffiliateID)
	if err != nil {
		return CommissionCancellation{}, err
	}
	flags, err := s.debtFlags.ListByAffiliate(ctx, c.AffiliateID)
	if err != nil {
		return CommissionCancellation{}, err
	}
	for i := range flags {
		if flags[i].CommissionID == c.CommissionID {
			flag := flags[i]
			out.DebtFlag = &flag
		}
	}
	if out.DebtFlag != nil {
		s.logger.WarnContext(ctx, "commission clawback left affiliate in debt",
			"operation", "on_payment_reversed",
			"outcome", "debt_flagged",
			"affiliate_id", c.AffiliateID,
			"order_id", orderID,
			"commission_id", c.CommissionID,
			"from_status", out.PreviousStatus,
			"amount", c.CommissionAmount.StringFixed(2),
			"available_balance", aff.AvailableBalance.StringFixed(2),
			"reason", out.DebtFlag.Reason,
		)
	}
	return out, nil
}
