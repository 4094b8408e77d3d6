package http

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toPagination(p application.Pagination) contracts.Pagination {
	return contracts.Pagination{Limit: p.Limit, Offset: p.Offset, Total: p.Total}
}

func toAffiliateResponse(a domain.Affiliate) contracts.AffiliateResponse {
	return contracts.AffiliateResponse{
		AffiliateID:     a.AffiliateID,
		UserID:          a.UserID,
		ReferralCode:    a.ReferralCode,
		Tier:            a.Tier,
		Status:          a.Status,
		TermsVersion:    a.TermsVersion,
		TermsAcceptedAt: formatTimePtr(a.TermsAcceptedAt),
		SuspendedReason: a.SuspendedReason,
		CreatedAt:       formatTime(a.CreatedAt),
		UpdatedAt:       formatTime(a.UpdatedAt),
	}
}

func toBalancesResponse(b application.BalanceView) contracts.BalancesResponse {
	return contracts.BalancesResponse{
		AffiliateID:      b.AffiliateID,
		Currency:         b.Currency,
		TotalEarnings:    money(b.TotalEarnings),
		PendingBalance:   money(b.PendingBalance),
		ReservedBalance:  money(b.ReservedBalance),
		WithdrawnBalance: money(b.WithdrawnBalance),
		AvailableBalance: money(b.AvailableBalance),
		OpenDebtFlags:    b.OpenDebtFlags,
	}
}

func toCommissionResponse(c domain.Commission) contracts.CommissionResponse {
	return contracts.CommissionResponse{
		CommissionID:     c.CommissionID,
		AffiliateID:      c.AffiliateID,
		OrderID:          c.OrderID,
		Plan:             c.Plan,
		Currency:         c.Currency,
		SaleAmount:       money(c.SaleAmount),
		CommissionRate:   c.CommissionRate.StringFixed(4),
		CommissionAmount: money(c.CommissionAmount),
		Status:           c.Status,
		CreatedAt:        formatTime(c.CreatedAt),
		MaturesAt:        formatTime(c.MaturesAt),
		ConfirmedAt:      formatTimePtr(c.ConfirmedAt),
		PaidAt:           formatTimePtr(c.PaidAt),
		CancelledAt:      formatTimePtr(c.CancelledAt),
		CancelReason:     c.CancelReason,
	}
}

func toWithdrawalResponse(w domain.Withdrawal) contracts.WithdrawalResponse {
	return contracts.WithdrawalResponse{
		WithdrawalID:   w.WithdrawalID,
		AffiliateID:    w.AffiliateID,
		Amount:         money(w.Amount),
		Currency:       w.Currency,
		PaymentMethod:  w.PaymentMethod,
		Status:         w.Status,
		CreatedAt:      formatTime(w.CreatedAt),
		ProcessingAt:   formatTimePtr(w.ProcessingAt),
		ResolvedAt:     formatTimePtr(w.ResolvedAt),
		ResolvedBy:     w.ResolvedBy,
		ResolutionNote: w.ResolutionNote,
	}
}

func toWithdrawalList(p application.WithdrawalPage) contracts.WithdrawalListResponse {
	items := make([]contracts.WithdrawalResponse, 0, len(p.Items))
	for _, row := range p.Items {
		items = append(items, toWithdrawalResponse(row))
	}
	return contracts.WithdrawalListResponse{Items: items, Pagination: toPagination(p.Pagination)}
}

func toTransitionList(rows []domain.StatusTransition) contracts.TransitionListResponse {
	items := make([]contracts.TransitionResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, contracts.TransitionResponse{
			TransitionID: row.TransitionID,
			EntityType:   row.EntityType,
			EntityID:     row.EntityID,
			FromStatus:   row.FromStatus,
			ToStatus:     row.ToStatus,
			Reason:       row.Reason,
			ActorID:      row.ActorID,
			OccurredAt:   formatTime(row.OccurredAt),
		})
	}
	return contracts.TransitionListResponse{Items: items}
}

func toDebtFlagResponse(f domain.DebtFlag) contracts.DebtFlagResponse {
	return contracts.DebtFlagResponse{
		FlagID:         f.FlagID,
		AffiliateID:    f.AffiliateID,
		CommissionID:   f.CommissionID,
		OrderID:        f.OrderID,
		Amount:         money(f.Amount),
		AvailableAfter: money(f.AvailableAfter),
		Reason:         f.Reason,
		CreatedAt:      formatTime(f.CreatedAt),
		AcknowledgedAt: formatTimePtr(f.AcknowledgedAt),
		AcknowledgedBy: f.AcknowledgedBy,
	}
}

func toBalanceComponents(b domain.Balances) contracts.BalanceComponents {
	return contracts.BalanceComponents{
		Pending:   money(b.Pending),
		Confirmed: money(b.Confirmed),
		Reserved:  money(b.Reserved),
		Withdrawn: money(b.Withdrawn),
		Available: money(b.Available()),
	}
}

func toPaymentWebhookResponse(out application.PaymentOutcome) contracts.PaymentWebhookResponse {
	resp := contracts.PaymentWebhookResponse{EventType: out.EventType}
	switch {
	case out.Commission != nil:
		resp.Outcome = out.Commission.Outcome
		resp.Reason = out.Commission.Reason
		if out.Commission.Commission != nil {
			resp.CommissionID = out.Commission.Commission.CommissionID
		}
	case out.Cancellation != nil:
		resp.Outcome = out.Cancellation.Outcome
		resp.Reason = out.Cancellation.Reason
		if out.Cancellation.Commission != nil {
			resp.CommissionID = out.Cancellation.Commission.CommissionID
		}
		if out.Cancellation.DebtFlag != nil {
			resp.DebtFlagID = out.Cancellation.DebtFlag.FlagID
		}
	}
	return resp
}
