package application

import (
	"context"
	"strings"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

func (s *Service) GetMe(ctx context.Context, actor Actor) (domain.Affiliate, error) {
	if err := requireActor(actor); err != nil {
		return domain.Affiliate{}, err
	}
	return s.affiliates.GetByUserID(ctx, strings.TrimSpace(actor.SubjectID))
}

func (s *Service) GetAffiliate(ctx context.Context, actor Actor, affiliateID string) (domain.Affiliate, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Affiliate{}, err
	}
	return s.affiliates.GetByID(ctx, strings.TrimSpace(affiliateID))
}

func (s *Service) GetBalances(ctx context.Context, actor Actor) (BalanceView, error) {
	aff, err := s.GetMe(ctx, actor)
	if err != nil {
		return BalanceView{}, err
	}
	return s.balanceView(ctx, aff)
}

// BalancesFor serves internal callers that already hold an affiliate id.
func (s *Service) BalancesFor(ctx context.Context, affiliateID string) (BalanceView, error) {
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return BalanceView{}, domain.ErrInvalidInput
	}
	aff, err := s.affiliates.GetByID(ctx, affiliateID)
	if err != nil {
		return BalanceView{}, err
	}
	return s.balanceView(ctx, aff)
}

func (s *Service) balanceView(ctx context.Context, aff domain.Affiliate) (BalanceView, error) {
	flags, err := s.debtFlags.ListByAffiliate(ctx, aff.AffiliateID)
	if err != nil {
		return BalanceView{}, err
	}
	open := 0
	for _, f := range flags {
		if f.AcknowledgedAt == nil {
			open++
		}
	}
	return BalanceView{
		AffiliateID:      aff.AffiliateID,
		Currency:         s.cfg.Currency,
		TotalEarnings:    aff.TotalEarnings,
		PendingBalance:   aff.PendingBalance,
		ReservedBalance:  aff.ReservedBalance,
		WithdrawnBalance: aff.WithdrawnBalance,
		AvailableBalance: aff.AvailableBalance,
		OpenDebtFlags:    open,
	}, nil
}

func (s *Service) ListCommissions(ctx context.Context, actor Actor, filter ports.CommissionFilter) (CommissionPage, error) {
	aff, err := s.GetMe(ctx, actor)
	if err != nil {
		return CommissionPage{}, err
	}
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	items, total, err := s.commissions.ListByAffiliate(ctx, aff.AffiliateID, filter)
	if err != nil {
		return CommissionPage{}, err
	}
	return CommissionPage{Items: items, Pagination: Pagination{Limit: filter.Limit, Offset: filter.Offset, Total: total}}, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, actor Actor, filter ports.WithdrawalFilter) (WithdrawalPage, error) {
	aff, err := s.GetMe(ctx, actor)
	if err != nil {
		return WithdrawalPage{}, err
	}
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	items, total, err := s.withdrawals.ListByAffiliate(ctx, aff.AffiliateID, filter)
	if err != nil {
		return WithdrawalPage{}, err
	}
	return WithdrawalPage{Items: items, Pagination: Pagination{Limit: filter.Limit, Offset: filter.Offset, Total: total}}, nil
}

func (s *Service) AdminListWithdrawals(ctx context.Context, actor Actor, status string, limit, offset int) (WithdrawalPage, error) {
	if err := requireAdmin(actor); err != nil {
		return WithdrawalPage{}, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		status = domain.WithdrawalStatusPending
	}
	limit, offset = normalizePage(limit, offset)
	items, total, err := s.withdrawals.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return WithdrawalPage{}, err
	}
	return WithdrawalPage{Items: items, Pagination: Pagination{Limit: limit, Offset: offset, Total: total}}, nil
}

// ListLedger returns the caller's ledger entries in append order.
func (s *Service) ListLedger(ctx context.Context, actor Actor) ([]domain.LedgerEntry, error) {
	aff, err := s.GetMe(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListEntries(ctx, aff.AffiliateID)
}

func (s *Service) CommissionHistory(ctx context.Context, actor Actor, commissionID string) ([]domain.StatusTransition, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	c, err := s.commissions.GetByID(ctx, strings.TrimSpace(commissionID))
	if err != nil {
		return nil, err
	}
	return s.transitions.ListByEntity(ctx, domain.EntityCommission, c.CommissionID)
}

// WithdrawalHistory is visible to the owning affiliate and to admins.
func (s *Service) WithdrawalHistory(ctx context.Context, actor Actor, withdrawalID string) ([]domain.StatusTransition, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	w, err := s.withdrawals.GetByID(ctx, strings.TrimSpace(withdrawalID))
	if err != nil {
		return nil, err
	}
	if !isAdmin(actor) {
		aff, err := s.affiliates.GetByUserID(ctx, actor.SubjectID)
		if err != nil || aff.AffiliateID != w.AffiliateID {
			return nil, domain.ErrForbidden
		}
	}
	return s.transitions.ListByEntity(ctx, domain.EntityWithdrawal, w.WithdrawalID)
}

func (s *Service) ListDebtFlags(ctx context.Context, actor Actor, limit, offset int) (DebtFlagPage, error) {
	if err := requireAdmin(actor); err != nil {
		return DebtFlagPage{}, err
	}
	limit, offset = normalizePage(limit, offset)
	items, total, err := s.debtFlags.ListOpen(ctx, limit, offset)
	if err != nil {
		return DebtFlagPage{}, err
	}
	return DebtFlagPage{Items: items, Pagination: Pagination{Limit: limit, Offset: offset, Total: total}}, nil
}

func (s *Service) AcknowledgeDebt(ctx context.Context, actor Actor, flagID string) (domain.DebtFlag, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.DebtFlag{}, err
	}
	flagID = strings.TrimSpace(flagID)
	if flagID == "" {
		return domain.DebtFlag{}, domain.ErrInvalidInput
	}
	flag, err := s.debtFlags.Acknowledge(ctx, flagID, actor.SubjectID, s.nowFn())
	if err != nil {
		return domain.DebtFlag{}, err
	}
	s.appendAudit(ctx, flag.AffiliateID, "affiliate.debt.acknowledged", actor.SubjectID, "", map[string]string{"flag_id": flag.FlagID})
	return flag, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, actor Actor, affiliateID string) ([]domain.AffiliateAuditLog, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.auditLogs.ListByAffiliateID(ctx, strings.TrimSpace(affiliateID))
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
