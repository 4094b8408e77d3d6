package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

type LedgerRepository struct{ s *Store }

func eventKeyIndex(affiliateID, eventKey string) string { return affiliateID + "|" + eventKey }

func (r *LedgerRepository) Commit(_ context.Context, batch ports.LedgerBatch) (domain.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.affiliates[batch.Affiliate.AffiliateID]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	if cur.Version != batch.ExpectedVersion {
		return domain.Affiliate{}, domain.ErrConflict
	}
	seen := map[string]struct{}{}
	for _, e := range batch.Entries {
		k := eventKeyIndex(cur.AffiliateID, e.EventKey)
		if _, ok := r.s.eventKeys[k]; ok {
			return domain.Affiliate{}, domain.ErrDuplicateEvent
		}
		if _, ok := seen[k]; ok {
			return domain.Affiliate{}, domain.ErrDuplicateEvent
		}
		seen[k] = struct{}{}
	}
	for _, c := range batch.Commissions {
		if _, exists := r.s.commissions[c.CommissionID]; exists {
			continue
		}
		if _, taken := r.s.byOrderID[c.OrderID]; taken {
			return domain.Affiliate{}, domain.ErrDuplicateEvent
		}
	}

	// validated; nothing below can fail
	for _, e := range batch.Entries {
		r.s.eventKeys[eventKeyIndex(cur.AffiliateID, e.EventKey)] = struct{}{}
		r.s.entries[cur.AffiliateID] = append(r.s.entries[cur.AffiliateID], e)
	}
	for _, c := range batch.Commissions {
		if _, exists := r.s.commissions[c.CommissionID]; !exists {
			r.s.commissionOrder = append(r.s.commissionOrder, c.CommissionID)
			r.s.byOrderID[c.OrderID] = c.CommissionID
		}
		r.s.commissions[c.CommissionID] = c
	}
	for _, w := range batch.Withdrawals {
		if _, exists := r.s.withdrawals[w.WithdrawalID]; !exists {
			r.s.withdrawalOrder = append(r.s.withdrawalOrder, w.WithdrawalID)
		}
		r.s.withdrawals[w.WithdrawalID] = w
	}
	r.s.transitions = append(r.s.transitions, batch.Transitions...)
	for _, f := range batch.DebtFlags {
		if _, exists := r.s.debtFlags[f.FlagID]; !exists {
			r.s.debtOrder = append(r.s.debtOrder, f.FlagID)
		}
		r.s.debtFlags[f.FlagID] = f
	}
	for _, rec := range batch.Outbox {
		r.s.outbox[rec.RecordID] = rec
		r.s.outboxOrder = append(r.s.outboxOrder, rec.RecordID)
	}
	cur = withCachedBalances(cur, batch.Affiliate)
	cur.Version++
	r.s.affiliates[cur.AffiliateID] = cur
	return cur, nil
}

func withCachedBalances(dst, src domain.Affiliate) domain.Affiliate {
	dst.TotalEarnings = src.TotalEarnings
	dst.PendingBalance = src.PendingBalance
	dst.ReservedBalance = src.ReservedBalance
	dst.WithdrawnBalance = src.WithdrawnBalance
	dst.AvailableBalance = src.AvailableBalance
	dst.UpdatedAt = src.UpdatedAt
	return dst
}

func (r *LedgerRepository) ListEntries(_ context.Context, affiliateID string) ([]domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.s.entries[affiliateID]
	return append([]domain.LedgerEntry(nil), rows...), nil
}

func (r *LedgerRepository) HasEvent(_ context.Context, affiliateID, eventKey string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.eventKeys[eventKeyIndex(affiliateID, eventKey)]
	return ok, nil
}

func (r *LedgerRepository) OverwriteBalances(_ context.Context, row domain.Affiliate, expectedVersion int64) (domain.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.affiliates[row.AffiliateID]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return domain.Affiliate{}, domain.ErrConflict
	}
	cur = withCachedBalances(cur, row)
	cur.Version++
	r.s.affiliates[cur.AffiliateID] = cur
	return cur, nil
}

// DriftBalances overwrites cached balances without touching the ledger. Tests
// use it to simulate a corrupted cache.
func (r *LedgerRepository) DriftBalances(affiliateID string, b domain.Balances) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur := r.s.affiliates[affiliateID]
	r.s.affiliates[affiliateID] = cur.WithBalances(b)
}

type CommissionRepository struct{ s *Store }

func (r *CommissionRepository) GetByID(_ context.Context, commissionID string) (domain.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.commissions[strings.TrimSpace(commissionID)]
	if !ok {
		return domain.Commission{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *CommissionRepository) GetByOrderID(_ context.Context, orderID string) (domain.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byOrderID[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Commission{}, domain.ErrNotFound
	}
	return r.s.commissions[id], nil
}

func (r *CommissionRepository) ListByAffiliate(_ context.Context, affiliateID string, filter ports.CommissionFilter) ([]domain.Commission, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := make([]domain.Commission, 0)
	for i := len(r.s.commissionOrder) - 1; i >= 0; i-- {
		row := r.s.commissions[r.s.commissionOrder[i]]
		if row.AffiliateID != affiliateID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		matched = append(matched, row)
	}
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (r *CommissionRepository) ListByStatus(_ context.Context, affiliateID, status string) ([]domain.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Commission, 0)
	for _, id := range r.s.commissionOrder {
		row := r.s.commissions[id]
		if row.AffiliateID == affiliateID && row.Status == status {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *CommissionRepository) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Commission, 0)
	for _, id := range r.s.commissionOrder {
		row := r.s.commissions[id]
		if row.DueAt(now) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MaturesAt.Before(out[j].MaturesAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CommissionRepository) SumPaidOut(_ context.Context, affiliateID string) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, row := range r.s.commissions {
		if row.AffiliateID == affiliateID && row.PaidAt != nil {
			total = total.Add(row.CommissionAmount)
		}
	}
	return total, nil
}

type WithdrawalRepository struct{ s *Store }

func (r *WithdrawalRepository) GetByID(_ context.Context, withdrawalID string) (domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.withdrawals[strings.TrimSpace(withdrawalID)]
	if !ok {
		return domain.Withdrawal{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *WithdrawalRepository) ListByAffiliate(_ context.Context, affiliateID string, filter ports.WithdrawalFilter) ([]domain.Withdrawal, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := make([]domain.Withdrawal, 0)
	for i := len(r.s.withdrawalOrder) - 1; i >= 0; i-- {
		row := r.s.withdrawals[r.s.withdrawalOrder[i]]
		if row.AffiliateID != affiliateID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		matched = append(matched, row)
	}
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (r *WithdrawalRepository) ListByStatus(_ context.Context, status string, limit, offset int) ([]domain.Withdrawal, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := make([]domain.Withdrawal, 0)
	for _, id := range r.s.withdrawalOrder {
		row := r.s.withdrawals[id]
		if row.Status == status {
			matched = append(matched, row)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

type TransitionRepository struct{ s *Store }

func (r *TransitionRepository) ListByEntity(_ context.Context, entityType, entityID string) ([]domain.StatusTransition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.StatusTransition, 0)
	for _, row := range r.s.transitions {
		if row.EntityType == entityType && row.EntityID == entityID {
			out = append(out, row)
		}
	}
	return out, nil
}

type DebtFlagRepository struct{ s *Store }

func (r *DebtFlagRepository) ListOpen(_ context.Context, limit, offset int) ([]domain.DebtFlag, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := make([]domain.DebtFlag, 0)
	for _, id := range r.s.debtOrder {
		row := r.s.debtFlags[id]
		if row.AcknowledgedAt == nil {
			matched = append(matched, row)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

func (r *DebtFlagRepository) ListByAffiliate(_ context.Context, affiliateID string) ([]domain.DebtFlag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.DebtFlag, 0)
	for _, id := range r.s.debtOrder {
		if row := r.s.debtFlags[id]; row.AffiliateID == affiliateID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *DebtFlagRepository) Acknowledge(_ context.Context, flagID, actorID string, at time.Time) (domain.DebtFlag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.debtFlags[flagID]
	if !ok {
		return domain.DebtFlag{}, domain.ErrNotFound
	}
	if row.AcknowledgedAt != nil {
		return row, nil
	}
	row.AcknowledgedAt = &at
	row.AcknowledgedBy = actorID
	r.s.debtFlags[flagID] = row
	return row, nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
