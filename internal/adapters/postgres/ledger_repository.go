package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerRepository struct {
	db *gorm.DB
}

// Commit writes the batch in one transaction. The version-guarded balance
// update goes first so a stale batch fails before any child row is written.
func (r *ledgerRepository) Commit(ctx context.Context, batch ports.LedgerBatch) (domain.Affiliate, error) {
	aff := batch.Affiliate
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bumpBalances(tx, aff, batch.ExpectedVersion); err != nil {
			return err
		}
		if len(batch.Entries) > 0 {
			rows := make([]ledgerEntryModel, 0, len(batch.Entries))
			for _, e := range batch.Entries {
				rows = append(rows, toLedgerEntryModel(e))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		for _, c := range batch.Commissions {
			model := toCommissionModel(c)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "commission_id"}},
				UpdateAll: true,
			}).Create(&model).Error; err != nil {
				return err
			}
		}
		for _, w := range batch.Withdrawals {
			model, err := toWithdrawalModel(w)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "withdrawal_id"}},
				UpdateAll: true,
			}).Create(&model).Error; err != nil {
				return err
			}
		}
		if len(batch.Transitions) > 0 {
			rows := make([]transitionModel, 0, len(batch.Transitions))
			for _, t := range batch.Transitions {
				rows = append(rows, toTransitionModel(t))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		for _, f := range batch.DebtFlags {
			model := toDebtFlagModel(f)
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
				return err
			}
		}
		for _, rec := range batch.Outbox {
			model, err := toOutboxModel(rec)
			if err != nil {
				return err
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Affiliate{}, domain.ErrDuplicateEvent
		}
		return domain.Affiliate{}, err
	}
	return (&affiliateRepository{db: r.db}).GetByID(ctx, aff.AffiliateID)
}

func bumpBalances(tx *gorm.DB, aff domain.Affiliate, expectedVersion int64) error {
	res := tx.Model(&affiliateModel{}).
		Where("affiliate_id = ? AND version = ?", aff.AffiliateID, expectedVersion).
		Updates(map[string]any{
			"total_earnings":    aff.TotalEarnings,
			"pending_balance":   aff.PendingBalance,
			"reserved_balance":  aff.ReservedBalance,
			"withdrawn_balance": aff.WithdrawnBalance,
			"available_balance": aff.AvailableBalance,
			"updated_at":        updatedAt(aff.UpdatedAt),
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return missingOrConflict(tx, aff.AffiliateID)
	}
	return nil
}

func (r *ledgerRepository) ListEntries(ctx context.Context, affiliateID string) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntryModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromLedgerEntryModel(row))
	}
	return out, nil
}

func (r *ledgerRepository) HasEvent(ctx context.Context, affiliateID, eventKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ledgerEntryModel{}).
		Where("affiliate_id = ? AND event_key = ?", affiliateID, eventKey).
		Count(&count).Error
	return count > 0, err
}

func (r *ledgerRepository) OverwriteBalances(ctx context.Context, row domain.Affiliate, expectedVersion int64) (domain.Affiliate, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return bumpBalances(tx, row, expectedVersion)
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	return (&affiliateRepository{db: r.db}).GetByID(ctx, row.AffiliateID)
}

type commissionRepository struct {
	db *gorm.DB
}

func (r *commissionRepository) GetByID(ctx context.Context, commissionID string) (domain.Commission, error) {
	var model commissionModel
	if err := r.db.WithContext(ctx).Where("commission_id = ?", commissionID).Take(&model).Error; err != nil {
		return domain.Commission{}, notFound(err)
	}
	return fromCommissionModel(model), nil
}

func (r *commissionRepository) GetByOrderID(ctx context.Context, orderID string) (domain.Commission, error) {
	var model commissionModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&model).Error; err != nil {
		return domain.Commission{}, notFound(err)
	}
	return fromCommissionModel(model), nil
}

func (r *commissionRepository) ListByAffiliate(ctx context.Context, affiliateID string, filter ports.CommissionFilter) ([]domain.Commission, int, error) {
	q := r.db.WithContext(ctx).Model(&commissionModel{}).Where("affiliate_id = ?", affiliateID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []commissionModel
	if err := q.Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return mapCommissions(rows), int(total), nil
}

func (r *commissionRepository) ListByStatus(ctx context.Context, affiliateID, status string) ([]domain.Commission, error) {
	var rows []commissionModel
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status = ?", affiliateID, status).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapCommissions(rows), nil
}

func (r *commissionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Commission, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND matures_at <= ?", domain.CommissionStatusPending, now).
		Order("matures_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []commissionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapCommissions(rows), nil
}

func (r *commissionRepository) SumPaidOut(ctx context.Context, affiliateID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := r.db.WithContext(ctx).Model(&commissionModel{}).
		Select("COALESCE(SUM(commission_amount), 0)").
		Where("affiliate_id = ? AND paid_at IS NOT NULL", affiliateID).
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func mapCommissions(rows []commissionModel) []domain.Commission {
	out := make([]domain.Commission, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromCommissionModel(row))
	}
	return out
}

type withdrawalRepository struct {
	db *gorm.DB
}

func (r *withdrawalRepository) GetByID(ctx context.Context, withdrawalID string) (domain.Withdrawal, error) {
	var model withdrawalModel
	if err := r.db.WithContext(ctx).Where("withdrawal_id = ?", withdrawalID).Take(&model).Error; err != nil {
		return domain.Withdrawal{}, notFound(err)
	}
	return fromWithdrawalModel(model), nil
}

func (r *withdrawalRepository) ListByAffiliate(ctx context.Context, affiliateID string, filter ports.WithdrawalFilter) ([]domain.Withdrawal, int, error) {
	q := r.db.WithContext(ctx).Model(&withdrawalModel{}).Where("affiliate_id = ?", affiliateID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	return r.list(q, "created_at DESC", filter.Limit, filter.Offset)
}

func (r *withdrawalRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]domain.Withdrawal, int, error) {
	q := r.db.WithContext(ctx).Model(&withdrawalModel{}).Where("status = ?", status)
	return r.list(q, "created_at ASC", limit, offset)
}

func (r *withdrawalRepository) list(q *gorm.DB, order string, limit, offset int) ([]domain.Withdrawal, int, error) {
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []withdrawalModel
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Withdrawal, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromWithdrawalModel(row))
	}
	return out, int(total), nil
}
