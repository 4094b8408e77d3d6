package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"gorm.io/gorm"
)

type transitionRepository struct {
	db *gorm.DB
}

func (r *transitionRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.StatusTransition, error) {
	var rows []transitionModel
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("occurred_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.StatusTransition, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTransitionModel(row))
	}
	return out, nil
}

type debtFlagRepository struct {
	db *gorm.DB
}

func (r *debtFlagRepository) ListOpen(ctx context.Context, limit, offset int) ([]domain.DebtFlag, int, error) {
	q := r.db.WithContext(ctx).Model(&debtFlagModel{}).Where("acknowledged_at IS NULL").Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []debtFlagModel
	if err := q.Order("created_at ASC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return mapDebtFlags(rows), int(total), nil
}

func (r *debtFlagRepository) ListByAffiliate(ctx context.Context, affiliateID string) ([]domain.DebtFlag, error) {
	var rows []debtFlagModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapDebtFlags(rows), nil
}

// Acknowledge is idempotent: a flag that is already acknowledged keeps its
// first acknowledger.
func (r *debtFlagRepository) Acknowledge(ctx context.Context, flagID, actorID string, at time.Time) (domain.DebtFlag, error) {
	var out debtFlagModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&debtFlagModel{}).
			Where("flag_id = ? AND acknowledged_at IS NULL", flagID).
			Updates(map[string]any{"acknowledged_at": at, "acknowledged_by": actorID}).Error; err != nil {
			return err
		}
		return tx.Where("flag_id = ?", flagID).Take(&out).Error
	})
	if err != nil {
		return domain.DebtFlag{}, notFound(err)
	}
	return fromDebtFlagModel(out), nil
}

func mapDebtFlags(rows []debtFlagModel) []domain.DebtFlag {
	out := make([]domain.DebtFlag, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromDebtFlagModel(row))
	}
	return out
}

type auditLogRepository struct {
	db *gorm.DB
}

func (r *auditLogRepository) Append(ctx context.Context, row domain.AffiliateAuditLog) error {
	if row.AuditLogID == "" {
		row.AuditLogID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	metadata, err := marshalStringMap(row.Metadata)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&auditLogModel{
		AuditLogID:  row.AuditLogID,
		AffiliateID: row.AffiliateID,
		Action:      row.Action,
		ActorID:     row.ActorID,
		Reason:      row.Reason,
		Metadata:    metadata,
		CreatedAt:   row.CreatedAt,
	}).Error
}

func (r *auditLogRepository) ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.AffiliateAuditLog, error) {
	var rows []auditLogModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AffiliateAuditLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.AffiliateAuditLog{
			AuditLogID:  row.AuditLogID,
			AffiliateID: row.AffiliateID,
			Action:      row.Action,
			ActorID:     row.ActorID,
			Reason:      row.Reason,
			Metadata:    unmarshalStringMap(row.Metadata),
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}
