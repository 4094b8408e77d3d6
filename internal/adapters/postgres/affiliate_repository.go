package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type affiliateRepository struct {
	db *gorm.DB
}

func (r *affiliateRepository) Create(ctx context.Context, row domain.Affiliate) error {
	row.ReferralCode = domain.NormalizeReferralCode(row.ReferralCode)
	if row.Version == 0 {
		row.Version = 1
	}
	model := toAffiliateModel(row)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *affiliateRepository) GetByID(ctx context.Context, affiliateID string) (domain.Affiliate, error) {
	return r.getBy(ctx, "affiliate_id = ?", strings.TrimSpace(affiliateID))
}

func (r *affiliateRepository) GetByUserID(ctx context.Context, userID string) (domain.Affiliate, error) {
	return r.getBy(ctx, "user_id = ?", strings.TrimSpace(userID))
}

func (r *affiliateRepository) GetByCode(ctx context.Context, referralCode string) (domain.Affiliate, error) {
	code := domain.NormalizeReferralCode(referralCode)
	if code == "" {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	return r.getBy(ctx, "referral_code = ?", code)
}

func (r *affiliateRepository) getBy(ctx context.Context, where string, arg any) (domain.Affiliate, error) {
	var model affiliateModel
	if err := r.db.WithContext(ctx).Where(where, arg).Take(&model).Error; err != nil {
		return domain.Affiliate{}, notFound(err)
	}
	return fromAffiliateModel(model), nil
}

func (r *affiliateRepository) CodeExists(ctx context.Context, referralCode string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&affiliateModel{}).
		Where("referral_code = ?", domain.NormalizeReferralCode(referralCode)).
		Count(&count).Error
	return count > 0, err
}

func (r *affiliateRepository) Update(ctx context.Context, row domain.Affiliate) (domain.Affiliate, error) {
	var out affiliateModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&affiliateModel{}).
			Where("affiliate_id = ? AND version = ?", row.AffiliateID, row.Version).
			Updates(map[string]any{
				"referral_code":     domain.NormalizeReferralCode(row.ReferralCode),
				"tier":              row.Tier,
				"status":            row.Status,
				"terms_version":     row.TermsVersion,
				"terms_accepted_at": row.TermsAcceptedAt,
				"suspended_reason":  row.SuspendedReason,
				"updated_at":        updatedAt(row.UpdatedAt),
				"version":           gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return domain.ErrConflict
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, row.AffiliateID)
		}
		return tx.Where("affiliate_id = ?", row.AffiliateID).Take(&out).Error
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	return fromAffiliateModel(out), nil
}

// missingOrConflict tells a stale version apart from a row that never existed.
func missingOrConflict(tx *gorm.DB, affiliateID string) error {
	var count int64
	if err := tx.Model(&affiliateModel{}).Where("affiliate_id = ?", affiliateID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func updatedAt(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at
}

type attributionRepository struct {
	db *gorm.DB
}

func (r *attributionRepository) GetActive(ctx context.Context, visitorToken string, now time.Time) (*domain.Attribution, error) {
	var model attributionModel
	err := r.db.WithContext(ctx).
		Where("visitor_token = ? AND expires_at > ?", strings.TrimSpace(visitorToken), now).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	row := fromAttributionModel(model)
	return &row, nil
}

// BindIfAbsent inserts the binding, or replaces an expired one, in a single
// statement so concurrent captures for one visitor keep the first touch.
func (r *attributionRepository) BindIfAbsent(ctx context.Context, binding domain.Attribution, now time.Time) (domain.Attribution, bool, error) {
	model := attributionModel{
		VisitorToken: binding.VisitorToken,
		ReferralCode: binding.ReferralCode,
		AffiliateID:  binding.AffiliateID,
		CapturedAt:   binding.CapturedAt,
		ExpiresAt:    binding.ExpiresAt,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "visitor_token"}},
		DoUpdates: clause.AssignmentColumns([]string{"referral_code", "affiliate_id", "captured_at", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "affiliate_attributions.expires_at <= ?", Vars: []any{now}},
		}},
	}).Create(&model)
	if res.Error != nil {
		return domain.Attribution{}, false, res.Error
	}
	if res.RowsAffected > 0 {
		return binding, true, nil
	}
	existing, err := r.GetActive(ctx, binding.VisitorToken, now)
	if err != nil {
		return domain.Attribution{}, false, err
	}
	if existing == nil {
		return domain.Attribution{}, false, domain.ErrConflict
	}
	return *existing, false, nil
}
