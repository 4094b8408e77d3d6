package application

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

// Enroll registers the caller as a pending affiliate with a fresh referral
// code. Enrolling twice returns the existing affiliate.
func (s *Service) Enroll(ctx context.Context, actor Actor) (domain.Affiliate, error) {
	if err := requireActor(actor); err != nil {
		return domain.Affiliate{}, err
	}
	return s.ensureAffiliate(ctx, actor.SubjectID)
}

func (s *Service) ensureAffiliate(ctx context.Context, userID string) (domain.Affiliate, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Affiliate{}, domain.ErrInvalidInput
	}
	if row, err := s.affiliates.GetByUserID(ctx, userID); err == nil {
		return row, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Affiliate{}, err
	}
	code, err := s.generateCode(ctx)
	if err != nil {
		return domain.Affiliate{}, err
	}
	now := s.nowFn()
	row := domain.Affiliate{AffiliateID: "aff_" + uuid.NewString(), UserID: userID, ReferralCode: code, Tier: s.cfg.DefaultTier, Status: domain.AffiliateStatusPending, Version: 1, CreatedAt: now, UpdatedAt: now}
	row = row.WithBalances(domain.Balances{})
	if err := s.affiliates.Create(ctx, row); err != nil {
		if ex, err2 := s.affiliates.GetByUserID(ctx, userID); err2 == nil {
			return ex, nil
		}
		return domain.Affiliate{}, err
	}
	s.appendAudit(ctx, row.AffiliateID, "affiliate.enrolled", userID, "", map[string]string{"referral_code": code, "tier": row.Tier})
	return row, nil
}

// generateCode draws codes until one is unused. The code space is large, so
// running out of attempts means the generator or the store is broken.
func (s *Service) generateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < s.cfg.CodeMaxAttempts; attempt++ {
		code, err := s.codeFn(s.cfg.CodeLength)
		if err != nil {
			return "", err
		}
		exists, err := s.affiliates.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	s.logger.ErrorContext(ctx, "referral code generation exhausted its attempts",
		"operation", "issue_code",
		"outcome", "failure",
		"attempts", s.cfg.CodeMaxAttempts,
	)
	return "", domain.ErrCodeSpaceExhausted
}

// IssueCode returns the affiliate's referral code, issuing one if it has none.
func (s *Service) IssueCode(ctx context.Context, actor Actor, affiliateID string) (string, error) {
	if err := requireAdmin(actor); err != nil {
		return "", err
	}
	aff, err := s.updateAffiliate(ctx, strings.TrimSpace(affiliateID), func(aff *domain.Affiliate) (bool, error) {
		if aff.ReferralCode != "" {
			return false, nil
		}
		code, err := s.generateCode(ctx)
		if err != nil {
			return false, err
		}
		aff.ReferralCode = code
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return aff.ReferralCode, nil
}

// AcceptTerms records acceptance of a terms version and activates a pending
// affiliate, enrolling the caller first when needed. Accepting the same
// version again changes nothing.
func (s *Service) AcceptTerms(ctx context.Context, actor Actor, in AcceptTermsInput) (domain.Affiliate, error) {
	if err := requireActor(actor); err != nil {
		return domain.Affiliate{}, err
	}
	version := strings.TrimSpace(in.TermsVersion)
	if version == "" {
		return domain.Affiliate{}, domain.ErrInvalidInput
	}
	aff, err := s.ensureAffiliate(ctx, actor.SubjectID)
	if err != nil {
		return domain.Affiliate{}, err
	}
	accepted := false
	aff, err = s.updateAffiliate(ctx, aff.AffiliateID, func(aff *domain.Affiliate) (bool, error) {
		if aff.TermsVersion == version && aff.TermsAcceptedAt != nil {
			return false, nil
		}
		now := s.nowFn()
		aff.TermsVersion = version
		aff.TermsAcceptedAt = &now
		if aff.Status == domain.AffiliateStatusPending {
			aff.Status = domain.AffiliateStatusActive
		}
		accepted = true
		return true, nil
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	if accepted {
		s.appendAudit(ctx, aff.AffiliateID, "affiliate.terms.accepted", actor.SubjectID, "", map[string]string{"terms_version": version, "status": aff.Status})
	}
	return aff, nil
}

// SetTier changes the tier used for commissions created from now on. Existing
// commissions keep the rate they were created with.
func (s *Service) SetTier(ctx context.Context, actor Actor, in SetTierInput) (domain.Affiliate, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Affiliate{}, err
	}
	tier, err := domain.NormalizeTier(in.Tier)
	if err != nil {
		return domain.Affiliate{}, err
	}
	previous := ""
	aff, err := s.updateAffiliate(ctx, strings.TrimSpace(in.AffiliateID), func(aff *domain.Affiliate) (bool, error) {
		previous = aff.Tier
		if aff.Tier == tier {
			return false, nil
		}
		aff.Tier = tier
		return true, nil
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	if previous != tier {
		s.appendAudit(ctx, aff.AffiliateID, "affiliate.tier.changed", actor.SubjectID, "", map[string]string{"from": previous, "to": tier})
	}
	return aff, nil
}

func (s *Service) SuspendAffiliate(ctx context.Context, actor Actor, in SuspendAffiliateInput) (domain.Affiliate, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Affiliate{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	changed := false
	aff, err := s.updateAffiliate(ctx, strings.TrimSpace(in.AffiliateID), func(aff *domain.Affiliate) (bool, error) {
		if aff.Status == domain.AffiliateStatusSuspended {
			return false, nil
		}
		aff.Status = domain.AffiliateStatusSuspended
		aff.SuspendedReason = reason
		changed = true
		return true, nil
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	if changed {
		s.appendAudit(ctx, aff.AffiliateID, "affiliate.suspended", actor.SubjectID, reason, nil)
	}
	return aff, nil
}

// ReinstateAffiliate lifts a suspension. Affiliates that never accepted terms
// go back to pending.
func (s *Service) ReinstateAffiliate(ctx context.Context, actor Actor, affiliateID string) (domain.Affiliate, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Affiliate{}, err
	}
	changed := false
	aff, err := s.updateAffiliate(ctx, strings.TrimSpace(affiliateID), func(aff *domain.Affiliate) (bool, error) {
		if aff.Status != domain.AffiliateStatusSuspended {
			return false, nil
		}
		aff.Status = domain.AffiliateStatusPending
		if aff.TermsAcceptedAt != nil {
			aff.Status = domain.AffiliateStatusActive
		}
		aff.SuspendedReason = ""
		changed = true
		return true, nil
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	if changed {
		s.appendAudit(ctx, aff.AffiliateID, "affiliate.reinstated", actor.SubjectID, "", map[string]string{"status": aff.Status})
	}
	return aff, nil
}

// updateAffiliate applies mutate to the freshest registry row under the
// affiliate lock, retrying when a ledger commit bumps the version underneath.
func (s *Service) updateAffiliate(ctx context.Context, affiliateID string, mutate func(*domain.Affiliate) (bool, error)) (domain.Affiliate, error) {
	if affiliateID == "" {
		return domain.Affiliate{}, domain.ErrInvalidInput
	}
	var out domain.Affiliate
	err := s.withAffiliateLock(ctx, affiliateID, func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt <= s.cfg.MaxConflictRetries; attempt++ {
			aff, err := s.affiliates.GetByID(ctx, affiliateID)
			if err != nil {
				return err
			}
			changed, err := mutate(&aff)
			if err != nil {
				return err
			}
			if !changed {
				out = aff
				return nil
			}
			aff.UpdatedAt = s.nowFn()
			saved, err := s.affiliates.Update(ctx, aff)
			if err == nil {
				out = saved
				return nil
			}
			if !isRetryableConflict(err) {
				return err
			}
			lastErr = err
		}
		return lastErr
	})
	return out, err
}
