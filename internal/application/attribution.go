package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

// CaptureAttribution records a visit carrying a referral code. The first valid
// code within the window wins; later codes are reported back as ignored.
func (s *Service) CaptureAttribution(ctx context.Context, in CaptureAttributionInput) (domain.AttributionResult, error) {
	token := strings.TrimSpace(in.VisitorToken)
	if token == "" {
		return domain.AttributionResult{}, domain.ErrInvalidInput
	}
	now, err := s.captureTime(in.Timestamp)
	if err != nil {
		return domain.AttributionResult{}, err
	}
	existing, err := s.attributions.GetActive(ctx, token, now)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.AttributionResult{}, err
	}
	code := domain.NormalizeReferralCode(in.ReferralCode)
	var referrer *domain.Affiliate
	if code != "" {
		aff, err := s.affiliates.GetByCode(ctx, code)
		switch {
		case err == nil:
			referrer = &aff
		case !errors.Is(err, domain.ErrNotFound):
			return domain.AttributionResult{}, err
		}
	}
	res := domain.Attribute(domain.AttributionRequest{
		VisitorToken: token,
		IncomingCode: code,
		Referrer:     referrer,
		Now:          now,
		Existing:     existing,
		Window:       s.cfg.AttributionWindow,
	})
	if res.Outcome == domain.AttributionOutcomeCreated {
		// the store's TTL and expiry checks run on the server clock
		bound, created, err := s.attributions.BindIfAbsent(ctx, *res.Binding, s.nowFn())
		if err != nil {
			return domain.AttributionResult{}, err
		}
		if created {
			_ = s.enqueueAttributionCaptured(ctx, bound, now)
		} else {
			// a concurrent capture bound the visitor first
			res = domain.AttributionResult{Outcome: domain.AttributionOutcomeKept, Binding: &bound}
			if bound.ReferralCode != code {
				res.IgnoredCode = code
			}
		}
	}
	fields := []any{
		"operation", "capture_attribution",
		"outcome", res.Outcome,
	}
	if res.Binding != nil {
		fields = append(fields, "affiliate_id", res.Binding.AffiliateID)
	}
	if res.IgnoredCode != "" {
		fields = append(fields, "ignored_code", res.IgnoredCode)
	}
	s.logger.DebugContext(ctx, "attribution evaluated", fields...)
	return res, nil
}

// captureTime bounds a client supplied visit time by the server clock. Future
// values are ignored; values older than the window cannot bind anyone.
func (s *Service) captureTime(ts time.Time) (time.Time, error) {
	now := s.nowFn()
	if ts.IsZero() || ts.After(now) {
		return now, nil
	}
	ts = ts.UTC()
	if now.Sub(ts) >= s.cfg.AttributionWindow {
		return time.Time{}, fmt.Errorf("%w: timestamp outside attribution window", domain.ErrInvalidInput)
	}
	return ts, nil
}

// ResolveCheckoutReferral is the read model consulted when a visitor pays. A
// binding whose affiliate can no longer refer does not credit anyone.
func (s *Service) ResolveCheckoutReferral(ctx context.Context, visitorToken string, now time.Time) (CheckoutReferral, error) {
	token := strings.TrimSpace(visitorToken)
	if token == "" {
		return CheckoutReferral{}, domain.ErrInvalidInput
	}
	if now.IsZero() {
		now = s.nowFn()
	}
	out := CheckoutReferral{VisitorToken: token}
	binding, err := s.attributions.GetActive(ctx, token, now)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return CheckoutReferral{}, err
	}
	if binding == nil {
		return out, nil
	}
	aff, err := s.affiliates.GetByID(ctx, binding.AffiliateID)
	if errors.Is(err, domain.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return CheckoutReferral{}, err
	}
	if !aff.CanRefer() {
		return out, nil
	}
	expiresAt := binding.ExpiresAt
	out.Attributed = true
	out.ReferralCode = binding.ReferralCode
	out.AffiliateID = aff.AffiliateID
	out.Tier = aff.Tier
	out.ExpiresAt = &expiresAt
	return out, nil
}
