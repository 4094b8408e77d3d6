package domain

import (
	"strings"
	"time"
)

const DefaultAttributionWindow = 30 * 24 * time.Hour

const (
	AttributionOutcomeNone     = "no_attribution"
	AttributionOutcomeCreated  = "created"
	AttributionOutcomeKept     = "kept_first_touch"
	AttributionOutcomeExisting = "existing"
)

type Attribution struct {
	VisitorToken string    `json:"visitor_token"`
	ReferralCode string    `json:"referral_code"`
	AffiliateID  string    `json:"affiliate_id"`
	CapturedAt   time.Time `json:"captured_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ActiveAt reports whether the binding still credits its affiliate at now.
func (a Attribution) ActiveAt(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// AttributionRequest is everything Attribute needs. Referrer is the resolved owner
// of IncomingCode, nil when the code is unknown.
type AttributionRequest struct {
	VisitorToken string
	IncomingCode string
	Referrer     *Affiliate
	Now          time.Time
	Existing     *Attribution
	Window       time.Duration
}

type AttributionResult struct {
	Outcome string
	Binding *Attribution
	// IgnoredCode is set when a code was presented but did not change the binding.
	IgnoredCode string
}

// Attributed reports whether the result credits an affiliate.
func (r AttributionResult) Attributed() bool { return r.Binding != nil }

// Attribute applies the first-touch policy. It has no side effects: the same
// request always yields the same result.
func Attribute(req AttributionRequest) AttributionResult {
	window := req.Window
	if window <= 0 {
		window = DefaultAttributionWindow
	}
	var existing *Attribution
	if req.Existing != nil && req.Existing.VisitorToken == req.VisitorToken && req.Existing.ActiveAt(req.Now) {
		b := *req.Existing
		existing = &b
	}
	code := NormalizeReferralCode(req.IncomingCode)
	valid := code != "" && req.Referrer != nil && req.Referrer.CanRefer() &&
		strings.EqualFold(req.Referrer.ReferralCode, code)

	if !valid {
		res := AttributionResult{Outcome: AttributionOutcomeNone}
		if code != "" {
			res.IgnoredCode = code
		}
		if existing != nil {
			res.Outcome = AttributionOutcomeExisting
			res.Binding = existing
		}
		return res
	}
	if existing != nil {
		res := AttributionResult{Outcome: AttributionOutcomeKept, Binding: existing}
		if existing.ReferralCode != code {
			res.IgnoredCode = code
		}
		return res
	}
	return AttributionResult{
		Outcome: AttributionOutcomeCreated,
		Binding: &Attribution{
			VisitorToken: req.VisitorToken,
			ReferralCode: code,
			AffiliateID:  req.Referrer.AffiliateID,
			CapturedAt:   req.Now,
			ExpiresAt:    req.Now.Add(window),
		},
	}
}
