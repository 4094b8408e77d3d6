package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CommissionStatusPending   = "pending"
	CommissionStatusConfirmed = "confirmed"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"

	PlanPrime = "prime"
	PlanElite = "elite"
	// PlanDomain is a one-time purchase and never earns commission.
	PlanDomain = "domain"

	DefaultMaturationPeriod = 30 * 24 * time.Hour
)

const (
	CommissionOutcomeCreated   = "created"
	CommissionOutcomeDuplicate = "duplicate"
	CommissionOutcomeSkipped   = "skipped"
	CommissionOutcomeCancelled = "cancelled"

	SkipReasonNoReferral       = "no_referral"
	SkipReasonUnknownCode      = "unknown_code"
	SkipReasonAffiliateMissing = "affiliate_not_found"
	SkipReasonInactive         = "affiliate_inactive"
	SkipReasonSelfReferral     = "self_referral"
	SkipReasonPlanNotEligible  = "plan_not_eligible"
	SkipReasonCurrencyMismatch = "currency_mismatch"
	SkipReasonOrderNotFound    = "order_not_found"
)

type Commission struct {
	CommissionID     string          `json:"commission_id"`
	AffiliateID      string          `json:"affiliate_id"`
	OrderID          string          `json:"order_id"`
	CustomerID       string          `json:"customer_id,omitempty"`
	Plan             string          `json:"plan"`
	Currency         string          `json:"currency"`
	SaleAmount       decimal.Decimal `json:"sale_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	MaturesAt        time.Time       `json:"matures_at"`
	ConfirmedAt      *time.Time      `json:"confirmed_at,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Credited reports whether the commission currently counts toward confirmed earnings.
func (c Commission) Credited() bool {
	return c.Status == CommissionStatusConfirmed || c.Status == CommissionStatusPaid
}

// DueAt reports whether the maturation sweep should confirm the commission.
func (c Commission) DueAt(now time.Time) bool {
	return c.Status == CommissionStatusPending && !now.Before(c.MaturesAt)
}

// ComputeCommissionAmount rounds half away from zero to cents.
func ComputeCommissionAmount(sale, rate decimal.Decimal) decimal.Decimal {
	return sale.Mul(rate).Round(2)
}

// RateTable maps affiliate tier -> plan -> commission rate.
//
// Rates are read once, when a commission is created, and copied onto the row.
// Changing an affiliate's tier or this table never touches existing rows.
// Product has not ruled out the other reading, where a tier change also
// re-prices future billing events of already-referred customers; supporting
// that would mean resolving the rate per billing event from the customer's
// original referral rather than from the affiliate's tier at payment time.
type RateTable map[string]map[string]decimal.Decimal

func DefaultRateTable() RateTable {
	prime := decimal.RequireFromString("0.25")
	elite := decimal.RequireFromString("0.50")
	return RateTable{
		TierPrime: {PlanPrime: prime, PlanElite: prime},
		TierElite: {PlanPrime: elite, PlanElite: elite},
	}
}

// Rate returns the frozen-at-creation rate for a billing event. One-time domain
// purchases are never eligible, whatever the table says.
func (t RateTable) Rate(tier, plan string) (decimal.Decimal, bool) {
	plan = NormalizePlan(plan)
	if plan == "" || plan == PlanDomain {
		return decimal.Zero, false
	}
	byPlan, ok := t[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		return decimal.Zero, false
	}
	rate, ok := byPlan[plan]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

// Validate rejects rates outside (0, 1].
func (t RateTable) Validate() error {
	if len(t) == 0 {
		return ErrInvalidInput
	}
	for tier, plans := range t {
		if _, err := NormalizeTier(tier); err != nil {
			return err
		}
		for plan, rate := range plans {
			if NormalizePlan(plan) == "" || !rate.IsPositive() || rate.GreaterThan(decimal.NewFromInt(1)) {
				return ErrInvalidInput
			}
		}
	}
	return nil
}

func NormalizePlan(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
