package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AffiliateStatusPending   = "pending"
	AffiliateStatusActive    = "active"
	AffiliateStatusSuspended = "suspended"

	TierPrime = "prime"
	TierElite = "elite"
)

// ReferralCodeAlphabet leaves out characters that are easy to misread (0/O, 1/I/L).
const ReferralCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

type Affiliate struct {
	AffiliateID      string          `json:"affiliate_id"`
	UserID           string          `json:"user_id"`
	ReferralCode     string          `json:"referral_code"`
	Tier             string          `json:"tier"`
	Status           string          `json:"status"`
	TermsVersion     string          `json:"terms_version,omitempty"`
	TermsAcceptedAt  *time.Time      `json:"terms_accepted_at,omitempty"`
	SuspendedReason  string          `json:"suspended_reason,omitempty"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance"`
	WithdrawnBalance decimal.Decimal `json:"withdrawn_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CanRefer reports whether the affiliate's code may bind visitors and earn commissions.
func (a Affiliate) CanRefer() bool {
	return a.Status == AffiliateStatusActive && a.TermsAcceptedAt != nil
}

// Balances reads the cached balance columns back into ledger components.
func (a Affiliate) Balances() Balances {
	confirmed := a.AvailableBalance.Add(a.WithdrawnBalance).Add(a.ReservedBalance)
	return Balances{
		Pending:   a.PendingBalance,
		Confirmed: confirmed,
		Reserved:  a.ReservedBalance,
		Withdrawn: a.WithdrawnBalance,
	}
}

// WithBalances returns a copy with every cache column derived from b.
func (a Affiliate) WithBalances(b Balances) Affiliate {
	a.TotalEarnings = b.TotalEarnings()
	a.PendingBalance = b.Pending
	a.ReservedBalance = b.Reserved
	a.WithdrawnBalance = b.Withdrawn
	a.AvailableBalance = b.Available()
	return a
}

func NormalizeTier(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case TierPrime:
		return TierPrime, nil
	case TierElite:
		return TierElite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
	}
}

// NewReferralCode draws length characters from ReferralCodeAlphabet using crypto/rand.
func NewReferralCode(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidInput
	}
	const n = len(ReferralCodeAlphabet)
	// largest multiple of n below 256, so byte values map without modulo bias
	limit := byte(256 - 256%n)
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, ReferralCodeAlphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// NormalizeReferralCode upper-cases and trims a code typed or pasted by a visitor.
func NormalizeReferralCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
