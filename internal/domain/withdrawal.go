package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusRejected   = "rejected"
)

var DefaultMinimumWithdrawal = decimal.NewFromInt(200)

type Withdrawal struct {
	WithdrawalID   string            `json:"withdrawal_id"`
	AffiliateID    string            `json:"affiliate_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentDetails map[string]string `json:"payment_details,omitempty"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	ProcessingAt   *time.Time        `json:"processing_at,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy     string            `json:"resolved_by,omitempty"`
	ResolutionNote string            `json:"resolution_note,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Final reports whether the withdrawal can no longer change.
func (w Withdrawal) Final() bool {
	return w.Status == WithdrawalStatusCompleted || w.Status == WithdrawalStatusRejected
}

// CanTransition encodes pending -> processing -> {completed | rejected}.
// An admin may also reject straight from pending.
func CanTransition(from, to string) bool {
	switch from {
	case WithdrawalStatusPending:
		return to == WithdrawalStatusProcessing || to == WithdrawalStatusRejected
	case WithdrawalStatusProcessing:
		return to == WithdrawalStatusCompleted || to == WithdrawalStatusRejected
	default:
		return false
	}
}

// CheckWithdrawalAmount applies the request-time gate against the available balance.
func CheckWithdrawalAmount(amount, minimum, available decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidInput
	}
	if amount.LessThan(minimum) {
		return ErrBelowMinimum
	}
	if amount.GreaterThan(available) {
		return ErrInsufficientBalance
	}
	return nil
}

func NormalizeWithdrawalOutcome(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case WithdrawalStatusProcessing:
		return WithdrawalStatusProcessing, nil
	case WithdrawalStatusCompleted:
		return WithdrawalStatusCompleted, nil
	case WithdrawalStatusRejected:
		return WithdrawalStatusRejected, nil
	default:
		return "", ErrInvalidInput
	}
}
