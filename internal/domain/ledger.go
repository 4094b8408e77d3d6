package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerCommissionCreated   = "CommissionCreated"
	LedgerCommissionConfirmed = "CommissionConfirmed"
	LedgerCommissionCancelled = "CommissionCancelled"
	LedgerWithdrawalDebited   = "WithdrawalDebited"
	LedgerWithdrawalReversed  = "WithdrawalReversed"
	LedgerWithdrawalCompleted = "WithdrawalCompleted"
)

// LedgerEntry is one immutable money movement. EventKey is unique per affiliate
// ledger and makes every apply replay-safe.
type LedgerEntry struct {
	EntryID        string          `json:"entry_id"`
	AffiliateID    string          `json:"affiliate_id"`
	Kind           string          `json:"kind"`
	EventKey       string          `json:"event_key"`
	CommissionID   string          `json:"commission_id,omitempty"`
	WithdrawalID   string          `json:"withdrawal_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	FromStatus     string          `json:"from_status,omitempty"`
	AvailableAfter decimal.Decimal `json:"available_after"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func CommissionEventKey(kind, commissionID string) string {
	switch kind {
	case LedgerCommissionCreated:
		return "commission_created:" + commissionID
	case LedgerCommissionConfirmed:
		return "commission_confirmed:" + commissionID
	case LedgerCommissionCancelled:
		return "commission_cancelled:" + commissionID
	}
	return kind + ":" + commissionID
}

func WithdrawalEventKey(kind, withdrawalID string) string {
	switch kind {
	case LedgerWithdrawalDebited:
		return "withdrawal_debited:" + withdrawalID
	case LedgerWithdrawalReversed:
		return "withdrawal_reversed:" + withdrawalID
	case LedgerWithdrawalCompleted:
		return "withdrawal_completed:" + withdrawalID
	}
	return kind + ":" + withdrawalID
}

// Balances are the components every cached balance column derives from.
//
//	available      = Confirmed - Withdrawn - Reserved
//	total_earnings = Pending + Confirmed
//
// Confirmed counts confirmed and paid commissions alike.
type Balances struct {
	Pending   decimal.Decimal `json:"pending"`
	Confirmed decimal.Decimal `json:"confirmed"`
	Reserved  decimal.Decimal `json:"reserved"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
}

func (b Balances) Available() decimal.Decimal {
	return b.Confirmed.Sub(b.Withdrawn).Sub(b.Reserved)
}

func (b Balances) TotalEarnings() decimal.Decimal {
	return b.Pending.Add(b.Confirmed)
}

func (b Balances) Equal(o Balances) bool {
	return b.Pending.Equal(o.Pending) && b.Confirmed.Equal(o.Confirmed) &&
		b.Reserved.Equal(o.Reserved) && b.Withdrawn.Equal(o.Withdrawn)
}

func (b Balances) String() string {
	return fmt.Sprintf("pending=%s confirmed=%s reserved=%s withdrawn=%s available=%s",
		b.Pending.StringFixed(2), b.Confirmed.StringFixed(2), b.Reserved.StringFixed(2),
		b.Withdrawn.StringFixed(2), b.Available().StringFixed(2))
}

// ApplyEntry folds one entry into b. Any component that would go negative, other
// than available itself after a clawback, is an invariant violation.
func ApplyEntry(b Balances, e LedgerEntry) (Balances, error) {
	violation := func(detail string) (Balances, error) {
		return b, &InvariantViolationError{
			AffiliateID: e.AffiliateID, EventKey: e.EventKey, Kind: e.Kind,
			Amount: e.Amount.String(), Cached: b, Projected: b, Detail: detail,
		}
	}
	if !e.Amount.IsPositive() {
		return violation("entry amount must be positive")
	}
	next := b
	switch e.Kind {
	case LedgerCommissionCreated:
		next.Pending = b.Pending.Add(e.Amount)
	case LedgerCommissionConfirmed:
		next.Pending = b.Pending.Sub(e.Amount)
		next.Confirmed = b.Confirmed.Add(e.Amount)
	case LedgerCommissionCancelled:
		switch e.FromStatus {
		case CommissionStatusPending:
			next.Pending = b.Pending.Sub(e.Amount)
		case CommissionStatusConfirmed, CommissionStatusPaid:
			next.Confirmed = b.Confirmed.Sub(e.Amount)
		default:
			return violation("cancellation from unknown status " + e.FromStatus)
		}
	case LedgerWithdrawalDebited:
		next.Reserved = b.Reserved.Add(e.Amount)
		if next.Available().IsNegative() {
			return violation("reservation exceeds available balance")
		}
	case LedgerWithdrawalReversed:
		next.Reserved = b.Reserved.Sub(e.Amount)
	case LedgerWithdrawalCompleted:
		next.Reserved = b.Reserved.Sub(e.Amount)
		next.Withdrawn = b.Withdrawn.Add(e.Amount)
	default:
		return violation("unknown ledger entry kind")
	}
	switch {
	case next.Pending.IsNegative():
		return violation("pending earnings would go negative")
	case next.Confirmed.IsNegative():
		return violation("confirmed earnings would go negative")
	case next.Reserved.IsNegative():
		return violation("reserved balance would go negative")
	}
	return next, nil
}

// ProjectBalances rebuilds balances from scratch. Entries must be in append order.
func ProjectBalances(entries []LedgerEntry) (Balances, error) {
	var b Balances
	for _, e := range entries {
		next, err := ApplyEntry(b, e)
		if err != nil {
			return b, err
		}
		b = next
	}
	return b, nil
}

// AllocatePaid picks the confirmed commissions a withdrawn total now covers,
// oldest confirmation first. coverage is withdrawn minus what earlier
// allocations already consumed. Allocation stops at the first commission that
// does not fit so the order stays stable across runs.
func AllocatePaid(confirmed []Commission, coverage decimal.Decimal) []Commission {
	ordered := make([]Commission, 0, len(confirmed))
	for _, c := range confirmed {
		if c.Status == CommissionStatusConfirmed {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := confirmedOrCreated(ordered[i]), confirmedOrCreated(ordered[j])
		if ci.Equal(cj) {
			return ordered[i].CommissionID < ordered[j].CommissionID
		}
		return ci.Before(cj)
	})
	out := make([]Commission, 0)
	remaining := coverage
	for _, c := range ordered {
		if c.CommissionAmount.GreaterThan(remaining) {
			break
		}
		remaining = remaining.Sub(c.CommissionAmount)
		out = append(out, c)
	}
	return out
}

func confirmedOrCreated(c Commission) time.Time {
	if c.ConfirmedAt != nil {
		return *c.ConfirmedAt
	}
	return c.CreatedAt
}
