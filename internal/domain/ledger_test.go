package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyEntryRules(t *testing.T) {
	steps := []struct {
		entry     LedgerEntry
		available string
		total     string
	}{
		{LedgerEntry{Kind: LedgerCommissionCreated, Amount: amt("50")}, "0", "50"},
		{LedgerEntry{Kind: LedgerCommissionCreated, Amount: amt("200")}, "0", "250"},
		{LedgerEntry{Kind: LedgerCommissionConfirmed, Amount: amt("200")}, "200", "250"},
		{LedgerEntry{Kind: LedgerCommissionCancelled, Amount: amt("50"), FromStatus: CommissionStatusPending}, "200", "200"},
		{LedgerEntry{Kind: LedgerWithdrawalDebited, Amount: amt("200")}, "0", "200"},
		{LedgerEntry{Kind: LedgerWithdrawalReversed, Amount: amt("200")}, "200", "200"},
		{LedgerEntry{Kind: LedgerWithdrawalDebited, Amount: amt("200")}, "0", "200"},
		{LedgerEntry{Kind: LedgerWithdrawalCompleted, Amount: amt("200")}, "0", "200"},
	}
	var b Balances
	for i, step := range steps {
		next, err := ApplyEntry(b, step.entry)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		b = next
		if !b.Available().Equal(amt(step.available)) || !b.TotalEarnings().Equal(amt(step.total)) {
			t.Fatalf("step %d: got %s", i, b)
		}
	}
	if !b.Withdrawn.Equal(amt("200")) || !b.Reserved.IsZero() {
		t.Fatalf("unexpected final balances %s", b)
	}
}

func TestApplyEntryRejectsViolations(t *testing.T) {
	base := Balances{Pending: amt("10"), Confirmed: amt("100"), Reserved: amt("20")}
	cases := []struct {
		name  string
		entry LedgerEntry
	}{
		{"zero amount", LedgerEntry{Kind: LedgerCommissionCreated, Amount: decimal.Zero}},
		{"overdraw reservation", LedgerEntry{Kind: LedgerWithdrawalDebited, Amount: amt("80.01")}},
		{"confirm more than pending", LedgerEntry{Kind: LedgerCommissionConfirmed, Amount: amt("11")}},
		{"release more than reserved", LedgerEntry{Kind: LedgerWithdrawalReversed, Amount: amt("21")}},
		{"unknown cancel status", LedgerEntry{Kind: LedgerCommissionCancelled, Amount: amt("1"), FromStatus: "weird"}},
		{"unknown kind", LedgerEntry{Kind: "Bogus", Amount: amt("1")}},
	}
	for _, tc := range cases {
		got, err := ApplyEntry(base, tc.entry)
		var violation *InvariantViolationError
		if !errors.As(err, &violation) || !errors.Is(err, ErrInvariantViolation) {
			t.Fatalf("%s: expected invariant violation, got %v", tc.name, err)
		}
		if !got.Equal(base) {
			t.Fatalf("%s: balances changed on violation", tc.name)
		}
	}
}

func TestClawbackMayDriveAvailableNegative(t *testing.T) {
	b := Balances{Confirmed: amt("235"), Withdrawn: amt("235")}
	next, err := ApplyEntry(b, LedgerEntry{Kind: LedgerCommissionCancelled, Amount: amt("35"), FromStatus: CommissionStatusPaid})
	if err != nil {
		t.Fatalf("clawback: %v", err)
	}
	if !next.Available().Equal(amt("-35")) {
		t.Fatalf("expected -35 available, got %s", next.Available())
	}
}

func TestProjectBalancesMatchesIncrementalApply(t *testing.T) {
	entries := []LedgerEntry{
		{Kind: LedgerCommissionCreated, Amount: amt("25")},
		{Kind: LedgerCommissionConfirmed, Amount: amt("25")},
		{Kind: LedgerCommissionCreated, Amount: amt("12.50")},
	}
	got, err := ProjectBalances(entries)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	want := Balances{Pending: amt("12.5"), Confirmed: amt("25")}
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestAllocatePaidOldestFirst(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(d int) *time.Time { v := t0.AddDate(0, 0, d); return &v }
	rows := []Commission{
		{CommissionID: "c3", Status: CommissionStatusConfirmed, CommissionAmount: amt("30"), ConfirmedAt: at(3)},
		{CommissionID: "c1", Status: CommissionStatusConfirmed, CommissionAmount: amt("100"), ConfirmedAt: at(1)},
		{CommissionID: "c2", Status: CommissionStatusConfirmed, CommissionAmount: amt("150"), ConfirmedAt: at(2)},
		{CommissionID: "c0", Status: CommissionStatusPaid, CommissionAmount: amt("10"), ConfirmedAt: at(0)},
	}
	got := AllocatePaid(rows, amt("200"))
	if len(got) != 1 || got[0].CommissionID != "c1" {
		t.Fatalf("expected only c1 to fit, got %+v", got)
	}
	got = AllocatePaid(rows, amt("280"))
	if len(got) != 3 || got[0].CommissionID != "c1" || got[1].CommissionID != "c2" || got[2].CommissionID != "c3" {
		t.Fatalf("unexpected allocation %+v", got)
	}
}
