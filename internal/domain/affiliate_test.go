package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewReferralCodeAlphabet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := NewReferralCode(8)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("unexpected length %q", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(ReferralCodeAlphabet, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 195 {
		t.Fatalf("too many collisions: %d unique of 200", len(seen))
	}
	if _, err := NewReferralCode(0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero length, got %v", err)
	}
}

func TestRateTable(t *testing.T) {
	rates := DefaultRateTable()
	if err := rates.Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
	cases := []struct {
		tier, plan string
		want       string
		ok         bool
	}{
		{TierPrime, PlanPrime, "0.25", true},
		{TierPrime, PlanElite, "0.25", true},
		{TierElite, PlanPrime, "0.5", true},
		{"ELITE", " Elite ", "0.5", true},
		{TierElite, PlanDomain, "0", false},
		{"gold", PlanPrime, "0", false},
	}
	for _, tc := range cases {
		got, ok := rates.Rate(tc.tier, tc.plan)
		if ok != tc.ok || !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("Rate(%s,%s) = %s,%v", tc.tier, tc.plan, got, ok)
		}
	}
	bad := RateTable{TierPrime: {PlanPrime: decimal.RequireFromString("1.5")}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected rate above 1 to be rejected")
	}
}

func TestComputeCommissionAmountRoundsToCents(t *testing.T) {
	got := ComputeCommissionAmount(decimal.RequireFromString("19.99"), decimal.RequireFromString("0.25"))
	if !got.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("got %s", got)
	}
}

func TestCheckWithdrawalAmount(t *testing.T) {
	minimum := DefaultMinimumWithdrawal
	if err := CheckWithdrawalAmount(decimal.RequireFromString("199.99"), minimum, decimal.RequireFromString("500")); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected below minimum, got %v", err)
	}
	if err := CheckWithdrawalAmount(decimal.RequireFromString("200.00"), minimum, decimal.RequireFromString("200.00")); err != nil {
		t.Fatalf("exact balance should pass: %v", err)
	}
	if err := CheckWithdrawalAmount(decimal.RequireFromString("200.01"), minimum, decimal.RequireFromString("200.00")); !errors.Is(err, ErrInsufficientBalance) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !CanTransition(WithdrawalStatusPending, WithdrawalStatusRejected) || CanTransition(WithdrawalStatusPending, WithdrawalStatusCompleted) || CanTransition(WithdrawalStatusCompleted, WithdrawalStatusRejected) {
		t.Fatalf("unexpected transition table")
	}
}
