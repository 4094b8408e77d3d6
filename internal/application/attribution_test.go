package application_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

func (f *fixture) visitorPayment(t *testing.T, orderID, visitor string, code *string) application.CommissionResult {
	t.Helper()
	out, err := f.svc.HandlePayment(context.Background(), contracts.PaymentEventPayload{
		OrderID: orderID, VisitorToken: visitor, AffiliateReferralCode: code, CustomerID: "customer-" + orderID,
		Plan: domain.PlanPrime, SaleAmount: "100", Currency: "USD", EventType: domain.PaymentTypeSucceeded,
	}, "")
	if err != nil {
		t.Fatalf("payment %s: %v", orderID, err)
	}
	return *out.Commission
}

func TestPaymentCreditsFirstTouchOverPaymentCode(t *testing.T) {
	f := newFixture(t)
	first := f.activeAffiliate(t, "user-1")
	second := f.activeAffiliate(t, "user-2")
	ctx := context.Background()
	if _, err := f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{VisitorToken: "visitor-1", ReferralCode: first.ReferralCode}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	cases := []struct {
		name    string
		orderID string
		visitor string
		code    *string
		want    string
	}{
		{"valid code of another affiliate", "order-1", "visitor-1", ptr(second.ReferralCode), first.AffiliateID},
		{"unknown code", "order-2", "visitor-1", ptr("ZZZZZZZZ"), first.AffiliateID},
		{"no code", "order-3", "visitor-1", nil, first.AffiliateID},
		{"unbound visitor uses code", "order-4", "visitor-2", ptr(second.ReferralCode), second.AffiliateID},
	}
	for _, tc := range cases {
		res := f.visitorPayment(t, tc.orderID, tc.visitor, tc.code)
		if res.Outcome != domain.CommissionOutcomeCreated {
			t.Fatalf("%s: expected created, got %s (%s)", tc.name, res.Outcome, res.Reason)
		}
		if res.Commission.AffiliateID != tc.want {
			t.Fatalf("%s: credited %s, want %s", tc.name, res.Commission.AffiliateID, tc.want)
		}
	}

	res := f.visitorPayment(t, "order-5", "visitor-2", ptr("ZZZZZZZZ"))
	if res.Outcome != domain.CommissionOutcomeSkipped || res.Reason != domain.SkipReasonUnknownCode {
		t.Fatalf("unbound visitor with unknown code: got %s/%s", res.Outcome, res.Reason)
	}
	assertAmount(t, "first pending", f.balances(t, first.AffiliateID).PendingBalance, "75")
	assertAmount(t, "second pending", f.balances(t, second.AffiliateID).PendingBalance, "25")
}

func TestLatePaymentStillMaturesFullPeriod(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	occurredAt := f.now.Add(-20 * 24 * time.Hour)

	out, err := f.svc.HandlePayment(context.Background(), contracts.PaymentEventPayload{
		OrderID: "order-1", AffiliateReferralCode: ptr(aff.ReferralCode), CustomerID: "customer-1",
		Plan: domain.PlanPrime, SaleAmount: "100", Currency: "USD", EventType: domain.PaymentTypeSucceeded,
		OccurredAt: &occurredAt,
	}, "")
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	c := out.Commission.Commission
	if got := c.MaturesAt.Sub(c.CreatedAt); got != domain.DefaultMaturationPeriod {
		t.Fatalf("maturation window %s, want %s", got, domain.DefaultMaturationPeriod)
	}
	f.advance(20 * 24 * time.Hour)
	if got := f.sweep(t); got.Confirmed != 0 {
		t.Fatalf("late payment confirmed early: %+v", got)
	}
}

func TestCaptureBoundsClientTimestamp(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()

	res, err := f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{
		VisitorToken: "future", ReferralCode: aff.ReferralCode, Timestamp: f.now.Add(365 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !res.Binding.ExpiresAt.Equal(f.now.Add(domain.DefaultAttributionWindow)) {
		t.Fatalf("future timestamp stretched the window: expires %s", res.Binding.ExpiresAt)
	}

	past := f.now.Add(-10 * 24 * time.Hour)
	res, err = f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{
		VisitorToken: "past", ReferralCode: aff.ReferralCode, Timestamp: past,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !res.Binding.ExpiresAt.Equal(past.Add(domain.DefaultAttributionWindow)) {
		t.Fatalf("past timestamp not honored: expires %s", res.Binding.ExpiresAt)
	}

	_, err = f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{
		VisitorToken: "stale", ReferralCode: aff.ReferralCode, Timestamp: f.now.Add(-31 * 24 * time.Hour),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for stale timestamp, got %v", err)
	}

	f.advance(31 * 24 * time.Hour)
	ref, err := f.svc.ResolveCheckoutReferral(ctx, "future", time.Time{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.Attributed {
		t.Fatalf("binding outlived the window: %+v", ref)
	}
}

type failingAuditLog struct{}

func (failingAuditLog) Append(context.Context, domain.AffiliateAuditLog) error {
	return errors.New("audit store unavailable")
}

func (failingAuditLog) ListByAffiliateID(context.Context, string) ([]domain.AffiliateAuditLog, error) {
	return nil, nil
}

func TestAuditFailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, func(d *application.Dependencies) {
		d.AuditLogs = failingAuditLog{}
		d.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})
	aff := f.activeAffiliate(t, "user-1")

	if _, err := f.svc.SetTier(context.Background(), admin, application.SetTierInput{AffiliateID: aff.AffiliateID, Tier: domain.TierElite}); err != nil {
		t.Fatalf("set tier: %v", err)
	}
	logs := buf.String()
	if !strings.Contains(logs, "audit log append failed") || !strings.Contains(logs, "affiliate.tier.changed") {
		t.Fatalf("expected audit failure warning, got %s", logs)
	}
}
