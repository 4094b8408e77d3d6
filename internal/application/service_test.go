package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

var admin = application.Actor{SubjectID: "admin-1", Role: "admin"}

type fixture struct {
	svc   *application.Service
	repos *memory.Repositories
	now   time.Time
}

func newFixture(t *testing.T, opts ...func(*application.Dependencies)) *fixture {
	t.Helper()
	f := &fixture{repos: memory.NewRepositories(), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	deps := application.Dependencies{
		Affiliates: f.repos.Affiliates, Attributions: f.repos.Attributions, Commissions: f.repos.Commissions,
		Withdrawals: f.repos.Withdrawals, Ledger: f.repos.Ledger, Transitions: f.repos.Transitions,
		DebtFlags: f.repos.DebtFlags, AuditLogs: f.repos.AuditLogs, Idempotency: f.repos.Idempotency,
		EventDedup: f.repos.EventDedup, Outbox: f.repos.Outbox, Locker: f.repos.Locker,
		Clock: func() time.Time { return f.now },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = application.NewService(deps)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) activeAffiliate(t *testing.T, userID string) domain.Affiliate {
	t.Helper()
	aff, err := f.svc.AcceptTerms(context.Background(), application.Actor{SubjectID: userID}, application.AcceptTermsInput{TermsVersion: "2026-01"})
	if err != nil {
		t.Fatalf("accept terms for %s: %v", userID, err)
	}
	if aff.Status != domain.AffiliateStatusActive {
		t.Fatalf("expected active affiliate, got %s", aff.Status)
	}
	return aff
}

func (f *fixture) pay(t *testing.T, orderID, code, plan, amount string) application.CommissionResult {
	t.Helper()
	out, err := f.svc.HandlePayment(context.Background(), contracts.PaymentEventPayload{
		OrderID: orderID, AffiliateReferralCode: &code, CustomerID: "customer-" + orderID,
		Plan: plan, SaleAmount: amount, Currency: "USD", EventType: domain.PaymentTypeSucceeded,
	}, "")
	if err != nil {
		t.Fatalf("payment %s: %v", orderID, err)
	}
	return *out.Commission
}

func (f *fixture) refund(t *testing.T, orderID string) application.CommissionCancellation {
	t.Helper()
	out, err := f.svc.HandlePayment(context.Background(), contracts.PaymentEventPayload{OrderID: orderID, EventType: domain.PaymentTypeRefunded}, "")
	if err != nil {
		t.Fatalf("refund %s: %v", orderID, err)
	}
	return *out.Cancellation
}

func (f *fixture) balances(t *testing.T, affiliateID string) application.BalanceView {
	t.Helper()
	view, err := f.svc.BalancesFor(context.Background(), affiliateID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	return view
}

func (f *fixture) sweep(t *testing.T) application.SweepResult {
	t.Helper()
	res, err := f.svc.RunMaturationSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	return res
}

func (f *fixture) assertReconciled(t *testing.T, affiliateID string) {
	t.Helper()
	report, err := f.svc.Reconcile(context.Background(), admin, affiliateID, false)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Drift {
		t.Fatalf("cached balances drifted from ledger: cached %s projected %s", report.Cached, report.Projected)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmount(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", name, got.StringFixed(2), want)
	}
}

func TestPaymentCreatesPendingCommissionAndSweepConfirms(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")

	res := f.pay(t, "order-1", aff.ReferralCode, domain.PlanPrime, "100.00")
	if res.Outcome != domain.CommissionOutcomeCreated {
		t.Fatalf("expected created, got %s (%s)", res.Outcome, res.Reason)
	}
	assertAmount(t, "commission", res.Commission.CommissionAmount, "25.00")
	if !res.Commission.MaturesAt.Equal(f.now.Add(domain.DefaultMaturationPeriod)) {
		t.Fatalf("unexpected matures_at %s", res.Commission.MaturesAt)
	}
	view := f.balances(t, aff.AffiliateID)
	assertAmount(t, "pending", view.PendingBalance, "25")
	assertAmount(t, "available", view.AvailableBalance, "0")

	f.advance(29 * 24 * time.Hour)
	if got := f.sweep(t); got.Confirmed != 0 {
		t.Fatalf("commission confirmed before maturity: %+v", got)
	}
	f.advance(24 * time.Hour)
	if got := f.sweep(t); got.Confirmed != 1 {
		t.Fatalf("expected one confirmation, got %+v", got)
	}
	view = f.balances(t, aff.AffiliateID)
	assertAmount(t, "pending", view.PendingBalance, "0")
	assertAmount(t, "available", view.AvailableBalance, "25")
	assertAmount(t, "total", view.TotalEarnings, "25")
	f.assertReconciled(t, aff.AffiliateID)
}

func TestPaymentIdempotentOnOrderID(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")

	first := f.pay(t, "order-1", aff.ReferralCode, domain.PlanElite, "40.00")
	second := f.pay(t, "order-1", aff.ReferralCode, domain.PlanElite, "40.00")
	if second.Outcome != domain.CommissionOutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", second.Outcome)
	}
	if first.Commission.CommissionID != second.Commission.CommissionID {
		t.Fatalf("replay returned a different commission")
	}
	entries, err := f.repos.Ledger.ListEntries(context.Background(), aff.AffiliateID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	assertAmount(t, "pending", f.balances(t, aff.AffiliateID).PendingBalance, "10")
}

func TestSweepTwiceConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	f.pay(t, "order-1", aff.ReferralCode, domain.PlanPrime, "100")
	f.pay(t, "order-2", aff.ReferralCode, domain.PlanElite, "100")
	f.advance(31 * 24 * time.Hour)

	if got := f.sweep(t); got.Confirmed != 2 {
		t.Fatalf("first sweep: %+v", got)
	}
	if got := f.sweep(t); got.Confirmed != 0 || got.Scanned != 0 {
		t.Fatalf("second sweep should find nothing: %+v", got)
	}
	assertAmount(t, "available", f.balances(t, aff.AffiliateID).AvailableBalance, "50")
	f.assertReconciled(t, aff.AffiliateID)
}

func TestUnattributablePaymentsAreSkipped(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	pending, err := f.svc.Enroll(context.Background(), application.Actor{SubjectID: "user-2"})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		name    string
		payload contracts.PaymentEventPayload
		reason  string
	}{
		{"unknown code", contracts.PaymentEventPayload{OrderID: "o-1", AffiliateReferralCode: ptr("ZZZZZZZZ"), Plan: "prime", SaleAmount: "10", Currency: "USD"}, domain.SkipReasonUnknownCode},
		{"no code no visitor", contracts.PaymentEventPayload{OrderID: "o-2", Plan: "prime", SaleAmount: "10", Currency: "USD"}, domain.SkipReasonNoReferral},
		{"pending affiliate", contracts.PaymentEventPayload{OrderID: "o-3", AffiliateReferralCode: ptr(pending.ReferralCode), Plan: "prime", SaleAmount: "10", Currency: "USD"}, domain.SkipReasonInactive},
		{"self referral", contracts.PaymentEventPayload{OrderID: "o-4", AffiliateReferralCode: ptr(aff.ReferralCode), CustomerID: "user-1", Plan: "prime", SaleAmount: "10", Currency: "USD"}, domain.SkipReasonSelfReferral},
		{"domain purchase", contracts.PaymentEventPayload{OrderID: "o-5", AffiliateReferralCode: ptr(aff.ReferralCode), Plan: "domain", SaleAmount: "10", Currency: "USD"}, domain.SkipReasonPlanNotEligible},
		{"foreign currency", contracts.PaymentEventPayload{OrderID: "o-6", AffiliateReferralCode: ptr(aff.ReferralCode), Plan: "prime", SaleAmount: "10", Currency: "EUR"}, domain.SkipReasonCurrencyMismatch},
	}
	for _, tc := range cases {
		tc.payload.EventType = domain.PaymentTypeSucceeded
		out, err := f.svc.HandlePayment(ctx, tc.payload, "")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if out.Commission.Outcome != domain.CommissionOutcomeSkipped || out.Commission.Reason != tc.reason {
			t.Fatalf("%s: got %s/%s, want skipped/%s", tc.name, out.Commission.Outcome, out.Commission.Reason, tc.reason)
		}
	}
	view := f.balances(t, aff.AffiliateID)
	if !view.TotalEarnings.IsZero() {
		t.Fatalf("skipped payments must not earn, got %s", view.TotalEarnings)
	}
}

func TestPaymentFallsBackToVisitorAttribution(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()
	if _, err := f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{VisitorToken: "visitor-1", ReferralCode: aff.ReferralCode}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	f.advance(10 * 24 * time.Hour)
	out, err := f.svc.HandlePayment(ctx, contracts.PaymentEventPayload{
		OrderID: "order-1", VisitorToken: "visitor-1", Plan: "elite", SaleAmount: "20", Currency: "usd", EventType: domain.PaymentTypeSucceeded,
	}, "")
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if out.Commission.Outcome != domain.CommissionOutcomeCreated || out.Commission.Commission.AffiliateID != aff.AffiliateID {
		t.Fatalf("expected commission for attributed affiliate, got %+v", out.Commission)
	}
}

func TestAttributionExpiresAfterWindow(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()
	if _, err := f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{VisitorToken: "visitor-1", ReferralCode: aff.ReferralCode}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	f.advance(31 * 24 * time.Hour)

	ref, err := f.svc.ResolveCheckoutReferral(ctx, "visitor-1", time.Time{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.Attributed {
		t.Fatalf("binding should have expired: %+v", ref)
	}
	out, err := f.svc.HandlePayment(ctx, contracts.PaymentEventPayload{
		OrderID: "order-1", VisitorToken: "visitor-1", Plan: "prime", SaleAmount: "100", Currency: "USD", EventType: domain.PaymentTypeSucceeded,
	}, "")
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if out.Commission.Outcome != domain.CommissionOutcomeSkipped || out.Commission.Reason != domain.SkipReasonNoReferral {
		t.Fatalf("expected no_referral skip, got %+v", out.Commission)
	}
}

func TestCaptureKeepsFirstTouch(t *testing.T) {
	f := newFixture(t)
	first := f.activeAffiliate(t, "user-1")
	second := f.activeAffiliate(t, "user-2")
	ctx := context.Background()

	res, err := f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{VisitorToken: "v", ReferralCode: first.ReferralCode})
	if err != nil || res.Outcome != domain.AttributionOutcomeCreated {
		t.Fatalf("first capture: %+v %v", res, err)
	}
	f.advance(time.Hour)
	res, err = f.svc.CaptureAttribution(ctx, application.CaptureAttributionInput{VisitorToken: "v", ReferralCode: second.ReferralCode})
	if err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if res.Outcome != domain.AttributionOutcomeKept || res.Binding.AffiliateID != first.AffiliateID || res.IgnoredCode != second.ReferralCode {
		t.Fatalf("expected first touch to win, got %+v", res)
	}
	ref, err := f.svc.ResolveCheckoutReferral(ctx, "v", time.Time{})
	if err != nil || !ref.Attributed || ref.AffiliateID != first.AffiliateID {
		t.Fatalf("checkout referral: %+v %v", ref, err)
	}
}

func TestClawbackOfConfirmedCommissionDrivesBalanceNegative(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	user := application.Actor{SubjectID: "user-1", IdempotencyKey: "wd-1"}
	ctx := context.Background()

	f.pay(t, "order-big", aff.ReferralCode, domain.PlanPrime, "800.00")
	f.pay(t, "order-35", aff.ReferralCode, domain.PlanPrime, "140.00")
	f.advance(31 * 24 * time.Hour)
	f.sweep(t)
	assertAmount(t, "available", f.balances(t, aff.AffiliateID).AvailableBalance, "235")

	if _, err := f.svc.RequestWithdrawal(ctx, user, application.RequestWithdrawalInput{Amount: "235.00", PaymentMethod: "paypal"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertAmount(t, "available", f.balances(t, aff.AffiliateID).AvailableBalance, "0")

	out := f.refund(t, "order-35")
	if out.Outcome != domain.CommissionOutcomeCancelled || out.PreviousStatus != domain.CommissionStatusConfirmed {
		t.Fatalf("unexpected cancellation %+v", out)
	}
	if out.DebtFlag == nil || out.DebtFlag.Reason != domain.DebtReasonNegativeBalance {
		t.Fatalf("expected negative balance debt flag, got %+v", out.DebtFlag)
	}
	view := f.balances(t, aff.AffiliateID)
	assertAmount(t, "available", view.AvailableBalance, "-35")
	if view.OpenDebtFlags != 1 {
		t.Fatalf("expected one open debt flag, got %d", view.OpenDebtFlags)
	}
	if again := f.refund(t, "order-35"); again.Outcome != domain.CommissionOutcomeDuplicate {
		t.Fatalf("second refund should be a duplicate, got %s", again.Outcome)
	}
	f.assertReconciled(t, aff.AffiliateID)
}

func TestClawbackOfPaidCommissionRaisesDebt(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	user := application.Actor{SubjectID: "user-1", IdempotencyKey: "wd-1"}
	ctx := context.Background()

	f.pay(t, "order-big", aff.ReferralCode, domain.PlanPrime, "800.00")
	f.pay(t, "order-35", aff.ReferralCode, domain.PlanPrime, "140.00")
	f.advance(31 * 24 * time.Hour)
	f.sweep(t)
	w, err := f.svc.RequestWithdrawal(ctx, user, application.RequestWithdrawalInput{Amount: "235", PaymentMethod: "paypal"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := f.svc.ProcessWithdrawal(ctx, admin, w.WithdrawalID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := f.svc.ResolveWithdrawal(ctx, admin, application.ResolveWithdrawalInput{WithdrawalID: w.WithdrawalID, Outcome: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	c, err := f.repos.Commissions.GetByOrderID(ctx, "order-35")
	if err != nil || c.Status != domain.CommissionStatusPaid {
		t.Fatalf("expected paid commission, got %+v %v", c, err)
	}

	out := f.refund(t, "order-35")
	if out.PreviousStatus != domain.CommissionStatusPaid || out.DebtFlag == nil || out.DebtFlag.Reason != domain.DebtReasonPaidClawback {
		t.Fatalf("expected paid clawback debt, got %+v", out)
	}
	view := f.balances(t, aff.AffiliateID)
	assertAmount(t, "available", view.AvailableBalance, "-35")
	assertAmount(t, "withdrawn", view.WithdrawnBalance, "235")
	f.assertReconciled(t, aff.AffiliateID)
}

func TestWithdrawalGate(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()
	f.pay(t, "order-1", aff.ReferralCode, domain.PlanPrime, "800.00")
	f.advance(31 * 24 * time.Hour)
	f.sweep(t)

	_, err := f.svc.RequestWithdrawal(ctx, application.Actor{SubjectID: "user-1", IdempotencyKey: "k1"}, application.RequestWithdrawalInput{Amount: "199.99", PaymentMethod: "paypal"})
	if !errors.Is(err, domain.ErrBelowMinimum) {
		t.Fatalf("expected below minimum, got %v", err)
	}
	_, err = f.svc.RequestWithdrawal(ctx, application.Actor{SubjectID: "user-1", IdempotencyKey: "k2"}, application.RequestWithdrawalInput{Amount: "200.01", PaymentMethod: "paypal"})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	w, err := f.svc.RequestWithdrawal(ctx, application.Actor{SubjectID: "user-1", IdempotencyKey: "k3"}, application.RequestWithdrawalInput{Amount: "200.00", PaymentMethod: "paypal"})
	if err != nil {
		t.Fatalf("withdraw 200: %v", err)
	}
	view := f.balances(t, aff.AffiliateID)
	assertAmount(t, "available", view.AvailableBalance, "0")
	assertAmount(t, "reserved", view.ReservedBalance, "200")
	if w.Status != domain.WithdrawalStatusPending {
		t.Fatalf("unexpected status %s", w.Status)
	}
}

func TestWithdrawalRequestIdempotent(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()
	f.pay(t, "order-1", aff.ReferralCode, domain.PlanElite, "1000.00")
	f.advance(31 * 24 * time.Hour)
	f.sweep(t)

	actor := application.Actor{SubjectID: "user-1", IdempotencyKey: "same-key"}
	in := application.RequestWithdrawalInput{Amount: "250", PaymentMethod: "paypal"}
	first, err := f.svc.RequestWithdrawal(ctx, actor, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.RequestWithdrawal(ctx, actor, in)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.WithdrawalID != second.WithdrawalID {
		t.Fatalf("retry created a second withdrawal")
	}
	assertAmount(t, "reserved", f.balances(t, aff.AffiliateID).ReservedBalance, "250")

	in.Amount = "300"
	if _, err := f.svc.RequestWithdrawal(ctx, actor, in); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
	if _, err := f.svc.RequestWithdrawal(ctx, application.Actor{SubjectID: "user-1"}, in); !errors.Is(err, domain.ErrIdempotencyRequired) {
		t.Fatalf("expected idempotency key required, got %v", err)
	}
}

func TestRejectedWithdrawalReleasesReservation(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()
	f.pay(t, "order-1", aff.ReferralCode, domain.PlanPrime, "800.00")
	f.advance(31 * 24 * time.Hour)
	f.sweep(t)

	w, err := f.svc.RequestWithdrawal(ctx, application.Actor{SubjectID: "user-1", IdempotencyKey: "k"}, application.RequestWithdrawalInput{Amount: "200", PaymentMethod: "paypal"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	_, err = f.svc.ResolveWithdrawal(ctx, admin, application.ResolveWithdrawalInput{WithdrawalID: w.WithdrawalID, Outcome: "completed"})
	if !errors.Is(err, domain.ErrInvalidTransition) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("completing a pending withdrawal should conflict, got %v", err)
	}
	rejected, err := f.svc.ResolveWithdrawal(ctx, admin, application.ResolveWithdrawalInput{WithdrawalID: w.WithdrawalID, Outcome: "rejected", Note: "bad account"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	again, err := f.svc.ResolveWithdrawal(ctx, admin, application.ResolveWithdrawalInput{WithdrawalID: w.WithdrawalID, Outcome: "rejected"})
	if err != nil || again.ResolvedAt == nil || !again.ResolvedAt.Equal(*rejected.ResolvedAt) {
		t.Fatalf("re-rejecting should return the prior result: %+v %v", again, err)
	}
	view := f.balances(t, aff.AffiliateID)
	assertAmount(t, "available", view.AvailableBalance, "200")
	assertAmount(t, "reserved", view.ReservedBalance, "0")

	history, err := f.svc.WithdrawalHistory(ctx, application.Actor{SubjectID: "user-1"}, w.WithdrawalID)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected requested+rejected history, got %d %v", len(history), err)
	}
	f.assertReconciled(t, aff.AffiliateID)
}

func TestTierChangeIsNotRetroactive(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()

	before := f.pay(t, "order-1", aff.ReferralCode, domain.PlanPrime, "100")
	if _, err := f.svc.SetTier(ctx, admin, application.SetTierInput{AffiliateID: aff.AffiliateID, Tier: "ELITE"}); err != nil {
		t.Fatalf("set tier: %v", err)
	}
	after := f.pay(t, "order-2", aff.ReferralCode, domain.PlanPrime, "100")

	stored, err := f.repos.Commissions.GetByID(ctx, before.Commission.CommissionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assertAmount(t, "old rate", stored.CommissionRate, "0.25")
	assertAmount(t, "new rate", after.Commission.CommissionRate, "0.50")
	assertAmount(t, "pending", f.balances(t, aff.AffiliateID).PendingBalance, "75")

	if _, err := f.svc.SetTier(ctx, application.Actor{SubjectID: "user-1"}, application.SetTierInput{AffiliateID: aff.AffiliateID, Tier: "elite"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-admin tier change should be forbidden, got %v", err)
	}
}

func TestAcceptTermsIdempotentAndSuspensionSticks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := application.Actor{SubjectID: "user-1"}
	first := f.activeAffiliate(t, "user-1")
	f.advance(time.Hour)
	second, err := f.svc.AcceptTerms(ctx, actor, application.AcceptTermsInput{TermsVersion: "2026-01"})
	if err != nil {
		t.Fatalf("accept again: %v", err)
	}
	if !second.TermsAcceptedAt.Equal(*first.TermsAcceptedAt) || second.Version != first.Version {
		t.Fatalf("re-accepting the same version must not change the affiliate")
	}

	if _, err := f.svc.SuspendAffiliate(ctx, admin, application.SuspendAffiliateInput{AffiliateID: first.AffiliateID, Reason: "fraud review"}); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	got, err := f.svc.AcceptTerms(ctx, actor, application.AcceptTermsInput{TermsVersion: "2026-02"})
	if err != nil {
		t.Fatalf("accept new version: %v", err)
	}
	if got.Status != domain.AffiliateStatusSuspended {
		t.Fatalf("suspended affiliate must stay suspended, got %s", got.Status)
	}
	res := f.pay(t, "order-1", first.ReferralCode, domain.PlanPrime, "100")
	if res.Outcome != domain.CommissionOutcomeSkipped {
		t.Fatalf("suspended affiliate earned a commission")
	}
	back, err := f.svc.ReinstateAffiliate(ctx, admin, first.AffiliateID)
	if err != nil || back.Status != domain.AffiliateStatusActive {
		t.Fatalf("reinstate: %+v %v", back, err)
	}
}

func TestCodeSpaceExhausted(t *testing.T) {
	f := newFixture(t, func(d *application.Dependencies) {
		d.CodeGenerator = func(int) (string, error) { return "SAMECODE", nil }
		d.Config.CodeMaxAttempts = 3
	})
	ctx := context.Background()
	if _, err := f.svc.Enroll(ctx, application.Actor{SubjectID: "user-1"}); err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	if _, err := f.svc.Enroll(ctx, application.Actor{SubjectID: "user-2"}); !errors.Is(err, domain.ErrCodeSpaceExhausted) {
		t.Fatalf("expected code space exhausted, got %v", err)
	}
	again, err := f.svc.Enroll(ctx, application.Actor{SubjectID: "user-1"})
	if err != nil || again.ReferralCode != "SAMECODE" {
		t.Fatalf("enroll should be idempotent per user: %+v %v", again, err)
	}
}

func TestDriftedCacheHaltsApplyUntilReconciled(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()
	f.pay(t, "order-1", aff.ReferralCode, domain.PlanPrime, "100")

	f.repos.Ledger.DriftBalances(aff.AffiliateID, domain.Balances{Pending: dec("99")})
	_, err := f.svc.HandlePayment(ctx, contracts.PaymentEventPayload{
		OrderID: "order-2", AffiliateReferralCode: ptr(aff.ReferralCode), Plan: "prime", SaleAmount: "100", Currency: "USD", EventType: domain.PaymentTypeSucceeded,
	}, "")
	var violation *domain.InvariantViolationError
	if !errors.As(err, &violation) || !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if !violation.Projected.Pending.Equal(dec("25")) || !violation.Cached.Pending.Equal(dec("99")) {
		t.Fatalf("violation should carry both balances: %+v", violation)
	}
	if _, err := f.repos.Commissions.GetByOrderID(ctx, "order-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("nothing may be written on a violation")
	}

	report, err := f.svc.Reconcile(ctx, admin, aff.AffiliateID, true)
	if err != nil || !report.Drift || !report.Applied {
		t.Fatalf("reconcile: %+v %v", report, err)
	}
	f.assertReconciled(t, aff.AffiliateID)
	if res := f.pay(t, "order-2", aff.ReferralCode, domain.PlanPrime, "100"); res.Outcome != domain.CommissionOutcomeCreated {
		t.Fatalf("apply after reconcile: %+v", res)
	}
}

func TestCanonicalEventDeduplicated(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	ctx := context.Background()
	env := contracts.EventEnvelope{
		EventID: "evt-1", EventType: domain.EventPaymentSucceeded, OccurredAt: f.now, PartitionKeyPath: "data.order_id",
		PartitionKey: "order-1", SourceService: "billing", TraceID: "trace-1", SchemaVersion: "v1",
		Data: []byte(`{"order_id":"order-1","affiliate_referral_code":"` + aff.ReferralCode + `","plan":"prime","sale_amount":"100.00","currency":"USD"}`),
	}
	for i := 0; i < 2; i++ {
		if err := f.svc.HandleCanonicalEvent(ctx, env); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	assertAmount(t, "pending", f.balances(t, aff.AffiliateID).PendingBalance, "25")

	env.EventID, env.EventType = "evt-2", "payment.unknown"
	if err := f.svc.HandleCanonicalEvent(ctx, env); !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported event type, got %v", err)
	}
	env.TraceID = ""
	if err := f.svc.HandleCanonicalEvent(ctx, env); !errors.Is(err, domain.ErrInvalidEnvelope) {
		t.Fatalf("expected invalid envelope, got %v", err)
	}
}

func TestLedgerEventsLandInOutbox(t *testing.T) {
	f := newFixture(t)
	aff := f.activeAffiliate(t, "user-1")
	f.pay(t, "order-1", aff.ReferralCode, domain.PlanPrime, "100")
	f.advance(31 * 24 * time.Hour)
	f.sweep(t)
	f.refund(t, "order-1")

	var types []string
	for _, rec := range f.repos.Outbox.Records() {
		if rec.Envelope.PartitionKey != aff.AffiliateID {
			t.Fatalf("event %s partitioned by %q", rec.Envelope.EventType, rec.Envelope.PartitionKey)
		}
		types = append(types, rec.Envelope.EventType)
	}
	want := []string{domain.EventCommissionCreated, domain.EventCommissionConfirmed, domain.EventCommissionCancelled}
	if len(types) != len(want) {
		t.Fatalf("got events %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("got events %v, want %v", types, want)
		}
	}
}

func ptr(s string) *string { return &s }
