package domain

import (
	"testing"
	"time"
)

func activeReferrer(id, code string) *Affiliate {
	accepted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Affiliate{AffiliateID: id, ReferralCode: code, Status: AffiliateStatusActive, TermsAcceptedAt: &accepted}
}

func TestAttributeFirstTouchWins(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first := Attribute(AttributionRequest{VisitorToken: "v", IncomingCode: "aaaa2222", Referrer: activeReferrer("aff-a", "AAAA2222"), Now: t0})
	if first.Outcome != AttributionOutcomeCreated || first.Binding.AffiliateID != "aff-a" {
		t.Fatalf("unexpected first touch %+v", first)
	}
	if !first.Binding.ExpiresAt.Equal(t0.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", first.Binding.ExpiresAt)
	}

	second := Attribute(AttributionRequest{VisitorToken: "v", IncomingCode: "BBBB3333", Referrer: activeReferrer("aff-b", "BBBB3333"), Now: t0.Add(24 * time.Hour), Existing: first.Binding})
	if second.Outcome != AttributionOutcomeKept || second.Binding.AffiliateID != "aff-a" || second.IgnoredCode != "BBBB3333" {
		t.Fatalf("expected first touch kept, got %+v", second)
	}
}

func TestAttributeExpiredBindingIsReplaced(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first := Attribute(AttributionRequest{VisitorToken: "v", IncomingCode: "AAAA2222", Referrer: activeReferrer("aff-a", "AAAA2222"), Now: t0})
	later := t0.Add(31 * 24 * time.Hour)

	none := Attribute(AttributionRequest{VisitorToken: "v", Now: later, Existing: first.Binding})
	if none.Outcome != AttributionOutcomeNone || none.Attributed() {
		t.Fatalf("expected no attribution after 31 days, got %+v", none)
	}
	fresh := Attribute(AttributionRequest{VisitorToken: "v", IncomingCode: "BBBB3333", Referrer: activeReferrer("aff-b", "BBBB3333"), Now: later, Existing: first.Binding})
	if fresh.Outcome != AttributionOutcomeCreated || fresh.Binding.AffiliateID != "aff-b" {
		t.Fatalf("expected new binding, got %+v", fresh)
	}
}

func TestAttributeIgnoresInvalidCodes(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	suspended := activeReferrer("aff-s", "SSSS4444")
	suspended.Status = AffiliateStatusSuspended
	cases := []struct {
		name     string
		code     string
		referrer *Affiliate
	}{
		{"unknown", "ZZZZ9999", nil},
		{"suspended", "SSSS4444", suspended},
		{"pending", "PPPP5555", &Affiliate{AffiliateID: "aff-p", ReferralCode: "PPPP5555", Status: AffiliateStatusPending}},
		{"owner mismatch", "QQQQ6666", activeReferrer("aff-q", "RRRR7777")},
	}
	for _, tc := range cases {
		res := Attribute(AttributionRequest{VisitorToken: "v", IncomingCode: tc.code, Referrer: tc.referrer, Now: t0})
		if res.Outcome != AttributionOutcomeNone || res.IgnoredCode != tc.code {
			t.Fatalf("%s: expected ignored code, got %+v", tc.name, res)
		}
	}

	existing := &Attribution{VisitorToken: "v", ReferralCode: "AAAA2222", AffiliateID: "aff-a", CapturedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	res := Attribute(AttributionRequest{VisitorToken: "v", IncomingCode: "ZZZZ9999", Now: t0, Existing: existing})
	if res.Outcome != AttributionOutcomeExisting || res.Binding.AffiliateID != "aff-a" {
		t.Fatalf("invalid code must fall back to existing binding, got %+v", res)
	}
}
