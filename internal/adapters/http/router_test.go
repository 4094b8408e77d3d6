package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/security"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
)

type testServer struct {
	srv      *httptest.Server
	tokens   *security.JWTVerifier
	webhooks *security.WebhookVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repos := memory.NewRepositories()
	svc := application.NewService(application.Dependencies{
		Affiliates: repos.Affiliates, Attributions: repos.Attributions, Commissions: repos.Commissions,
		Withdrawals: repos.Withdrawals, Ledger: repos.Ledger, Transitions: repos.Transitions,
		DebtFlags: repos.DebtFlags, AuditLogs: repos.AuditLogs, Idempotency: repos.Idempotency,
		EventDedup: repos.EventDedup, Outbox: repos.Outbox, Locker: repos.Locker,
	})
	tokens, err := security.NewJWTVerifier("test-secret", "viralforge")
	if err != nil {
		t.Fatalf("jwt verifier: %v", err)
	}
	webhooks, err := security.NewWebhookVerifier("whsec_test", 5*time.Minute)
	if err != nil {
		t.Fatalf("webhook verifier: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewRouter(NewHandler(svc, tokens, webhooks, logger), nil))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, tokens: tokens, webhooks: webhooks}
}

func (s *testServer) token(t *testing.T, subject, role string) string {
	t.Helper()
	raw, err := s.tokens.Sign(subject, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func (s *testServer) webhook(t *testing.T, payload contracts.PaymentEventPayload, signature string) (int, envelope) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if signature == "" {
		signature = s.webhooks.Sign(raw, time.Now())
	}
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/webhooks/payments", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(security.PaymentSignatureHeader, signature)
	return send(t, req)
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return out
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t)
	if status, _ := s.do(t, http.MethodGet, "/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz status %d", status)
	}
	status, env := s.do(t, http.MethodGet, "/api/v1/affiliate/me", "", nil, nil)
	if status != http.StatusUnauthorized || env.Code != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %s", status, env.Code)
	}
	status, _ = s.do(t, http.MethodGet, "/api/v1/affiliate/me", "not-a-jwt", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}
	status, env = s.do(t, http.MethodGet, "/api/v1/admin/debt-flags", s.token(t, "user-1", "affiliate"), nil, nil)
	if status != http.StatusForbidden || env.Code != "FORBIDDEN" {
		t.Fatalf("expected 403 for affiliate on admin route, got %d %s", status, env.Code)
	}
}

func TestPaymentWebhookCreditsAffiliate(t *testing.T) {
	s := newTestServer(t)
	userToken := s.token(t, "user-1", "affiliate")

	status, env := s.do(t, http.MethodPost, "/api/v1/affiliate/terms", userToken, contracts.AcceptTermsRequest{TermsVersion: "2026-01"}, nil)
	if status != http.StatusOK {
		t.Fatalf("accept terms status %d: %s", status, env.Message)
	}
	aff := decodeData[contracts.AffiliateResponse](t, env)
	if aff.Status != "active" || aff.ReferralCode == "" {
		t.Fatalf("unexpected affiliate %+v", aff)
	}

	code := aff.ReferralCode
	payment := contracts.PaymentEventPayload{
		OrderID: "order-1", AffiliateReferralCode: &code, CustomerID: "customer-9",
		Plan: "prime", SaleAmount: "100.00", Currency: "USD", EventType: "payment_succeeded",
	}
	if status, env := s.webhook(t, payment, "t=1,v1=deadbeef"); status != http.StatusUnauthorized || env.Code != "INVALID_SIGNATURE" {
		t.Fatalf("expected rejected signature, got %d %s", status, env.Code)
	}
	status, env = s.webhook(t, payment, "")
	if status != http.StatusOK {
		t.Fatalf("webhook status %d: %s", status, env.Message)
	}
	res := decodeData[contracts.PaymentWebhookResponse](t, env)
	if res.Outcome != "created" || res.CommissionID == "" {
		t.Fatalf("unexpected webhook result %+v", res)
	}
	_, env = s.webhook(t, payment, "")
	if again := decodeData[contracts.PaymentWebhookResponse](t, env); again.Outcome != "duplicate" || again.CommissionID != res.CommissionID {
		t.Fatalf("replay should be a duplicate of %s, got %+v", res.CommissionID, again)
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/affiliate/balances", userToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("balances status %d", status)
	}
	bal := decodeData[contracts.BalancesResponse](t, env)
	if bal.PendingBalance != "25.00" || bal.AvailableBalance != "0.00" || bal.TotalEarnings != "25.00" {
		t.Fatalf("unexpected balances %+v", bal)
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/affiliate/commissions?status=pending", userToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("commissions status %d", status)
	}
	list := decodeData[contracts.CommissionListResponse](t, env)
	if len(list.Items) != 1 || list.Items[0].CommissionAmount != "25.00" || list.Items[0].CommissionRate != "0.2500" {
		t.Fatalf("unexpected commissions %+v", list)
	}

	refund := contracts.PaymentEventPayload{OrderID: "order-1", EventType: "refunded"}
	_, env = s.webhook(t, refund, "")
	if out := decodeData[contracts.PaymentWebhookResponse](t, env); out.Outcome != "cancelled" {
		t.Fatalf("expected cancellation, got %+v", out)
	}
	_, env = s.do(t, http.MethodGet, "/api/v1/affiliate/balances", userToken, nil, nil)
	if bal := decodeData[contracts.BalancesResponse](t, env); bal.PendingBalance != "0.00" {
		t.Fatalf("pending after refund = %s", bal.PendingBalance)
	}
}

func TestWithdrawalErrorMapping(t *testing.T) {
	s := newTestServer(t)
	userToken := s.token(t, "user-1", "affiliate")
	if status, env := s.do(t, http.MethodPost, "/api/v1/affiliate/terms", userToken, contracts.AcceptTermsRequest{TermsVersion: "2026-01"}, nil); status != http.StatusOK {
		t.Fatalf("accept terms status %d: %s", status, env.Message)
	}

	req := contracts.WithdrawalRequest{Amount: "250.00", PaymentMethod: "paypal"}
	status, env := s.do(t, http.MethodPost, "/api/v1/affiliate/withdrawals", userToken, req, nil)
	if status != http.StatusBadRequest || env.Code != "IDEMPOTENCY_KEY_REQUIRED" {
		t.Fatalf("expected missing idempotency key, got %d %s", status, env.Code)
	}
	key := map[string]string{"Idempotency-Key": "wd-1"}
	status, env = s.do(t, http.MethodPost, "/api/v1/affiliate/withdrawals", userToken, contracts.WithdrawalRequest{Amount: "10.00", PaymentMethod: "paypal"}, key)
	if status != http.StatusUnprocessableEntity || env.Code != "BELOW_MINIMUM" {
		t.Fatalf("expected BELOW_MINIMUM, got %d %s", status, env.Code)
	}
	status, env = s.do(t, http.MethodPost, "/api/v1/affiliate/withdrawals", userToken, req, map[string]string{"Idempotency-Key": "wd-2"})
	if status != http.StatusUnprocessableEntity || env.Code != "INSUFFICIENT_BALANCE" {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %d %s", status, env.Code)
	}
}

func TestAttributionCaptureAndResolve(t *testing.T) {
	s := newTestServer(t)
	userToken := s.token(t, "user-1", "affiliate")
	_, env := s.do(t, http.MethodPost, "/api/v1/affiliate/terms", userToken, contracts.AcceptTermsRequest{TermsVersion: "2026-01"}, nil)
	aff := decodeData[contracts.AffiliateResponse](t, env)

	code := aff.ReferralCode
	status, env := s.do(t, http.MethodPost, "/api/v1/attribution/capture", "", contracts.CaptureAttributionRequest{VisitorToken: "visitor-1", ReferralCode: &code}, nil)
	if status != http.StatusOK {
		t.Fatalf("capture status %d: %s", status, env.Message)
	}
	captured := decodeData[contracts.CaptureAttributionResponse](t, env)
	if captured.Outcome != "created" || captured.AffiliateID != aff.AffiliateID {
		t.Fatalf("unexpected capture %+v", captured)
	}

	other := "ZZZZZZZZ"
	_, env = s.do(t, http.MethodPost, "/api/v1/attribution/capture", "", contracts.CaptureAttributionRequest{VisitorToken: "visitor-1", ReferralCode: &other}, nil)
	if again := decodeData[contracts.CaptureAttributionResponse](t, env); again.AffiliateID != aff.AffiliateID {
		t.Fatalf("first touch must win, got %+v", again)
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/attribution/visitor-1", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("resolve status %d", status)
	}
	ref := decodeData[contracts.CheckoutReferralResponse](t, env)
	if !ref.Attributed || ref.ReferralCode != code || ref.ExpiresAt == "" {
		t.Fatalf("unexpected referral %+v", ref)
	}

	_, env = s.do(t, http.MethodGet, "/api/v1/attribution/visitor-unknown", "", nil, nil)
	if ref := decodeData[contracts.CheckoutReferralResponse](t, env); ref.Attributed {
		t.Fatalf("unknown visitor should not be attributed: %+v", ref)
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/attribution/capture", "", contracts.CaptureAttributionRequest{VisitorToken: "visitor-2", Timestamp: "yesterday"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected bad timestamp to fail, got %d %s", status, env.Code)
	}
}
