package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/security"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
)

func (h *Handler) captureAttribution(w http.ResponseWriter, r *http.Request) {
	var req contracts.CaptureAttributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	in := application.CaptureAttributionInput{VisitorToken: req.VisitorToken}
	if req.ReferralCode != nil {
		in.ReferralCode = *req.ReferralCode
	}
	if ts := strings.TrimSpace(req.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "timestamp must be RFC3339")
			return
		}
		in.Timestamp = parsed
	}
	res, err := h.service.CaptureAttribution(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := contracts.CaptureAttributionResponse{
		Outcome:      res.Outcome,
		VisitorToken: strings.TrimSpace(req.VisitorToken),
		IgnoredCode:  res.IgnoredCode,
	}
	if res.Binding != nil {
		resp.ReferralCode = res.Binding.ReferralCode
		resp.AffiliateID = res.Binding.AffiliateID
		resp.ExpiresAt = formatTime(res.Binding.ExpiresAt)
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *Handler) resolveReferral(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ResolveCheckoutReferral(r.Context(), chi.URLParam(r, "visitor_token"), time.Time{})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.CheckoutReferralResponse{
		VisitorToken: out.VisitorToken,
		Attributed:   out.Attributed,
		ReferralCode: out.ReferralCode,
		AffiliateID:  out.AffiliateID,
		Tier:         out.Tier,
		ExpiresAt:    formatTimePtr(out.ExpiresAt),
	})
}

// paymentWebhook verifies the raw body before decoding so the signature covers
// exactly the bytes the processor sent.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unreadable body")
		return
	}
	if h.webhooks != nil {
		if err := h.webhooks.Verify(r.Header.Get(security.PaymentSignatureHeader), body, h.now()); err != nil {
			h.logger.WarnContext(r.Context(), "payment webhook rejected",
				"module", "http",
				"layer", "adapter",
				"operation", "payment_webhook",
				"outcome", "rejected",
				"request_id", requestIDFromContext(r.Context()),
				"error", err,
			)
			writeDomainError(w, err)
			return
		}
	}
	var payload contracts.PaymentEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	out, err := h.service.HandlePayment(r.Context(), payload, requestIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toPaymentWebhookResponse(out))
}
