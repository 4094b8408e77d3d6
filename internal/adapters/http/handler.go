package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

const maxBodyBytes = 1 << 20

// WebhookVerifier checks the processor signature over the raw request body.
type WebhookVerifier interface {
	Verify(header string, body []byte, receivedAt time.Time) error
}

type Handler struct {
	service  *application.Service
	tokens   TokenVerifier
	webhooks WebhookVerifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler wires the HTTP surface. A nil webhook verifier accepts unsigned
// payment callbacks and is meant for local runs only.
func NewHandler(service *application.Service, tokens TokenVerifier, webhooks WebhookVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		tokens:   tokens,
		webhooks: webhooks,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	row, err := h.service.Enroll(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toAffiliateResponse(row))
}

func (h *Handler) acceptTerms(w http.ResponseWriter, r *http.Request) {
	var req contracts.AcceptTermsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	row, err := h.service.AcceptTerms(r.Context(), actorFromContext(r.Context()), application.AcceptTermsInput{TermsVersion: req.TermsVersion})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAffiliateResponse(row))
}

func (h *Handler) getMe(w http.ResponseWriter, r *http.Request) {
	row, err := h.service.GetMe(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAffiliateResponse(row))
}

func (h *Handler) getBalances(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.GetBalances(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toBalancesResponse(out))
}

func (h *Handler) listCommissions(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListCommissions(r.Context(), actorFromContext(r.Context()), ports.CommissionFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]contracts.CommissionResponse, 0, len(out.Items))
	for _, row := range out.Items {
		items = append(items, toCommissionResponse(row))
	}
	writeSuccess(w, http.StatusOK, contracts.CommissionListResponse{Items: items, Pagination: toPagination(out.Pagination)})
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListWithdrawals(r.Context(), actorFromContext(r.Context()), ports.WithdrawalFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalList(out))
}

func (h *Handler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req contracts.WithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	row, err := h.service.RequestWithdrawal(r.Context(), actorFromContext(r.Context()), application.RequestWithdrawalInput{
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toWithdrawalResponse(row))
}

func (h *Handler) withdrawalHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.WithdrawalHistory(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "withdrawal_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toTransitionList(rows))
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListLedger(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]contracts.LedgerEntryResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, contracts.LedgerEntryResponse{
			EntryID:        row.EntryID,
			Kind:           row.Kind,
			EventKey:       row.EventKey,
			CommissionID:   row.CommissionID,
			WithdrawalID:   row.WithdrawalID,
			Amount:         money(row.Amount),
			FromStatus:     row.FromStatus,
			AvailableAfter: money(row.AvailableAfter),
			OccurredAt:     formatTime(row.OccurredAt),
		})
	}
	writeSuccess(w, http.StatusOK, contracts.LedgerListResponse{Items: items})
}
