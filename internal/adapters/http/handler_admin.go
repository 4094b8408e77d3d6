package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
)

func (h *Handler) getAffiliate(w http.ResponseWriter, r *http.Request) {
	row, err := h.service.GetAffiliate(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "affiliate_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAffiliateResponse(row))
}

func (h *Handler) setTier(w http.ResponseWriter, r *http.Request) {
	var req contracts.SetTierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	row, err := h.service.SetTier(r.Context(), actorFromContext(r.Context()), application.SetTierInput{
		AffiliateID: chi.URLParam(r, "affiliate_id"),
		Tier:        req.Tier,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAffiliateResponse(row))
}

func (h *Handler) suspendAffiliate(w http.ResponseWriter, r *http.Request) {
	var req contracts.SuspendAffiliateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	row, err := h.service.SuspendAffiliate(r.Context(), actorFromContext(r.Context()), application.SuspendAffiliateInput{
		AffiliateID: chi.URLParam(r, "affiliate_id"),
		Reason:      req.Reason,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAffiliateResponse(row))
}

func (h *Handler) reinstateAffiliate(w http.ResponseWriter, r *http.Request) {
	row, err := h.service.ReinstateAffiliate(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "affiliate_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAffiliateResponse(row))
}

func (h *Handler) issueCode(w http.ResponseWriter, r *http.Request) {
	affiliateID := chi.URLParam(r, "affiliate_id")
	code, err := h.service.IssueCode(r.Context(), actorFromContext(r.Context()), affiliateID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.IssueCodeResponse{AffiliateID: affiliateID, ReferralCode: code})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req contracts.ReconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	out, err := h.service.Reconcile(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "affiliate_id"), req.Apply)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.ReconciliationResponse{
		AffiliateID: out.AffiliateID,
		Cached:      toBalanceComponents(out.Cached),
		Projected:   toBalanceComponents(out.Projected),
		Entries:     out.Entries,
		Drift:       out.Drift,
		Applied:     out.Applied,
	})
}

func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListAuditLogs(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "affiliate_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]contracts.AuditLogResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, contracts.AuditLogResponse{
			AuditLogID: row.AuditLogID,
			Action:     row.Action,
			ActorID:    row.ActorID,
			Reason:     row.Reason,
			Metadata:   row.Metadata,
			CreatedAt:  formatTime(row.CreatedAt),
		})
	}
	writeSuccess(w, http.StatusOK, contracts.AuditLogListResponse{Items: items})
}

func (h *Handler) adminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.AdminListWithdrawals(r.Context(), actorFromContext(r.Context()),
		r.URL.Query().Get("status"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalList(out))
}

func (h *Handler) processWithdrawal(w http.ResponseWriter, r *http.Request) {
	row, err := h.service.ProcessWithdrawal(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "withdrawal_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalResponse(row))
}

func (h *Handler) resolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req contracts.ResolveWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	row, err := h.service.ResolveWithdrawal(r.Context(), actorFromContext(r.Context()), application.ResolveWithdrawalInput{
		WithdrawalID: chi.URLParam(r, "withdrawal_id"),
		Outcome:      req.Outcome,
		Note:         req.Note,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalResponse(row))
}

func (h *Handler) listDebtFlags(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListDebtFlags(r.Context(), actorFromContext(r.Context()), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]contracts.DebtFlagResponse, 0, len(out.Items))
	for _, row := range out.Items {
		items = append(items, toDebtFlagResponse(row))
	}
	writeSuccess(w, http.StatusOK, contracts.DebtFlagListResponse{Items: items, Pagination: toPagination(out.Pagination)})
}

func (h *Handler) acknowledgeDebt(w http.ResponseWriter, r *http.Request) {
	row, err := h.service.AcknowledgeDebt(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "flag_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toDebtFlagResponse(row))
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.TriggerMaturationSweep(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.SweepResponse{Scanned: out.Scanned, Confirmed: out.Confirmed, Failed: out.Failed})
}

func (h *Handler) commissionHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.CommissionHistory(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "commission_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toTransitionList(rows))
}
