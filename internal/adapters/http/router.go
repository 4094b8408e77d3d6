package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReadinessCheck reports whether backing stores are reachable.
type ReadinessCheck func(r *http.Request) error

func NewRouter(handler *Handler, ready ReadinessCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(handler.logger))
	r.Use(loggingMiddleware(handler.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(req); err != nil {
				writeError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
				return
			}
		}
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Post("/webhooks/payments", handler.paymentWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/attribution/capture", handler.captureAttribution)
		r.Get("/attribution/{visitor_token}", handler.resolveReferral)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)

			r.Post("/affiliate/enroll", handler.enroll)
			r.Post("/affiliate/terms", handler.acceptTerms)
			r.Get("/affiliate/me", handler.getMe)
			r.Get("/affiliate/balances", handler.getBalances)
			r.Get("/affiliate/commissions", handler.listCommissions)
			r.Get("/affiliate/withdrawals", handler.listWithdrawals)
			r.Post("/affiliate/withdrawals", handler.requestWithdrawal)
			r.Get("/affiliate/withdrawals/{withdrawal_id}/history", handler.withdrawalHistory)
			r.Get("/affiliate/ledger", handler.listLedger)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/affiliates/{affiliate_id}", handler.getAffiliate)
				r.Post("/affiliates/{affiliate_id}/tier", handler.setTier)
				r.Post("/affiliates/{affiliate_id}/suspend", handler.suspendAffiliate)
				r.Post("/affiliates/{affiliate_id}/reinstate", handler.reinstateAffiliate)
				r.Post("/affiliates/{affiliate_id}/code", handler.issueCode)
				r.Post("/affiliates/{affiliate_id}/reconcile", handler.reconcile)
				r.Get("/affiliates/{affiliate_id}/audit-logs", handler.listAuditLogs)
				r.Get("/withdrawals", handler.adminListWithdrawals)
				r.Post("/withdrawals/{withdrawal_id}/process", handler.processWithdrawal)
				r.Post("/withdrawals/{withdrawal_id}/resolve", handler.resolveWithdrawal)
				r.Get("/debt-flags", handler.listDebtFlags)
				r.Post("/debt-flags/{flag_id}/acknowledge", handler.acknowledgeDebt)
				r.Post("/maturation/sweep", handler.triggerSweep)
				r.Get("/commissions/{commission_id}/history", handler.commissionHistory)
			})
		})
	})
	return r
}
