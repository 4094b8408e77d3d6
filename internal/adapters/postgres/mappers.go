package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

func toAffiliateModel(row domain.Affiliate) affiliateModel {
	return affiliateModel{
		AffiliateID:      row.AffiliateID,
		UserID:           row.UserID,
		ReferralCode:     row.ReferralCode,
		Tier:             row.Tier,
		Status:           row.Status,
		TermsVersion:     row.TermsVersion,
		TermsAcceptedAt:  row.TermsAcceptedAt,
		SuspendedReason:  row.SuspendedReason,
		TotalEarnings:    row.TotalEarnings,
		PendingBalance:   row.PendingBalance,
		ReservedBalance:  row.ReservedBalance,
		WithdrawnBalance: row.WithdrawnBalance,
		AvailableBalance: row.AvailableBalance,
		Version:          row.Version,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func fromAffiliateModel(m affiliateModel) domain.Affiliate {
	return domain.Affiliate{
		AffiliateID:      m.AffiliateID,
		UserID:           m.UserID,
		ReferralCode:     m.ReferralCode,
		Tier:             m.Tier,
		Status:           m.Status,
		TermsVersion:     m.TermsVersion,
		TermsAcceptedAt:  m.TermsAcceptedAt,
		SuspendedReason:  m.SuspendedReason,
		TotalEarnings:    m.TotalEarnings,
		PendingBalance:   m.PendingBalance,
		ReservedBalance:  m.ReservedBalance,
		WithdrawnBalance: m.WithdrawnBalance,
		AvailableBalance: m.AvailableBalance,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func fromAttributionModel(m attributionModel) domain.Attribution {
	return domain.Attribution{
		VisitorToken: m.VisitorToken,
		ReferralCode: m.ReferralCode,
		AffiliateID:  m.AffiliateID,
		CapturedAt:   m.CapturedAt,
		ExpiresAt:    m.ExpiresAt,
	}
}

func toCommissionModel(row domain.Commission) commissionModel {
	return commissionModel{
		CommissionID:     row.CommissionID,
		AffiliateID:      row.AffiliateID,
		OrderID:          row.OrderID,
		CustomerID:       row.CustomerID,
		Plan:             row.Plan,
		Currency:         row.Currency,
		SaleAmount:       row.SaleAmount,
		CommissionRate:   row.CommissionRate,
		CommissionAmount: row.CommissionAmount,
		Status:           row.Status,
		CreatedAt:        row.CreatedAt,
		MaturesAt:        row.MaturesAt,
		ConfirmedAt:      row.ConfirmedAt,
		PaidAt:           row.PaidAt,
		CancelledAt:      row.CancelledAt,
		CancelReason:     row.CancelReason,
		UpdatedAt:        row.UpdatedAt,
	}
}

func fromCommissionModel(m commissionModel) domain.Commission {
	return domain.Commission{
		CommissionID:     m.CommissionID,
		AffiliateID:      m.AffiliateID,
		OrderID:          m.OrderID,
		CustomerID:       m.CustomerID,
		Plan:             m.Plan,
		Currency:         m.Currency,
		SaleAmount:       m.SaleAmount,
		CommissionRate:   m.CommissionRate,
		CommissionAmount: m.CommissionAmount,
		Status:           m.Status,
		CreatedAt:        m.CreatedAt,
		MaturesAt:        m.MaturesAt,
		ConfirmedAt:      m.ConfirmedAt,
		PaidAt:           m.PaidAt,
		CancelledAt:      m.CancelledAt,
		CancelReason:     m.CancelReason,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toWithdrawalModel(row domain.Withdrawal) (withdrawalModel, error) {
	details, err := marshalStringMap(row.PaymentDetails)
	if err != nil {
		return withdrawalModel{}, err
	}
	return withdrawalModel{
		WithdrawalID:   row.WithdrawalID,
		AffiliateID:    row.AffiliateID,
		Amount:         row.Amount,
		Currency:       row.Currency,
		PaymentMethod:  row.PaymentMethod,
		PaymentDetails: details,
		Status:         row.Status,
		CreatedAt:      row.CreatedAt,
		ProcessingAt:   row.ProcessingAt,
		ResolvedAt:     row.ResolvedAt,
		ResolvedBy:     row.ResolvedBy,
		ResolutionNote: row.ResolutionNote,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func fromWithdrawalModel(m withdrawalModel) domain.Withdrawal {
	return domain.Withdrawal{
		WithdrawalID:   m.WithdrawalID,
		AffiliateID:    m.AffiliateID,
		Amount:         m.Amount,
		Currency:       m.Currency,
		PaymentMethod:  m.PaymentMethod,
		PaymentDetails: unmarshalStringMap(m.PaymentDetails),
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		ProcessingAt:   m.ProcessingAt,
		ResolvedAt:     m.ResolvedAt,
		ResolvedBy:     m.ResolvedBy,
		ResolutionNote: m.ResolutionNote,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toLedgerEntryModel(row domain.LedgerEntry) ledgerEntryModel {
	return ledgerEntryModel{
		EntryID:        row.EntryID,
		AffiliateID:    row.AffiliateID,
		Kind:           row.Kind,
		EventKey:       row.EventKey,
		CommissionID:   row.CommissionID,
		WithdrawalID:   row.WithdrawalID,
		Amount:         row.Amount,
		FromStatus:     row.FromStatus,
		AvailableAfter: row.AvailableAfter,
		OccurredAt:     row.OccurredAt,
	}
}

func fromLedgerEntryModel(m ledgerEntryModel) domain.LedgerEntry {
	return domain.LedgerEntry{
		EntryID:        m.EntryID,
		AffiliateID:    m.AffiliateID,
		Kind:           m.Kind,
		EventKey:       m.EventKey,
		CommissionID:   m.CommissionID,
		WithdrawalID:   m.WithdrawalID,
		Amount:         m.Amount,
		FromStatus:     m.FromStatus,
		AvailableAfter: m.AvailableAfter,
		OccurredAt:     m.OccurredAt,
	}
}

func toTransitionModel(row domain.StatusTransition) transitionModel {
	return transitionModel(row)
}

func fromTransitionModel(m transitionModel) domain.StatusTransition {
	return domain.StatusTransition(m)
}

func toDebtFlagModel(row domain.DebtFlag) debtFlagModel {
	return debtFlagModel(row)
}

func fromDebtFlagModel(m debtFlagModel) domain.DebtFlag {
	return domain.DebtFlag(m)
}

func toOutboxModel(row ports.OutboxRecord) (outboxModel, error) {
	raw, err := json.Marshal(row.Envelope)
	if err != nil {
		return outboxModel{}, fmt.Errorf("marshal outbox envelope: %w", err)
	}
	return outboxModel{
		RecordID:     row.RecordID,
		EventID:      row.Envelope.EventID,
		EventType:    row.Envelope.EventType,
		EventClass:   row.EventClass,
		PartitionKey: row.Envelope.PartitionKey,
		Payload:      string(raw),
		RetryCount:   row.RetryCount,
		LastError:    row.LastError,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func fromOutboxModel(m outboxModel) (ports.OutboxRecord, error) {
	var env contracts.EventEnvelope
	if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
		return ports.OutboxRecord{}, fmt.Errorf("decode outbox %s: %w", m.RecordID, err)
	}
	return ports.OutboxRecord{
		RecordID:       m.RecordID,
		EventClass:     m.EventClass,
		Envelope:       env,
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		SentAt:         m.SentAt,
		DeadLetteredAt: m.DeadLetteredAt,
	}, nil
}

func marshalStringMap(in map[string]string) (string, error) {
	if len(in) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalStringMap(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
