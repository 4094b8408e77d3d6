package postgres

import (
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Affiliates   ports.AffiliateRepository
	Attributions ports.AttributionRepository
	Commissions  ports.CommissionRepository
	Withdrawals  ports.WithdrawalRepository
	Ledger       ports.LedgerRepository
	Transitions  ports.TransitionRepository
	DebtFlags    ports.DebtFlagRepository
	AuditLogs    ports.AuditLogRepository
	Idempotency  ports.IdempotencyRepository
	EventDedup   ports.EventDedupRepository
	Outbox       ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Affiliates:   &affiliateRepository{db: db},
		Attributions: &attributionRepository{db: db},
		Commissions:  &commissionRepository{db: db},
		Withdrawals:  &withdrawalRepository{db: db},
		Ledger:       &ledgerRepository{db: db},
		Transitions:  &transitionRepository{db: db},
		DebtFlags:    &debtFlagRepository{db: db},
		AuditLogs:    &auditLogRepository{db: db},
		Idempotency:  &idempotencyRepository{db: db},
		EventDedup:   &eventDedupRepository{db: db},
		Outbox:       &outboxRepository{db: db},
	}
}
