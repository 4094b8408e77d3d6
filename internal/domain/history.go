package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntityCommission = "commission"
	EntityWithdrawal = "withdrawal"
)

// StatusTransition is one row of the append-only status history that balances
// are rebuilt and audited from.
type StatusTransition struct {
	TransitionID string    `json:"transition_id"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	AffiliateID  string    `json:"affiliate_id"`
	FromStatus   string    `json:"from_status,omitempty"`
	ToStatus     string    `json:"to_status"`
	Reason       string    `json:"reason,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	DebtReasonPaidClawback    = "paid_commission_clawback"
	DebtReasonNegativeBalance = "negative_available_balance"
)

// DebtFlag surfaces a clawback the affiliate's balance could not absorb.
type DebtFlag struct {
	FlagID         string          `json:"flag_id"`
	AffiliateID    string          `json:"affiliate_id"`
	CommissionID   string          `json:"commission_id"`
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	AvailableAfter decimal.Decimal `json:"available_after"`
	Reason         string          `json:"reason"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
}

type AffiliateAuditLog struct {
	AuditLogID  string            `json:"audit_log_id"`
	AffiliateID string            `json:"affiliate_id"`
	Action      string            `json:"action"`
	ActorID     string            `json:"actor_id"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
