package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

type affiliateModel struct {
	AffiliateID      string          `gorm:"column:affiliate_id;primaryKey"`
	UserID           string          `gorm:"column:user_id"`
	ReferralCode     string          `gorm:"column:referral_code"`
	Tier             string          `gorm:"column:tier"`
	Status           string          `gorm:"column:status"`
	TermsVersion     string          `gorm:"column:terms_version"`
	TermsAcceptedAt  *time.Time      `gorm:"column:terms_accepted_at"`
	SuspendedReason  string          `gorm:"column:suspended_reason"`
	TotalEarnings    decimal.Decimal `gorm:"column:total_earnings;type:numeric(20,2)"`
	PendingBalance   decimal.Decimal `gorm:"column:pending_balance;type:numeric(20,2)"`
	ReservedBalance  decimal.Decimal `gorm:"column:reserved_balance;type:numeric(20,2)"`
	WithdrawnBalance decimal.Decimal `gorm:"column:withdrawn_balance;type:numeric(20,2)"`
	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:numeric(20,2)"`
	Version          int64           `gorm:"column:version"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

func (affiliateModel) TableName() string { return "affiliates" }

type attributionModel struct {
	VisitorToken string    `gorm:"column:visitor_token;primaryKey"`
	ReferralCode string    `gorm:"column:referral_code"`
	AffiliateID  string    `gorm:"column:affiliate_id"`
	CapturedAt   time.Time `gorm:"column:captured_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
}

func (attributionModel) TableName() string { return "affiliate_attributions" }

type commissionModel struct {
	CommissionID     string          `gorm:"column:commission_id;primaryKey"`
	AffiliateID      string          `gorm:"column:affiliate_id"`
	OrderID          string          `gorm:"column:order_id"`
	CustomerID       string          `gorm:"column:customer_id"`
	Plan             string          `gorm:"column:plan"`
	Currency         string          `gorm:"column:currency"`
	SaleAmount       decimal.Decimal `gorm:"column:sale_amount;type:numeric(20,2)"`
	CommissionRate   decimal.Decimal `gorm:"column:commission_rate;type:numeric(6,4)"`
	CommissionAmount decimal.Decimal `gorm:"column:commission_amount;type:numeric(20,2)"`
	Status           string          `gorm:"column:status"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	MaturesAt        time.Time       `gorm:"column:matures_at"`
	ConfirmedAt      *time.Time      `gorm:"column:confirmed_at"`
	PaidAt           *time.Time      `gorm:"column:paid_at"`
	CancelledAt      *time.Time      `gorm:"column:cancelled_at"`
	CancelReason     string          `gorm:"column:cancel_reason"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

func (commissionModel) TableName() string { return "affiliate_commissions" }

type withdrawalModel struct {
	WithdrawalID   string          `gorm:"column:withdrawal_id;primaryKey"`
	AffiliateID    string          `gorm:"column:affiliate_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,2)"`
	Currency       string          `gorm:"column:currency"`
	PaymentMethod  string          `gorm:"column:payment_method"`
	PaymentDetails string          `gorm:"column:payment_details;type:jsonb"`
	Status         string          `gorm:"column:status"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	ProcessingAt   *time.Time      `gorm:"column:processing_at"`
	ResolvedAt     *time.Time      `gorm:"column:resolved_at"`
	ResolvedBy     string          `gorm:"column:resolved_by"`
	ResolutionNote string          `gorm:"column:resolution_note"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (withdrawalModel) TableName() string { return "affiliate_withdrawals" }

type ledgerEntryModel struct {
	Seq            int64           `gorm:"column:seq;->"`
	EntryID        string          `gorm:"column:entry_id;primaryKey"`
	AffiliateID    string          `gorm:"column:affiliate_id"`
	Kind           string          `gorm:"column:kind"`
	EventKey       string          `gorm:"column:event_key"`
	CommissionID   string          `gorm:"column:commission_id"`
	WithdrawalID   string          `gorm:"column:withdrawal_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,2)"`
	FromStatus     string          `gorm:"column:from_status"`
	AvailableAfter decimal.Decimal `gorm:"column:available_after;type:numeric(20,2)"`
	OccurredAt     time.Time       `gorm:"column:occurred_at"`
}

func (ledgerEntryModel) TableName() string { return "affiliate_ledger_entries" }

type transitionModel struct {
	TransitionID string    `gorm:"column:transition_id;primaryKey"`
	EntityType   string    `gorm:"column:entity_type"`
	EntityID     string    `gorm:"column:entity_id"`
	AffiliateID  string    `gorm:"column:affiliate_id"`
	FromStatus   string    `gorm:"column:from_status"`
	ToStatus     string    `gorm:"column:to_status"`
	Reason       string    `gorm:"column:reason"`
	ActorID      string    `gorm:"column:actor_id"`
	OccurredAt   time.Time `gorm:"column:occurred_at"`
}

func (transitionModel) TableName() string { return "affiliate_status_transitions" }

type debtFlagModel struct {
	FlagID         string          `gorm:"column:flag_id;primaryKey"`
	AffiliateID    string          `gorm:"column:affiliate_id"`
	CommissionID   string          `gorm:"column:commission_id"`
	OrderID        string          `gorm:"column:order_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,2)"`
	AvailableAfter decimal.Decimal `gorm:"column:available_after;type:numeric(20,2)"`
	Reason         string          `gorm:"column:reason"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	AcknowledgedAt *time.Time      `gorm:"column:acknowledged_at"`
	AcknowledgedBy string          `gorm:"column:acknowledged_by"`
}

func (debtFlagModel) TableName() string { return "affiliate_debt_flags" }

type auditLogModel struct {
	AuditLogID  string    `gorm:"column:audit_log_id;primaryKey"`
	AffiliateID string    `gorm:"column:affiliate_id"`
	Action      string    `gorm:"column:action"`
	ActorID     string    `gorm:"column:actor_id"`
	Reason      string    `gorm:"column:reason"`
	Metadata    string    `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string { return "affiliate_audit_logs" }

type idempotencyModel struct {
	Key          string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash  string    `gorm:"column:request_hash"`
	Status       string    `gorm:"column:status"`
	ResponseCode int       `gorm:"column:response_code"`
	ResponseBody []byte    `gorm:"column:response_body"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "affiliate_idempotency" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "affiliate_event_dedup" }

type outboxModel struct {
	RecordID       string     `gorm:"column:record_id;primaryKey"`
	EventID        string     `gorm:"column:event_id"`
	EventType      string     `gorm:"column:event_type"`
	EventClass     string     `gorm:"column:event_class"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      string     `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "affiliate_outbox" }
