package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type DLQRecord struct {
	OriginalEvent EventEnvelope `json:"original_event"`
	ErrorSummary  string        `json:"error_summary"`
	RetryCount    int           `json:"retry_count"`
	FirstSeenAt   time.Time     `json:"first_seen_at"`
	LastErrorAt   time.Time     `json:"last_error_at"`
	SourceTopic   string        `json:"source_topic,omitempty"`
	DLQTopic      string        `json:"dlq_topic,omitempty"`
	TraceID       string        `json:"trace_id,omitempty"`
}

// PaymentEventPayload is the payment processor callback, delivered either to the
// webhook endpoint or as the data of a payment.* envelope.
type PaymentEventPayload struct {
	EventID               string     `json:"event_id,omitempty"`
	OrderID               string     `json:"order_id"`
	AffiliateReferralCode *string    `json:"affiliate_referral_code"`
	VisitorToken          string     `json:"visitor_token,omitempty"`
	CustomerID            string     `json:"customer_id,omitempty"`
	Plan                  string     `json:"plan"`
	SaleAmount            string     `json:"sale_amount"`
	Currency              string     `json:"currency"`
	EventType             string     `json:"event_type"`
	OccurredAt            *time.Time `json:"occurred_at,omitempty"`
}

type CommissionEventPayload struct {
	AffiliateID      string `json:"affiliate_id"`
	CommissionID     string `json:"commission_id"`
	OrderID          string `json:"order_id"`
	Plan             string `json:"plan"`
	Currency         string `json:"currency"`
	SaleAmount       string `json:"sale_amount"`
	CommissionRate   string `json:"commission_rate"`
	CommissionAmount string `json:"commission_amount"`
	Status           string `json:"status"`
	FromStatus       string `json:"from_status,omitempty"`
	MaturesAt        string `json:"matures_at"`
	AvailableAfter   string `json:"available_after"`
	OccurredAt       string `json:"occurred_at"`
}

type WithdrawalEventPayload struct {
	AffiliateID    string `json:"affiliate_id"`
	WithdrawalID   string `json:"withdrawal_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	PaymentMethod  string `json:"payment_method"`
	AvailableAfter string `json:"available_after"`
	OccurredAt     string `json:"occurred_at"`
}

type DebtFlaggedPayload struct {
	AffiliateID    string `json:"affiliate_id"`
	FlagID         string `json:"flag_id"`
	CommissionID   string `json:"commission_id"`
	OrderID        string `json:"order_id"`
	Amount         string `json:"amount"`
	AvailableAfter string `json:"available_after"`
	Reason         string `json:"reason"`
	FlaggedAt      string `json:"flagged_at"`
}

type AttributionCapturedPayload struct {
	AffiliateID  string `json:"affiliate_id"`
	VisitorToken string `json:"visitor_token"`
	ReferralCode string `json:"referral_code"`
	CapturedAt   string `json:"captured_at"`
	ExpiresAt    string `json:"expires_at"`
}
