package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
	CanonicalEventClassOps           = "ops"
)

// Inbound payment events.
const (
	EventPaymentSucceeded  = "payment.succeeded"
	EventPaymentRefunded   = "payment.refunded"
	EventPaymentChargeback = "payment.chargeback"
)

// Emitted ledger events.
const (
	EventCommissionCreated   = "affiliate.commission.created"
	EventCommissionConfirmed = "affiliate.commission.confirmed"
	EventCommissionCancelled = "affiliate.commission.cancelled"
	EventWithdrawalRequested = "affiliate.withdrawal.requested"
	EventWithdrawalReversed  = "affiliate.withdrawal.reversed"
	EventWithdrawalCompleted = "affiliate.withdrawal.completed"
	EventDebtFlagged         = "affiliate.debt.flagged"
	EventAttributionCaptured = "affiliate.attribution.captured"
)

// Callback event_type values sent by the payment processor webhook.
const (
	PaymentTypeSucceeded  = "payment_succeeded"
	PaymentTypeRefunded   = "refunded"
	PaymentTypeChargeback = "chargeback"
)

func IsCanonicalInputEvent(eventType string) bool {
	switch eventType {
	case EventPaymentSucceeded, EventPaymentRefunded, EventPaymentChargeback:
		return true
	default:
		return false
	}
}

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventCommissionCreated, EventCommissionConfirmed, EventCommissionCancelled,
		EventWithdrawalRequested, EventWithdrawalReversed, EventWithdrawalCompleted,
		EventDebtFlagged, EventAttributionCaptured:
		return true
	default:
		return false
	}
}

func CanonicalEventClass(eventType string) string {
	switch {
	case eventType == EventAttributionCaptured:
		return CanonicalEventClassAnalyticsOnly
	case eventType == EventDebtFlagged:
		return CanonicalEventClassOps
	case IsCanonicalEmittedEvent(eventType):
		return CanonicalEventClassDomain
	default:
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.affiliate_id"
	}
	return ""
}

// LedgerEventType maps a ledger entry kind to the event published for it.
func LedgerEventType(kind string) string {
	switch kind {
	case LedgerCommissionCreated:
		return EventCommissionCreated
	case LedgerCommissionConfirmed:
		return EventCommissionConfirmed
	case LedgerCommissionCancelled:
		return EventCommissionCancelled
	case LedgerWithdrawalDebited:
		return EventWithdrawalRequested
	case LedgerWithdrawalReversed:
		return EventWithdrawalReversed
	case LedgerWithdrawalCompleted:
		return EventWithdrawalCompleted
	default:
		return ""
	}
}

// PaymentTypeForEvent maps an inbound topic/event to the callback event_type.
func PaymentTypeForEvent(eventType string) string {
	switch eventType {
	case EventPaymentSucceeded:
		return PaymentTypeSucceeded
	case EventPaymentRefunded:
		return PaymentTypeRefunded
	case EventPaymentChargeback:
		return PaymentTypeChargeback
	default:
		return ""
	}
}
