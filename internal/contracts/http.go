package contracts

type SuccessResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type AffiliateResponse struct {
	AffiliateID     string `json:"affiliate_id"`
	UserID          string `json:"user_id"`
	ReferralCode    string `json:"referral_code"`
	Tier            string `json:"tier"`
	Status          string `json:"status"`
	TermsVersion    string `json:"terms_version,omitempty"`
	TermsAcceptedAt string `json:"terms_accepted_at,omitempty"`
	SuspendedReason string `json:"suspended_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type AcceptTermsRequest struct {
	TermsVersion string `json:"terms_version"`
}

type SetTierRequest struct {
	Tier string `json:"tier"`
}

type SuspendAffiliateRequest struct {
	Reason string `json:"reason"`
}

type IssueCodeResponse struct {
	AffiliateID  string `json:"affiliate_id"`
	ReferralCode string `json:"referral_code"`
}

type BalancesResponse struct {
	AffiliateID      string `json:"affiliate_id"`
	Currency         string `json:"currency"`
	TotalEarnings    string `json:"total_earnings"`
	PendingBalance   string `json:"pending_balance"`
	ReservedBalance  string `json:"reserved_balance"`
	WithdrawnBalance string `json:"withdrawn_balance"`
	AvailableBalance string `json:"available_balance"`
	OpenDebtFlags    int    `json:"open_debt_flags"`
}

type CommissionResponse struct {
	CommissionID     string `json:"commission_id"`
	AffiliateID      string `json:"affiliate_id"`
	OrderID          string `json:"order_id"`
	Plan             string `json:"plan"`
	Currency         string `json:"currency"`
	SaleAmount       string `json:"sale_amount"`
	CommissionRate   string `json:"commission_rate"`
	CommissionAmount string `json:"commission_amount"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	MaturesAt        string `json:"matures_at"`
	ConfirmedAt      string `json:"confirmed_at,omitempty"`
	PaidAt           string `json:"paid_at,omitempty"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
	CancelReason     string `json:"cancel_reason,omitempty"`
}

type CommissionListResponse struct {
	Items      []CommissionResponse `json:"items"`
	Pagination Pagination           `json:"pagination"`
}

type WithdrawalRequest struct {
	Amount         string            `json:"amount"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentDetails map[string]string `json:"payment_details,omitempty"`
}

type ResolveWithdrawalRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`
}

type WithdrawalResponse struct {
	WithdrawalID   string `json:"withdrawal_id"`
	AffiliateID    string `json:"affiliate_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	ProcessingAt   string `json:"processing_at,omitempty"`
	ResolvedAt     string `json:"resolved_at,omitempty"`
	ResolvedBy     string `json:"resolved_by,omitempty"`
	ResolutionNote string `json:"resolution_note,omitempty"`
}

type WithdrawalListResponse struct {
	Items      []WithdrawalResponse `json:"items"`
	Pagination Pagination           `json:"pagination"`
}

type LedgerEntryResponse struct {
	EntryID        string `json:"entry_id"`
	Kind           string `json:"kind"`
	EventKey       string `json:"event_key"`
	CommissionID   string `json:"commission_id,omitempty"`
	WithdrawalID   string `json:"withdrawal_id,omitempty"`
	Amount         string `json:"amount"`
	FromStatus     string `json:"from_status,omitempty"`
	AvailableAfter string `json:"available_after"`
	OccurredAt     string `json:"occurred_at"`
}

type LedgerListResponse struct {
	Items []LedgerEntryResponse `json:"items"`
}

type TransitionResponse struct {
	TransitionID string `json:"transition_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	FromStatus   string `json:"from_status,omitempty"`
	ToStatus     string `json:"to_status"`
	Reason       string `json:"reason,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	OccurredAt   string `json:"occurred_at"`
}

type TransitionListResponse struct {
	Items []TransitionResponse `json:"items"`
}

type DebtFlagResponse struct {
	FlagID         string `json:"flag_id"`
	AffiliateID    string `json:"affiliate_id"`
	CommissionID   string `json:"commission_id"`
	OrderID        string `json:"order_id"`
	Amount         string `json:"amount"`
	AvailableAfter string `json:"available_after"`
	Reason         string `json:"reason"`
	CreatedAt      string `json:"created_at"`
	AcknowledgedAt string `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
}

type DebtFlagListResponse struct {
	Items      []DebtFlagResponse `json:"items"`
	Pagination Pagination         `json:"pagination"`
}

type AuditLogResponse struct {
	AuditLogID string            `json:"audit_log_id"`
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

type AuditLogListResponse struct {
	Items []AuditLogResponse `json:"items"`
}

type ReconcileRequest struct {
	Apply bool `json:"apply"`
}

type BalanceComponents struct {
	Pending   string `json:"pending"`
	Confirmed string `json:"confirmed"`
	Reserved  string `json:"reserved"`
	Withdrawn string `json:"withdrawn"`
	Available string `json:"available"`
}

type ReconciliationResponse struct {
	AffiliateID string            `json:"affiliate_id"`
	Cached      BalanceComponents `json:"cached"`
	Projected   BalanceComponents `json:"projected"`
	Entries     int               `json:"entries"`
	Drift       bool              `json:"drift"`
	Applied     bool              `json:"applied"`
}

type SweepResponse struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
}

type CaptureAttributionRequest struct {
	VisitorToken string  `json:"visitor_token"`
	ReferralCode *string `json:"referral_code"`
	Timestamp    string  `json:"timestamp,omitempty"`
}

type CaptureAttributionResponse struct {
	Outcome      string `json:"outcome"`
	VisitorToken string `json:"visitor_token"`
	ReferralCode string `json:"referral_code,omitempty"`
	AffiliateID  string `json:"affiliate_id,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	IgnoredCode  string `json:"ignored_code,omitempty"`
}

type CheckoutReferralResponse struct {
	VisitorToken string `json:"visitor_token"`
	Attributed   bool   `json:"attributed"`
	ReferralCode string `json:"referral_code,omitempty"`
	AffiliateID  string `json:"affiliate_id,omitempty"`
	Tier         string `json:"tier,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type PaymentWebhookResponse struct {
	EventType    string `json:"event_type"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	CommissionID string `json:"commission_id,omitempty"`
	DebtFlagID   string `json:"debt_flag_id,omitempty"`
}
