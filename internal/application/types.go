package application

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

type Config struct {
	ServiceName        string
	Currency           string
	MinimumWithdrawal  decimal.Decimal
	AttributionWindow  time.Duration
	MaturationPeriod   time.Duration
	Rates              domain.RateTable
	DefaultTier        string
	CodeLength         int
	CodeMaxAttempts    int
	MaxConflictRetries int
	SweepBatchSize     int
	SkipProjection     bool
	IdempotencyTTL     time.Duration
	EventDedupTTL      time.Duration
}

type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

type AcceptTermsInput struct {
	TermsVersion string
}

type SetTierInput struct {
	AffiliateID string
	Tier        string
}

type SuspendAffiliateInput struct {
	AffiliateID string
	Reason      string
}

type CaptureAttributionInput struct {
	VisitorToken string
	ReferralCode string
	Timestamp    time.Time
}

type CheckoutReferral struct {
	VisitorToken string
	Attributed   bool
	ReferralCode string
	AffiliateID  string
	Tier         string
	ExpiresAt    *time.Time
}

// PaymentConfirmedInput is a resolved billing event: the affiliate is already known.
type PaymentConfirmedInput struct {
	OrderID     string
	AffiliateID string
	CustomerID  string
	Plan        string
	SaleAmount  decimal.Decimal
	Currency    string
	TraceID     string
}

type CommissionResult struct {
	Outcome    string
	Reason     string
	Commission *domain.Commission
}

type CommissionCancellation struct {
	Outcome        string
	Reason         string
	PreviousStatus string
	Commission     *domain.Commission
	DebtFlag       *domain.DebtFlag
}

// PaymentOutcome is what a payment callback produced. Exactly one of Commission
// or Cancellation is set for a recognized event type.
type PaymentOutcome struct {
	EventType    string
	Commission   *CommissionResult
	Cancellation *CommissionCancellation
}

type SweepResult struct {
	Scanned   int
	Confirmed int
	Failed    int
}

type RequestWithdrawalInput struct {
	Amount         string
	PaymentMethod  string
	PaymentDetails map[string]string
}

type ResolveWithdrawalInput struct {
	WithdrawalID string
	Outcome      string
	Note         string
}

type BalanceView struct {
	AffiliateID      string
	Currency         string
	TotalEarnings    decimal.Decimal
	PendingBalance   decimal.Decimal
	ReservedBalance  decimal.Decimal
	WithdrawnBalance decimal.Decimal
	AvailableBalance decimal.Decimal
	OpenDebtFlags    int
}

type Pagination struct {
	Limit  int
	Offset int
	Total  int
}

type CommissionPage struct {
	Items      []domain.Commission
	Pagination Pagination
}

type WithdrawalPage struct {
	Items      []domain.Withdrawal
	Pagination Pagination
}

type DebtFlagPage struct {
	Items      []domain.DebtFlag
	Pagination Pagination
}

type ReconciliationReport struct {
	AffiliateID string
	Cached      domain.Balances
	Projected   domain.Balances
	Entries     int
	Drift       bool
	Applied     bool
}

type Service struct {
	cfg Config

	affiliates   ports.AffiliateRepository
	attributions ports.AttributionRepository
	commissions  ports.CommissionRepository
	withdrawals  ports.WithdrawalRepository
	ledger       ports.LedgerRepository
	transitions  ports.TransitionRepository
	debtFlags    ports.DebtFlagRepository
	auditLogs    ports.AuditLogRepository
	idempotency  ports.IdempotencyRepository
	eventDedup   ports.EventDedupRepository
	outbox       ports.OutboxRepository
	locker       ports.AffiliateLocker

	logger *slog.Logger
	nowFn  func() time.Time
	codeFn func(length int) (string, error)
}

type Dependencies struct {
	Config Config
	Logger *slog.Logger

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
	Locker       ports.AffiliateLocker

	// Clock and CodeGenerator default to time.Now and domain.NewReferralCode.
	Clock         func() time.Time
	CodeGenerator func(length int) (string, error)
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M89-Affiliate-Ledger"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if !cfg.MinimumWithdrawal.IsPositive() {
		cfg.MinimumWithdrawal = domain.DefaultMinimumWithdrawal
	}
	if cfg.AttributionWindow <= 0 {
		cfg.AttributionWindow = domain.DefaultAttributionWindow
	}
	if cfg.MaturationPeriod <= 0 {
		cfg.MaturationPeriod = domain.DefaultMaturationPeriod
	}
	if len(cfg.Rates) == 0 {
		cfg.Rates = domain.DefaultRateTable()
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = domain.TierPrime
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 8
	}
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = 8
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 5
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	codeFn := deps.CodeGenerator
	if codeFn == nil {
		codeFn = domain.NewReferralCode
	}
	return &Service{
		cfg:          cfg,
		affiliates:   deps.Affiliates,
		attributions: deps.Attributions,
		commissions:  deps.Commissions,
		withdrawals:  deps.Withdrawals,
		ledger:       deps.Ledger,
		transitions:  deps.Transitions,
		debtFlags:    deps.DebtFlags,
		auditLogs:    deps.AuditLogs,
		idempotency:  deps.Idempotency,
		eventDedup:   deps.EventDedup,
		outbox:       deps.Outbox,
		locker:       deps.Locker,
		logger:       logger.With("module", "application", "layer", "application"),
		nowFn:        nowFn,
		codeFn:       codeFn,
	}
}

// Config returns the effective configuration after defaults.
func (s *Service) Config() Config { return s.cfg }
