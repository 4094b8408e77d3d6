package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

type AffiliateRepository interface {
	Create(ctx context.Context, row domain.Affiliate) error
	GetByID(ctx context.Context, affiliateID string) (domain.Affiliate, error)
	GetByUserID(ctx context.Context, userID string) (domain.Affiliate, error)
	GetByCode(ctx context.Context, referralCode string) (domain.Affiliate, error)
	CodeExists(ctx context.Context, referralCode string) (bool, error)
	// Update writes registry fields only when row.Version still matches storage
	// and bumps the version. Balance columns are owned by LedgerRepository.Commit.
	Update(ctx context.Context, row domain.Affiliate) (domain.Affiliate, error)
}

type AttributionRepository interface {
	// GetActive returns nil when the visitor has no unexpired binding.
	GetActive(ctx context.Context, visitorToken string, now time.Time) (*domain.Attribution, error)
	// BindIfAbsent stores binding unless an unexpired one exists. It returns the
	// binding in force afterwards and whether it was newly created.
	BindIfAbsent(ctx context.Context, binding domain.Attribution, now time.Time) (domain.Attribution, bool, error)
}

type CommissionFilter struct {
	Status string
	Limit  int
	Offset int
}

type CommissionRepository interface {
	GetByID(ctx context.Context, commissionID string) (domain.Commission, error)
	GetByOrderID(ctx context.Context, orderID string) (domain.Commission, error)
	ListByAffiliate(ctx context.Context, affiliateID string, filter CommissionFilter) ([]domain.Commission, int, error)
	ListByStatus(ctx context.Context, affiliateID, status string) ([]domain.Commission, error)
	// ListDue returns pending commissions with matures_at <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Commission, error)
	// SumPaidOut totals commissions that were ever marked paid, including ones
	// cancelled afterwards.
	SumPaidOut(ctx context.Context, affiliateID string) (decimal.Decimal, error)
}

type WithdrawalFilter struct {
	Status string
	Limit  int
	Offset int
}

type WithdrawalRepository interface {
	GetByID(ctx context.Context, withdrawalID string) (domain.Withdrawal, error)
	ListByAffiliate(ctx context.Context, affiliateID string, filter WithdrawalFilter) ([]domain.Withdrawal, int, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]domain.Withdrawal, int, error)
}

// LedgerBatch is everything one ledger mutation writes. Commit stores it
// atomically or not at all.
type LedgerBatch struct {
	Affiliate       domain.Affiliate
	ExpectedVersion int64
	Entries         []domain.LedgerEntry
	Commissions     []domain.Commission
	Withdrawals     []domain.Withdrawal
	Transitions     []domain.StatusTransition
	DebtFlags       []domain.DebtFlag
	Outbox          []OutboxRecord
}

type LedgerRepository interface {
	// Commit returns domain.ErrConflict when the affiliate version moved and
	// domain.ErrDuplicateEvent when an entry event key or commission order id
	// already exists.
	Commit(ctx context.Context, batch LedgerBatch) (domain.Affiliate, error)
	ListEntries(ctx context.Context, affiliateID string) ([]domain.LedgerEntry, error)
	HasEvent(ctx context.Context, affiliateID, eventKey string) (bool, error)
	// OverwriteBalances replaces cached balances after an explicit admin reconciliation.
	OverwriteBalances(ctx context.Context, row domain.Affiliate, expectedVersion int64) (domain.Affiliate, error)
}

type TransitionRepository interface {
	ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.StatusTransition, error)
}

type DebtFlagRepository interface {
	ListOpen(ctx context.Context, limit, offset int) ([]domain.DebtFlag, int, error)
	ListByAffiliate(ctx context.Context, affiliateID string) ([]domain.DebtFlag, error)
	Acknowledge(ctx context.Context, flagID, actorID string, at time.Time) (domain.DebtFlag, error)
}

type AuditLogRepository interface {
	Append(ctx context.Context, row domain.AffiliateAuditLog) error
	ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.AffiliateAuditLog, error)
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	ClaimPending(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, recordID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, recordID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, recordID, claimToken, errMsg string, at time.Time) error
}

// AffiliateLocker serializes balance mutations per affiliate. The returned
// release func must be called exactly once.
type AffiliateLocker interface {
	Lock(ctx context.Context, affiliateID string) (func(), error)
}
