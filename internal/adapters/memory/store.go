// Package memory keeps every repository in one mutex-guarded store so ledger
// batches commit atomically. It backs tests and STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

type outboxClaim struct {
	token string
	until time.Time
}

type Store struct {
	mu sync.Mutex

	affiliates map[string]domain.Affiliate
	byUserID   map[string]string
	byCode     map[string]string

	attributions map[string]domain.Attribution

	commissions     map[string]domain.Commission
	commissionOrder []string
	byOrderID       map[string]string

	withdrawals     map[string]domain.Withdrawal
	withdrawalOrder []string

	entries   map[string][]domain.LedgerEntry
	eventKeys map[string]struct{}

	transitions []domain.StatusTransition

	debtFlags map[string]domain.DebtFlag
	debtOrder []string

	auditLogs   []domain.AffiliateAuditLog
	idempotency map[string]ports.IdempotencyRecord
	dedup       map[string]time.Time

	outbox      map[string]ports.OutboxRecord
	outboxOrder []string
	claims      map[string]outboxClaim

	now func() time.Time
}

type Repositories struct {
	Store        *Store
	Affiliates   *AffiliateRepository
	Attributions *AttributionRepository
	Commissions  *CommissionRepository
	Withdrawals  *WithdrawalRepository
	Ledger       *LedgerRepository
	Transitions  *TransitionRepository
	DebtFlags    *DebtFlagRepository
	AuditLogs    *AuditLogRepository
	Idempotency  *IdempotencyRepository
	EventDedup   *EventDedupRepository
	Outbox       *OutboxRepository
	Locker       *KeyedLocker
}

func NewStore() *Store {
	return &Store{
		affiliates:   map[string]domain.Affiliate{},
		byUserID:     map[string]string{},
		byCode:       map[string]string{},
		attributions: map[string]domain.Attribution{},
		commissions:  map[string]domain.Commission{},
		byOrderID:    map[string]string{},
		withdrawals:  map[string]domain.Withdrawal{},
		entries:      map[string][]domain.LedgerEntry{},
		eventKeys:    map[string]struct{}{},
		debtFlags:    map[string]domain.DebtFlag{},
		idempotency:  map[string]ports.IdempotencyRecord{},
		dedup:        map[string]time.Time{},
		outbox:       map[string]ports.OutboxRecord{},
		claims:       map[string]outboxClaim{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func NewRepositories() *Repositories {
	s := NewStore()
	return &Repositories{
		Store:        s,
		Affiliates:   &AffiliateRepository{s: s},
		Attributions: &AttributionRepository{s: s},
		Commissions:  &CommissionRepository{s: s},
		Withdrawals:  &WithdrawalRepository{s: s},
		Ledger:       &LedgerRepository{s: s},
		Transitions:  &TransitionRepository{s: s},
		DebtFlags:    &DebtFlagRepository{s: s},
		AuditLogs:    &AuditLogRepository{s: s},
		Idempotency:  &IdempotencyRepository{s: s},
		EventDedup:   &EventDedupRepository{s: s},
		Outbox:       &OutboxRepository{s: s},
		Locker:       NewKeyedLocker(),
	}
}

type AffiliateRepository struct{ s *Store }

func (r *AffiliateRepository) Create(_ context.Context, row domain.Affiliate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.affiliates[row.AffiliateID]; ok {
		return domain.ErrConflict
	}
	if _, ok := r.s.byUserID[row.UserID]; ok {
		return domain.ErrConflict
	}
	code := domain.NormalizeReferralCode(row.ReferralCode)
	if code != "" {
		if _, ok := r.s.byCode[code]; ok {
			return domain.ErrConflict
		}
		r.s.byCode[code] = row.AffiliateID
	}
	if row.Version == 0 {
		row.Version = 1
	}
	r.s.affiliates[row.AffiliateID] = row
	r.s.byUserID[row.UserID] = row.AffiliateID
	return nil
}

func (r *AffiliateRepository) GetByID(_ context.Context, affiliateID string) (domain.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.affiliates[strings.TrimSpace(affiliateID)]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *AffiliateRepository) GetByUserID(_ context.Context, userID string) (domain.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byUserID[strings.TrimSpace(userID)]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	return r.s.affiliates[id], nil
}

func (r *AffiliateRepository) GetByCode(_ context.Context, referralCode string) (domain.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byCode[domain.NormalizeReferralCode(referralCode)]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	return r.s.affiliates[id], nil
}

func (r *AffiliateRepository) CodeExists(_ context.Context, referralCode string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.byCode[domain.NormalizeReferralCode(referralCode)]
	return ok, nil
}

func (r *AffiliateRepository) Update(_ context.Context, row domain.Affiliate) (domain.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.affiliates[row.AffiliateID]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	if cur.Version != row.Version {
		return domain.Affiliate{}, domain.ErrConflict
	}
	code := domain.NormalizeReferralCode(row.ReferralCode)
	if code != cur.ReferralCode {
		if owner, ok := r.s.byCode[code]; ok && owner != cur.AffiliateID {
			return domain.Affiliate{}, domain.ErrConflict
		}
		delete(r.s.byCode, cur.ReferralCode)
		if code != "" {
			r.s.byCode[code] = cur.AffiliateID
		}
	}
	cur.ReferralCode = code
	cur.Tier = row.Tier
	cur.Status = row.Status
	cur.TermsVersion = row.TermsVersion
	cur.TermsAcceptedAt = row.TermsAcceptedAt
	cur.SuspendedReason = row.SuspendedReason
	cur.UpdatedAt = row.UpdatedAt
	cur.Version++
	r.s.affiliates[cur.AffiliateID] = cur
	return cur, nil
}

// AttributionRepository keeps one binding per visitor token. Expired bindings
// are replaced on the next capture.
type AttributionRepository struct{ s *Store }

func (r *AttributionRepository) GetActive(_ context.Context, visitorToken string, now time.Time) (*domain.Attribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.attributions[strings.TrimSpace(visitorToken)]
	if !ok || !row.ActiveAt(now) {
		return nil, nil
	}
	return &row, nil
}

func (r *AttributionRepository) BindIfAbsent(_ context.Context, binding domain.Attribution, now time.Time) (domain.Attribution, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row, ok := r.s.attributions[binding.VisitorToken]; ok && row.ActiveAt(now) {
		return row, false, nil
	}
	r.s.attributions[binding.VisitorToken] = binding
	return binding, true, nil
}
