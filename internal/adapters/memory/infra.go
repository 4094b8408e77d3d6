package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
)

type AuditLogRepository struct{ s *Store }

func (r *AuditLogRepository) Append(_ context.Context, row domain.AffiliateAuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.auditLogs = append(r.s.auditLogs, row)
	return nil
}

func (r *AuditLogRepository) ListByAffiliateID(_ context.Context, affiliateID string) ([]domain.AffiliateAuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.AffiliateAuditLog, 0)
	for _, row := range r.s.auditLogs {
		if row.AffiliateID == strings.TrimSpace(affiliateID) {
			out = append(out, row)
		}
	}
	return out, nil
}

type IdempotencyRepository struct{ s *Store }

func (r *IdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	if !row.ExpiresAt.IsZero() && now.After(row.ExpiresAt) {
		delete(r.s.idempotency, key)
		return nil, nil
	}
	cp := row
	cp.ResponseBody = append([]byte(nil), row.ResponseBody...)
	return &cp, nil
}

// Reserve fails while another request holds the key without a stored response.
func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row, ok := r.s.idempotency[key]; ok {
		if row.RequestHash != requestHash {
			return domain.ErrIdempotencyConflict
		}
		return domain.ErrConflict
	}
	r.s.idempotency[key] = ports.IdempotencyRecord{Key: key, RequestHash: requestHash, ExpiresAt: expiresAt}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row := r.s.idempotency[key]
	row.Key = key
	row.ResponseCode = responseCode
	row.ResponseBody = append([]byte(nil), responseBody...)
	if row.ExpiresAt.IsZero() {
		row.ExpiresAt = at.Add(7 * 24 * time.Hour)
	}
	r.s.idempotency[key] = row
	return nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row, ok := r.s.idempotency[key]; ok && len(row.ResponseBody) == 0 {
		delete(r.s.idempotency, key)
	}
	return nil
}

type EventDedupRepository struct{ s *Store }

func (r *EventDedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	exp, ok := r.s.dedup[eventID]
	if !ok {
		return false, nil
	}
	if now.After(exp) {
		delete(r.s.dedup, eventID)
		return false, nil
	}
	return true, nil
}

func (r *EventDedupRepository) MarkProcessed(_ context.Context, eventID, _ string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.dedup[eventID] = expiresAt
	return nil
}

type OutboxRepository struct{ s *Store }

func (r *OutboxRepository) Enqueue(_ context.Context, row ports.OutboxRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.outbox[row.RecordID]; ok {
		return domain.ErrConflict
	}
	r.s.outbox[row.RecordID] = row
	r.s.outboxOrder = append(r.s.outboxOrder, row.RecordID)
	return nil
}

func (r *OutboxRepository) ClaimPending(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	now := r.s.now()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.s.outboxOrder {
		row := r.s.outbox[id]
		if row.SentAt != nil || row.DeadLetteredAt != nil {
			continue
		}
		if c, ok := r.s.claims[id]; ok && c.until.After(now) {
			continue
		}
		r.s.claims[id] = outboxClaim{token: claimToken, until: claimUntil}
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) release(recordID, claimToken string) (ports.OutboxRecord, error) {
	row, ok := r.s.outbox[recordID]
	if !ok {
		return ports.OutboxRecord{}, domain.ErrNotFound
	}
	if c, ok := r.s.claims[recordID]; !ok || c.token != claimToken {
		return ports.OutboxRecord{}, domain.ErrConflict
	}
	delete(r.s.claims, recordID)
	return row, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, recordID, claimToken string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.release(recordID, claimToken)
	if err != nil {
		return err
	}
	row.SentAt = &at
	r.s.outbox[recordID] = row
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, recordID, claimToken, errMsg string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.release(recordID, claimToken)
	if err != nil {
		return err
	}
	row.RetryCount++
	row.LastError = errMsg
	r.s.outbox[recordID] = row
	return nil
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, recordID, claimToken, errMsg string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.release(recordID, claimToken)
	if err != nil {
		return err
	}
	row.LastError = errMsg
	row.DeadLetteredAt = &at
	r.s.outbox[recordID] = row
	return nil
}

// Records returns every outbox record in enqueue order.
func (r *OutboxRepository) Records() []ports.OutboxRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(r.s.outboxOrder))
	for _, id := range r.s.outboxOrder {
		out = append(out, r.s.outbox[id])
	}
	return out
}

// KeyedLocker is the in-process AffiliateLocker used when Redis is not configured.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[string]*keyedLock{}}
}

func (l *KeyedLocker) Lock(ctx context.Context, affiliateID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[affiliateID]
	if !ok {
		lk = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[affiliateID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(affiliateID, lk)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.unref(affiliateID, lk)
		})
	}, nil
}

func (l *KeyedLocker) unref(affiliateID string, lk *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, affiliateID)
	}
}
