package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

// appendAudit never fails the caller: the audited change is already committed.
func (s *Service) appendAudit(ctx context.Context, affiliateID, action, actorID, reason string, meta map[string]string) {
	if s.auditLogs == nil {
		return
	}
	row := domain.AffiliateAuditLog{AuditLogID: "audit_" + uuid.NewString(), AffiliateID: affiliateID, Action: action, ActorID: actorID, Reason: reason, Metadata: meta, CreatedAt: s.nowFn()}
	if err := s.auditLogs.Append(ctx, row); err != nil {
		s.logger.WarnContext(ctx, "audit log append failed",
			"operation", "append_audit",
			"outcome", "failure",
			"affiliate_id", affiliateID,
			"action", action,
			"error", err,
		)
	}
}

func isAdmin(actor Actor) bool { return strings.ToLower(strings.TrimSpace(actor.Role)) == "admin" }

func requireActor(actor Actor) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireAdmin(actor Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !isAdmin(actor) {
		return domain.ErrForbidden
	}
	return nil
}

func hashJSON(v any) string {
	raw, _ := json.Marshal(v)
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

// idempotencyKey scopes a client supplied key to the caller and operation.
func idempotencyKey(op string, actor Actor) string {
	return op + ":" + strings.TrimSpace(actor.SubjectID) + ":" + strings.TrimSpace(actor.IdempotencyKey)
}

func (s *Service) getIdempotent(ctx context.Context, key, expectedHash string) ([]byte, bool, error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil, false, nil
	}
	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil || rec == nil {
		return nil, false, err
	}
	if rec.RequestHash != expectedHash {
		return nil, false, domain.ErrIdempotencyConflict
	}
	if len(rec.ResponseBody) == 0 {
		return nil, false, nil
	}
	return rec.ResponseBody, true, nil
}

func (s *Service) reserveIdempotency(ctx context.Context, key, requestHash string) error {
	if s.idempotency == nil {
		return nil
	}
	return s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL))
}

func (s *Service) completeIdempotencyJSON(ctx context.Context, key string, code int, v any) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	raw, _ := json.Marshal(v)
	return s.idempotency.Complete(ctx, key, code, raw, s.nowFn())
}

// releaseIdempotency drops a reservation whose operation failed so the client
// can retry with the same key.
func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "release idempotency reservation failed",
			"operation", "release_idempotency",
			"outcome", "failure",
			"error", err,
		)
	}
}

// idempotent runs fn at most once per key. A replay with the same request
// returns the stored result; a different request under the same key is a conflict.
func idempotent[T any](ctx context.Context, s *Service, key, requestHash string, code int, fn func() (T, error)) (T, error) {
	var zero T
	if raw, ok, err := s.getIdempotent(ctx, key, requestHash); err != nil {
		return zero, err
	} else if ok {
		var out T
		if json.Unmarshal(raw, &out) == nil {
			return out, nil
		}
	}
	if err := s.reserveIdempotency(ctx, key, requestHash); err != nil {
		return zero, err
	}
	out, err := fn()
	if err != nil {
		s.releaseIdempotency(ctx, key)
		return zero, err
	}
	_ = s.completeIdempotencyJSON(ctx, key, code, out)
	return out, nil
}
