package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cursive-backend/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyDecision tells the caller whether to run the handler.
type IdempotencyDecision int

const (
	// IdempotencyProceed means the caller owns the key and must finish it.
	IdempotencyProceed IdempotencyDecision = iota
	// IdempotencyReplay means a completed response is stored and must be replayed.
	IdempotencyReplay
)

// IdempotencyScope identifies a single client request.
type IdempotencyScope struct {
	WorkspaceID string
	UserID      string
	Endpoint    string
	Key         string
	RequestHash string
}

// IdempotencyStore is the idempotency ledger. Each operation runs in its own
// short statement so records are never tied to the handler transaction.
type IdempotencyStore struct {
	db         *gorm.DB
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewIdempotencyStore(db *gorm.DB, ttl, staleAfter time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		db:         db,
		ttl:        ttl,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *IdempotencyStore) scoped(ctx context.Context, scope IdempotencyScope) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.IdempotencyKey{}).
		Where("workspace_id = ? AND endpoint = ? AND idempotency_key = ?", scope.WorkspaceID, scope.Endpoint, scope.Key)
}

// Begin claims the key. A fresh key is inserted as processing. An existing
// completed key is returned for replay; a failed, expired or stale one is
// reclaimed; a live processing one yields ErrIdempotencyInFlight.
func (s *IdempotencyStore) Begin(ctx context.Context, scope IdempotencyScope) (*models.IdempotencyKey, IdempotencyDecision, error) {
	now := s.now()
	rec := models.IdempotencyKey{
		WorkspaceID: scope.WorkspaceID,
		Endpoint:    scope.Endpoint,
		Key:         scope.Key,
		RequestHash: scope.RequestHash,
		UserID:      scope.UserID,
		Status:      models.IdempotencyStatusProcessing,
		ExpiresAt:   now.Add(s.ttl),
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return nil, IdempotencyProceed, fmt.Errorf("idempotency insert failed: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &rec, IdempotencyProceed, nil
	}

	var existing models.IdempotencyKey
	if err := s.scoped(ctx, scope).First(&existing).Error; err != nil {
		return nil, IdempotencyProceed, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	if existing.ExpiresAt.Before(now) {
		return s.reclaim(ctx, scope, &existing, "expires_at < ?", now)
	}
	if existing.RequestHash != scope.RequestHash {
		return nil, IdempotencyProceed, ErrIdempotencyMismatch
	}

	switch existing.Status {
	case models.IdempotencyStatusCompleted:
		return &existing, IdempotencyReplay, nil
	case models.IdempotencyStatusFailed:
		return s.reclaim(ctx, scope, &existing, "status = ?", models.IdempotencyStatusFailed)
	default:
		cutoff := now.Add(-s.staleAfter)
		if existing.UpdatedAt.Before(cutoff) {
			logrus.WithFields(logrus.Fields{
				"workspace_id":    scope.WorkspaceID,
				"idempotency_key": scope.Key,
			}).Warn("Reclaiming stale idempotency key")
			return s.reclaim(ctx, scope, &existing, "status = ? AND updated_at < ?", models.IdempotencyStatusProcessing, cutoff)
		}
		return nil, IdempotencyProceed, ErrIdempotencyInFlight
	}
}

// reclaim flips an existing row back to processing; the guard condition
// makes concurrent reclaimers race on a single UPDATE.
func (s *IdempotencyStore) reclaim(ctx context.Context, scope IdempotencyScope, existing *models.IdempotencyKey, guard string, args ...any) (*models.IdempotencyKey, IdempotencyDecision, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Where(guard, args...).
		Updates(map[string]any{
			"status":          models.IdempotencyStatusProcessing,
			"request_hash":    scope.RequestHash,
			"user_id":         scope.UserID,
			"response_status": 0,
			"response_body":   nil,
			"last_error":      "",
			"completed_at":    nil,
			"expires_at":      now.Add(s.ttl),
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, IdempotencyProceed, fmt.Errorf("idempotency reclaim failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, IdempotencyProceed, ErrIdempotencyInFlight
	}

	existing.Status = models.IdempotencyStatusProcessing
	existing.RequestHash = scope.RequestHash
	existing.ResponseStatus = 0
	existing.ResponseBody = nil
	return existing, IdempotencyProceed, nil
}

// Complete stores the response that later retries will replay.
func (s *IdempotencyStore) Complete(ctx context.Context, scope IdempotencyScope, status int, body []byte) error {
	now := s.now()
	blob := make([]byte, len(body))
	copy(blob, body)

	return s.scoped(ctx, scope).Updates(map[string]any{
		"status":          models.IdempotencyStatusCompleted,
		"response_status": status,
		"response_body":   blob,
		"completed_at":    now,
		"updated_at":      now,
	}).Error
}

// Fail releases the key so the client may retry it.
func (s *IdempotencyStore) Fail(ctx context.Context, scope IdempotencyScope, reason string) error {
	return s.scoped(ctx, scope).Updates(map[string]any{
		"status":     models.IdempotencyStatusFailed,
		"last_error": reason,
		"updated_at": s.now(),
	}).Error
}

// Get returns the stored record, or nil when the key is unknown.
func (s *IdempotencyStore) Get(ctx context.Context, scope IdempotencyScope) (*models.IdempotencyKey, error) {
	var rec models.IdempotencyKey
	if err := s.scoped(ctx, scope).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// PurgeExpired deletes keys past their expiry and reports how many went.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
