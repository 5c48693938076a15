package repository

import (
	"context"
	"errors"
	"time"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/storage"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByTokenHash(ctx context.Context, hash string) (*domain.Session, error)
	// InvalidateByTokenHash is idempotent: a second call on the same session
	// reports changed=false without error.
	InvalidateByTokenHash(ctx context.Context, hash, reason string) (bool, error)
	InvalidateByUserProduct(ctx context.Context, userID, productID uint, reason string) (int64, error)
	InvalidateByUser(ctx context.Context, userID uint, reason string) (int64, error)
	ListActiveByUser(ctx context.Context, userID uint) ([]domain.Session, error)
	// MarkExpired flips valid=false on sessions past expiry; lazy validation
	// in the session manager remains the correctness mechanism.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return storage.MapError("create session", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_token_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_token_hash", "error")
		return nil, storage.MapError("find session", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_token_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) InvalidateByTokenHash(ctx context.Context, hash, reason string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token_hash = ? AND valid = ?", hash, true).
		Updates(map[string]any{"valid": false, "invalid_reason": reason, "invalidated_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "invalidate_by_token_hash", "error")
		return false, storage.MapError("invalidate session", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "session", "invalidate_by_token_hash", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) InvalidateByUserProduct(ctx context.Context, userID, productID uint, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND product_id = ? AND valid = ?", userID, productID, true).
		Updates(map[string]any{"valid": false, "invalid_reason": reason, "invalidated_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "invalidate_by_user_product", "error")
		return 0, storage.MapError("invalidate sessions", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "session", "invalidate_by_user_product", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) InvalidateByUser(ctx context.Context, userID uint, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND valid = ?", userID, true).
		Updates(map[string]any{"valid": false, "invalid_reason": reason, "invalidated_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "invalidate_by_user", "error")
		return 0, storage.MapError("invalidate sessions", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "session", "invalidate_by_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) ListActiveByUser(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND valid = ? AND expires_at > ?", userID, true, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user", "error")
		return nil, storage.MapError("list sessions", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user", "success")
	return sessions, nil
}

func (r *GormSessionRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("valid = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{"valid": false, "invalid_reason": domain.SessionReasonExpired, "invalidated_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "mark_expired", "error")
		return 0, storage.MapError("mark expired", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "session", "mark_expired", "success")
	return res.RowsAffected, nil
}
