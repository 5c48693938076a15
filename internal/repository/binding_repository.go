package repository

import (
	"context"
	"errors"
	"time"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrBindingNotFound = errors.New("hardware binding not found")

// BindResult reports what happened to the current binding and, for rebinds,
// how many sessions were invalidated alongside it.
type BindResult struct {
	Outcome             domain.BindingOutcome
	Fingerprint         string
	InvalidatedSessions int64
}

type BindingRepository interface {
	// BindOrVerify runs the self-service path: first use binds, a matching
	// fingerprint verifies, a differing one is rejected. The losing side of a
	// concurrent first bind gets BindingRejectedConflict, never a silent
	// overwrite.
	BindOrVerify(ctx context.Context, userID, productID uint, fingerprint string) (BindResult, error)
	// Rebind is the operator path: it always succeeds, overwrites the current
	// binding, appends history and invalidates every outstanding session for
	// the pair, all in one transaction.
	Rebind(ctx context.Context, userID, productID uint, fingerprint string, actor domain.BindingActor) (BindResult, error)
	Find(ctx context.Context, userID, productID uint) (*domain.HardwareBinding, error)
	History(ctx context.Context, userID, productID uint) ([]domain.BindingChange, error)
}

type GormBindingRepository struct{ db *gorm.DB }

func NewBindingRepository(db *gorm.DB) BindingRepository { return &GormBindingRepository{db: db} }

func (r *GormBindingRepository) BindOrVerify(ctx context.Context, userID, productID uint, fingerprint string) (BindResult, error) {
	var result BindResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.HardwareBinding
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND product_id = ?", userID, productID).
			First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := time.Now().UTC()
			binding := domain.HardwareBinding{
				UserID:      userID,
				ProductID:   productID,
				Fingerprint: fingerprint,
				BoundAt:     now,
			}
			if err := tx.Create(&binding).Error; err != nil {
				return err
			}
			change := domain.BindingChange{
				UserID:         userID,
				ProductID:      productID,
				NewFingerprint: fingerprint,
				Actor:          domain.ActorSelf,
				ChangedAt:      now,
			}
			if err := tx.Create(&change).Error; err != nil {
				return err
			}
			result = BindResult{Outcome: domain.BindingBound, Fingerprint: fingerprint}
			return nil
		case err != nil:
			return err
		case current.Fingerprint == fingerprint:
			result = BindResult{Outcome: domain.BindingVerified, Fingerprint: fingerprint}
			return nil
		default:
			// Self-service drift is suspicious; only an operator rebind may
			// move a binding.
			result = BindResult{Outcome: domain.BindingRejectedMismatch, Fingerprint: current.Fingerprint}
			return nil
		}
	})
	if err != nil {
		if storage.IsDuplicate(err) {
			observability.RecordRepositoryOperation(ctx, "binding", "bind_or_verify", "conflict")
			return BindResult{Outcome: domain.BindingRejectedConflict}, nil
		}
		observability.RecordRepositoryOperation(ctx, "binding", "bind_or_verify", "error")
		return BindResult{}, storage.MapError("bind or verify", err)
	}
	observability.RecordRepositoryOperation(ctx, "binding", "bind_or_verify", string(result.Outcome))
	return result, nil
}

func (r *GormBindingRepository) Rebind(ctx context.Context, userID, productID uint, fingerprint string, actor domain.BindingActor) (BindResult, error) {
	var result BindResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var current domain.HardwareBinding
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND product_id = ?", userID, productID).
			First(&current).Error

		var oldFingerprint *string
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			binding := domain.HardwareBinding{
				UserID:      userID,
				ProductID:   productID,
				Fingerprint: fingerprint,
				BoundAt:     now,
			}
			if err := tx.Create(&binding).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			old := current.Fingerprint
			oldFingerprint = &old
			if err := tx.Model(&domain.HardwareBinding{}).
				Where("id = ?", current.ID).
				Updates(map[string]any{"fingerprint": fingerprint, "bound_at": now}).Error; err != nil {
				return err
			}
		}

		change := domain.BindingChange{
			UserID:         userID,
			ProductID:      productID,
			OldFingerprint: oldFingerprint,
			NewFingerprint: fingerprint,
			Actor:          actor,
			ChangedAt:      now,
		}
		if err := tx.Create(&change).Error; err != nil {
			return err
		}

		// Sessions minted under any previous fingerprint die with the rebind.
		res := tx.Model(&domain.Session{}).
			Where("user_id = ? AND product_id = ? AND valid = ?", userID, productID, true).
			Updates(map[string]any{
				"valid":          false,
				"invalid_reason": domain.SessionReasonRebound,
				"invalidated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		result = BindResult{
			Outcome:             domain.BindingRebound,
			Fingerprint:         fingerprint,
			InvalidatedSessions: res.RowsAffected,
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "binding", "rebind", "error")
		return BindResult{}, storage.MapError("rebind", err)
	}
	observability.RecordRepositoryOperation(ctx, "binding", "rebind", "success")
	return result, nil
}

func (r *GormBindingRepository) Find(ctx context.Context, userID, productID uint) (*domain.HardwareBinding, error) {
	var b domain.HardwareBinding
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "binding", "find", "not_found")
			return nil, ErrBindingNotFound
		}
		observability.RecordRepositoryOperation(ctx, "binding", "find", "error")
		return nil, storage.MapError("find binding", err)
	}
	observability.RecordRepositoryOperation(ctx, "binding", "find", "success")
	return &b, nil
}

func (r *GormBindingRepository) History(ctx context.Context, userID, productID uint) ([]domain.BindingChange, error) {
	var changes []domain.BindingChange
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Order("changed_at ASC, id ASC").
		Find(&changes).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "binding", "history", "error")
		return nil, storage.MapError("binding history", err)
	}
	observability.RecordRepositoryOperation(ctx, "binding", "history", "success")
	return changes, nil
}
