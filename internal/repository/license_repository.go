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

var (
	ErrLicenseNotFound     = errors.New("license not found")
	ErrLicenseKeyTaken     = errors.New("license key already exists")
	ErrActiveLicenseExists = errors.New("active license already exists for user and product")
)

type LicenseRepository interface {
	// CreateGrant inserts a new license, rejecting the grant when an active
	// non-expired license already covers the (user, product) pair.
	CreateGrant(ctx context.Context, lic *domain.License) error
	FindByID(ctx context.Context, id uint) (*domain.License, error)
	FindByKey(ctx context.Context, key string) (*domain.License, error)
	FindActiveForUserProduct(ctx context.Context, userID, productID uint) (*domain.License, error)
	// FindLatestForUserProduct returns the most recent license row regardless
	// of state, used to tell "never licensed" apart from revoked or expired.
	FindLatestForUserProduct(ctx context.Context, userID, productID uint) (*domain.License, error)
	Revoke(ctx context.Context, id uint, reason string) (bool, error)
	ListByUser(ctx context.Context, userID uint) ([]domain.License, error)
	// DeactivateExpired flips active=false on rows past their window. This is
	// reporting hygiene only; entitlement checks never rely on it.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormLicenseRepository struct{ db *gorm.DB }

func NewLicenseRepository(db *gorm.DB) LicenseRepository { return &GormLicenseRepository{db: db} }

func (r *GormLicenseRepository) CreateGrant(ctx context.Context, lic *domain.License) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.License
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND product_id = ? AND active = ? AND (expires_at IS NULL OR expires_at > ?)",
				lic.UserID, lic.ProductID, true, now).
			First(&existing).Error
		if err == nil {
			return ErrActiveLicenseExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(lic).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrActiveLicenseExists):
			observability.RecordRepositoryOperation(ctx, "license", "create_grant", "active_exists")
			return ErrActiveLicenseExists
		case storage.IsDuplicate(err):
			observability.RecordRepositoryOperation(ctx, "license", "create_grant", "duplicate_key")
			return ErrLicenseKeyTaken
		}
		observability.RecordRepositoryOperation(ctx, "license", "create_grant", "error")
		return storage.MapError("create grant", err)
	}
	observability.RecordRepositoryOperation(ctx, "license", "create_grant", "success")
	return nil
}

func (r *GormLicenseRepository) FindByID(ctx context.Context, id uint) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).First(&lic, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_by_id", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_by_id", "error")
		return nil, storage.MapError("find license", err)
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_by_id", "success")
	return &lic, nil
}

func (r *GormLicenseRepository) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_by_key", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_by_key", "error")
		return nil, storage.MapError("find license", err)
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_by_key", "success")
	return &lic, nil
}

func (r *GormLicenseRepository) FindActiveForUserProduct(ctx context.Context, userID, productID uint) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND active = ?", userID, productID, true).
		Order("created_at DESC").
		First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_active", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_active", "error")
		return nil, storage.MapError("find active license", err)
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_active", "success")
	return &lic, nil
}

func (r *GormLicenseRepository) FindLatestForUserProduct(ctx context.Context, userID, productID uint) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Order("created_at DESC").
		First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_latest", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_latest", "error")
		return nil, storage.MapError("find latest license", err)
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_latest", "success")
	return &lic, nil
}

func (r *GormLicenseRepository) Revoke(ctx context.Context, id uint, reason string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{"active": false, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "revoke", "error")
		return false, storage.MapError("revoke license", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "license", "revoke", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormLicenseRepository) ListByUser(ctx context.Context, userID uint) ([]domain.License, error) {
	var licenses []domain.License
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&licenses).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "list_by_user", "error")
		return nil, storage.MapError("list licenses", err)
	}
	observability.RecordRepositoryOperation(ctx, "license", "list_by_user", "success")
	return licenses, nil
}

func (r *GormLicenseRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "deactivate_expired", "error")
		return 0, storage.MapError("deactivate expired", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "license", "deactivate_expired", "success")
	return res.RowsAffected, nil
}
