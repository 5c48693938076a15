package repository

import (
	"context"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/storage"

	"gorm.io/gorm"
)

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "append", "error")
		return storage.MapError("append audit entry", err)
	}
	observability.RecordRepositoryOperation(ctx, "audit", "append", "success")
	return nil
}

func (r *GormAuditRepository) ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []domain.AuditEntry
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "list_recent", "error")
		return nil, storage.MapError("list audit entries", err)
	}
	observability.RecordRepositoryOperation(ctx, "audit", "list_recent", "success")
	return entries, nil
}
