package repository

import (
	"context"
	"errors"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/storage"

	"gorm.io/gorm"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrProductExists   = errors.New("product name already exists")
)

type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	FindByID(ctx context.Context, id uint) (*domain.Product, error)
	FindByName(ctx context.Context, name string) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	List(ctx context.Context) ([]domain.Product, error)
}

type GormProductRepository struct{ db *gorm.DB }

func NewProductRepository(db *gorm.DB) ProductRepository { return &GormProductRepository{db: db} }

func (r *GormProductRepository) Create(ctx context.Context, p *domain.Product) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if err != nil {
		if storage.IsDuplicate(err) {
			observability.RecordRepositoryOperation(ctx, "product", "create", "duplicate")
			return ErrProductExists
		}
		observability.RecordRepositoryOperation(ctx, "product", "create", "error")
		return storage.MapError("create product", err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "create", "success")
	return nil
}

func (r *GormProductRepository) FindByID(ctx context.Context, id uint) (*domain.Product, error) {
	var p domain.Product
	err := r.db.WithContext(ctx).First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "product", "find_by_id", "not_found")
			return nil, ErrProductNotFound
		}
		observability.RecordRepositoryOperation(ctx, "product", "find_by_id", "error")
		return nil, storage.MapError("find product", err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "find_by_id", "success")
	return &p, nil
}

func (r *GormProductRepository) FindByName(ctx context.Context, name string) (*domain.Product, error) {
	var p domain.Product
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "product", "find_by_name", "not_found")
			return nil, ErrProductNotFound
		}
		observability.RecordRepositoryOperation(ctx, "product", "find_by_name", "error")
		return nil, storage.MapError("find product", err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "find_by_name", "success")
	return &p, nil
}

func (r *GormProductRepository) Update(ctx context.Context, p *domain.Product) error {
	err := r.db.WithContext(ctx).Save(p).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "product", "update", "error")
		return storage.MapError("update product", err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "update", "success")
	return nil
}

func (r *GormProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).Order("name").Find(&products).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "product", "list", "error")
		return nil, storage.MapError("list products", err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "list", "success")
	return products, nil
}
