package repository

import (
	"context"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TenantRepo interface {
	Create(ctx context.Context, t *models.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error)
}

type tenantRepo struct{ db *gorm.DB }

func NewTenantRepo(db *gorm.DB) TenantRepo { return &tenantRepo{db: db} }

func (r *tenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *tenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tenantRepo) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	var t models.Tenant
	if err := r.db.WithContext(ctx).First(&t, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tenantRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Update("active", active)
	return tx.RowsAffected > 0, tx.Error
}
