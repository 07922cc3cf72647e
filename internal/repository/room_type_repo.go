package repository

import (
	"context"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoomTypeRepo interface {
	Create(ctx context.Context, rt *models.RoomType) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.RoomType, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.RoomType, error)
	// Блокирует строки типов номеров (FOR UPDATE) в детерминированном порядке.
	// Бронирования одного типа номера у арендатора сериализуются на этой блокировке.
	LockForBooking(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]models.RoomType, error)
	UpdatePrice(ctx context.Context, tenantID, id uuid.UUID, priceCents int64) (bool, error)
	SetTotalUnits(ctx context.Context, tenantID, id uuid.UUID, units int32) (bool, error)
}

type roomTypeRepo struct{ db *gorm.DB }

func NewRoomTypeRepo(db *gorm.DB) RoomTypeRepo { return &roomTypeRepo{db: db} }

func (r *roomTypeRepo) Create(ctx context.Context, rt *models.RoomType) error {
	return r.db.WithContext(ctx).Create(rt).Error
}

func (r *roomTypeRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.RoomType, error) {
	var rt models.RoomType
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *roomTypeRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.RoomType, error) {
	var list []models.RoomType
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Find(&list).Error
	return list, err
}

func (r *roomTypeRepo) LockForBooking(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]models.RoomType, error) {
	var list []models.RoomType
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *roomTypeRepo) UpdatePrice(ctx context.Context, tenantID, id uuid.UUID, priceCents int64) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.RoomType{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("base_price_cents", priceCents)
	return tx.RowsAffected > 0, tx.Error
}

func (r *roomTypeRepo) SetTotalUnits(ctx context.Context, tenantID, id uuid.UUID, units int32) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.RoomType{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("total_units", units)
	return tx.RowsAffected > 0, tx.Error
}
