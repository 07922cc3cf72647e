package repository

import (
	"context"
	"errors"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoomRepo interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Room, error)
	List(ctx context.Context, tenantID uuid.UUID, roomTypeID *uuid.UUID) ([]models.Room, error)
	// Первый свободный номер типа (минимальный номер), строка блокируется; занятые другими
	// транзакциями строки пропускаются. nil, nil если свободных нет.
	LockFirstAvailable(ctx context.Context, tenantID, roomTypeID uuid.UUID) (*models.Room, error)
	// CAS смены статуса: обновляет только если текущий статус входит в from.
	CompareAndSetStatus(ctx context.Context, tenantID, id uuid.UUID, from []models.RoomStatus, to models.RoomStatus) (bool, error)
}

type roomRepo struct{ db *gorm.DB }

func NewRoomRepo(db *gorm.DB) RoomRepo { return &roomRepo{db: db} }

func (r *roomRepo) Create(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *roomRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepo) List(ctx context.Context, tenantID uuid.UUID, roomTypeID *uuid.UUID) ([]models.Room, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if roomTypeID != nil {
		q = q.Where("room_type_id = ?", *roomTypeID)
	}
	var list []models.Room
	err := q.Order("length(number) ASC, number ASC").Find(&list).Error
	return list, err
}

func (r *roomRepo) LockFirstAvailable(ctx context.Context, tenantID, roomTypeID uuid.UUID) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("tenant_id = ? AND room_type_id = ? AND status = ?", tenantID, roomTypeID, models.RoomAvailable).
		Order("length(number) ASC, number ASC").
		Limit(1).
		Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepo) CompareAndSetStatus(ctx context.Context, tenantID, id uuid.UUID, from []models.RoomStatus, to models.RoomStatus) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("tenant_id = ? AND id = ? AND status IN ?", tenantID, id, from).
		Update("status", to)
	return tx.RowsAffected > 0, tx.Error
}
