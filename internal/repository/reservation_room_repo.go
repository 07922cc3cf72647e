package repository

import (
	"context"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReservationRoomRepo interface {
	CreateBatch(ctx context.Context, rows []models.ReservationRoom) error
	ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]models.ReservationRoom, error)
	// room_id задаётся один раз: обновление только при room_id IS NULL.
	AssignRoom(ctx context.Context, id, roomID uuid.UUID) (bool, error)
}

type reservationRoomRepo struct{ db *gorm.DB }

func NewReservationRoomRepo(db *gorm.DB) ReservationRoomRepo { return &reservationRoomRepo{db: db} }

func (r *reservationRoomRepo) CreateBatch(ctx context.Context, rows []models.ReservationRoom) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *reservationRoomRepo) ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]models.ReservationRoom, error) {
	var list []models.ReservationRoom
	err := r.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (r *reservationRoomRepo) AssignRoom(ctx context.Context, id, roomID uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.ReservationRoom{}).
		Where("id = ? AND room_id IS NULL", id).
		Update("room_id", roomID)
	return tx.RowsAffected > 0, tx.Error
}
