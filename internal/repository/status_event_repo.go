package repository

import (
	"context"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StatusEventRepo interface {
	Append(ctx context.Context, ev *models.ReservationStatusEvent) error
	ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]models.ReservationStatusEvent, error)
}

type statusEventRepo struct{ db *gorm.DB }

func NewStatusEventRepo(db *gorm.DB) StatusEventRepo { return &statusEventRepo{db: db} }

func (r *statusEventRepo) Append(ctx context.Context, ev *models.ReservationStatusEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *statusEventRepo) ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]models.ReservationStatusEvent, error) {
	var list []models.ReservationStatusEvent
	err := r.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}
