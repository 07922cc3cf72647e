package repository

import (
	"context"
	"time"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HoldingStay: агрегат занятых единиц по типу номера для одного интервала дат.
type HoldingStay struct {
	RoomTypeID uuid.UUID
	CheckIn    time.Time
	CheckOut   time.Time
	Units      int64
}

type HoldingFilter struct {
	TenantID    uuid.UUID
	RoomTypeIDs []uuid.UUID // пусто: все типы арендатора
	From        time.Time
	To          time.Time
	ExcludeID   *uuid.UUID
}

type ReservationRepo interface {
	Create(ctx context.Context, res *models.Reservation) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error)
	GetByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error)
	GetByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*models.Reservation, error)
	GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.Reservation, error)
	ReferenceExists(ctx context.Context, tenantID uuid.UUID, reference string) (bool, error)

	// CAS статуса: false, если статус в базе уже не from.
	CompareAndSwapStatus(ctx context.Context, tenantID, id uuid.UUID, from, to models.ReservationStatus) (bool, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status models.ReservationPaymentStatus) error

	// Пересекающиеся с [From, To) брони в удерживающих статусах (полуоткрытый интервал).
	ListHoldingStays(ctx context.Context, f HoldingFilter) ([]HoldingStay, error)

	// Для фоновых задач, по всем арендаторам.
	ListCreatedBefore(ctx context.Context, status models.ReservationStatus, before time.Time, limit int) ([]models.Reservation, error)
	ListCheckInBefore(ctx context.Context, status models.ReservationStatus, date time.Time, limit int) ([]models.Reservation, error)
}

type reservationRepo struct{ db *gorm.DB }

func NewReservationRepo(db *gorm.DB) ReservationRepo { return &reservationRepo{db: db} }

func (r *reservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *reservationRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepo) GetByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepo) GetByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND booking_reference = ?", tenantID, reference).
		First(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepo) GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepo) ReferenceExists(ctx context.Context, tenantID uuid.UUID, reference string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("tenant_id = ? AND booking_reference = ?", tenantID, reference).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *reservationRepo) CompareAndSwapStatus(ctx context.Context, tenantID, id uuid.UUID, from, to models.ReservationStatus) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, id, from).
		Update("status", to)
	return tx.RowsAffected > 0, tx.Error
}

func (r *reservationRepo) SetPaymentStatus(ctx context.Context, id uuid.UUID, status models.ReservationPaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ?", id).
		Update("payment_status", status).Error
}

func (r *reservationRepo) ListHoldingStays(ctx context.Context, f HoldingFilter) ([]HoldingStay, error) {
	q := r.db.WithContext(ctx).
		Table("reservation_rooms AS rr").
		Select("rr.room_type_id, r.check_in, r.check_out, COUNT(*) AS units").
		Joins("JOIN reservations r ON r.id = rr.reservation_id").
		Where("r.tenant_id = ? AND r.status IN ?", f.TenantID, models.HoldingStatuses).
		Where("r.check_in < ? AND r.check_out > ?", f.To, f.From)
	if len(f.RoomTypeIDs) > 0 {
		q = q.Where("rr.room_type_id IN ?", f.RoomTypeIDs)
	}
	if f.ExcludeID != nil {
		q = q.Where("r.id <> ?", *f.ExcludeID)
	}
	var out []HoldingStay
	err := q.Group("rr.room_type_id, r.check_in, r.check_out").Scan(&out).Error
	return out, err
}

func (r *reservationRepo) ListCreatedBefore(ctx context.Context, status models.ReservationStatus, before time.Time, limit int) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *reservationRepo) ListCheckInBefore(ctx context.Context, status models.ReservationStatus, date time.Time, limit int) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND check_in < ?", status, date).
		Order("check_in ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
