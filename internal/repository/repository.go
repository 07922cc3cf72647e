package repository

import (
	"context"

	"gorm.io/gorm"
)

type Repository struct {
	DB               *gorm.DB
	Tenants          TenantRepo
	RoomTypes        RoomTypeRepo
	Rooms            RoomRepo
	Reservations     ReservationRepo
	ReservationRooms ReservationRoomRepo
	Payments         PaymentRepo
	StatusEvents     StatusEventRepo
}

func buildRepository(db *gorm.DB) *Repository {
	return &Repository{
		DB:               db,
		Tenants:          NewTenantRepo(db),
		RoomTypes:        NewRoomTypeRepo(db),
		Rooms:            NewRoomRepo(db),
		Reservations:     NewReservationRepo(db),
		ReservationRooms: NewReservationRoomRepo(db),
		Payments:         NewPaymentRepo(db),
		StatusEvents:     NewStatusEventRepo(db),
	}
}

func New(db *gorm.DB) *Repository { return buildRepository(db) }

// Глобальная транзакция на весь набор репо
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(buildRepository(tx))
	})
}
