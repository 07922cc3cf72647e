package service

import (
	"context"
	"errors"
	"fmt"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AllocateRooms pre-assigns physical rooms to a confirmed reservation. Assigned rooms are
// marked reserved and become occupied at check-in.
func (s *bookingService) AllocateRooms(ctx context.Context, tenantID, reservationID uuid.UUID) ([]Allocation, error) {
	if _, err := s.activeTenant(ctx, s.repo, tenantID); err != nil {
		return nil, err
	}

	var out []Allocation
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		res, err := s.loadReservation(ctx, tx, tenantID, reservationID, true)
		if err != nil {
			return err
		}
		if res.Status != models.ReservationConfirmed {
			return &InvalidTransitionError{
				Entity: "allocation",
				From:   string(res.Status),
				To:     "allocated",
				Reason: "rooms can be pre-assigned only to confirmed reservations",
			}
		}
		out, err = s.allocate(ctx, tx, res, models.RoomReserved)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("rooms pre-assigned", zap.String("reservation_id", reservationID.String()), zap.Int("rooms", len(out)))
	return out, nil
}

// allocate binds every unassigned reservation room to the lowest-numbered available room of
// its type and moves the room to mark. Rooms assigned earlier are moved to mark as well.
func (s *bookingService) allocate(ctx context.Context, tx *repository.Repository, res *models.Reservation, mark models.RoomStatus) ([]Allocation, error) {
	rows, err := tx.ReservationRooms.ListByReservation(ctx, res.ID)
	if err != nil {
		return nil, err
	}

	out := make([]Allocation, 0, len(rows))
	for _, row := range rows {
		if row.RoomID != nil {
			room, err := tx.Rooms.GetByID(ctx, res.TenantID, *row.RoomID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, notFound("room", *row.RoomID)
			}
			if err != nil {
				return nil, err
			}
			if room.Status != mark {
				ok, err := tx.Rooms.CompareAndSetStatus(ctx, res.TenantID, room.ID, []models.RoomStatus{models.RoomReserved, models.RoomAvailable}, mark)
				if err != nil {
					return nil, err
				}
				if !ok {
					// Назначенный номер нельзя заменить: room_id неизменяем.
					return nil, &NoRoomAvailableError{RoomTypeID: row.RoomTypeID}
				}
			}
			out = append(out, Allocation{ReservationRoomID: row.ID, RoomID: room.ID, RoomNumber: room.Number})
			continue
		}

		room, err := tx.Rooms.LockFirstAvailable(ctx, res.TenantID, row.RoomTypeID)
		if err != nil {
			return nil, err
		}
		if room == nil {
			return nil, &NoRoomAvailableError{RoomTypeID: row.RoomTypeID}
		}
		ok, err := tx.Rooms.CompareAndSetStatus(ctx, res.TenantID, room.ID, []models.RoomStatus{models.RoomAvailable}, mark)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &NoRoomAvailableError{RoomTypeID: row.RoomTypeID}
		}
		ok, err = tx.ReservationRooms.AssignRoom(ctx, row.ID, room.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("reservation room %s already has a room", row.ID)
		}
		out = append(out, Allocation{ReservationRoomID: row.ID, RoomID: room.ID, RoomNumber: room.Number})
	}
	return out, nil
}

// releaseRooms moves the reservation's assigned rooms whose status is in from to the status to.
func (s *bookingService) releaseRooms(ctx context.Context, tx *repository.Repository, res *models.Reservation, from []models.RoomStatus, to models.RoomStatus) error {
	rows, err := tx.ReservationRooms.ListByReservation(ctx, res.ID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.RoomID == nil {
			continue
		}
		if _, err := tx.Rooms.CompareAndSetStatus(ctx, res.TenantID, *row.RoomID, from, to); err != nil {
			return err
		}
	}
	return nil
}
