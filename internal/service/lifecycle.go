package service

import (
	"context"
	"sort"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var reservationTransitions = map[models.ReservationStatus][]models.ReservationStatus{
	models.ReservationInquiry:   {models.ReservationPending, models.ReservationCancelled},
	models.ReservationPending:   {models.ReservationConfirmed, models.ReservationCancelled},
	models.ReservationConfirmed: {models.ReservationCheckedIn, models.ReservationCancelled, models.ReservationNoShow},
	models.ReservationCheckedIn: {models.ReservationCheckedOut},
}

// AllReservationStatuses lists every lifecycle state.
var AllReservationStatuses = []models.ReservationStatus{
	models.ReservationInquiry,
	models.ReservationPending,
	models.ReservationConfirmed,
	models.ReservationCheckedIn,
	models.ReservationCheckedOut,
	models.ReservationCancelled,
	models.ReservationNoShow,
}

func CanTransition(from, to models.ReservationStatus) bool {
	for _, t := range reservationTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func LegalTargets(from models.ReservationStatus) []models.ReservationStatus {
	return append([]models.ReservationStatus(nil), reservationTransitions[from]...)
}

func requiredDeposit(totalCents int64, percent int) int64 {
	if percent <= 0 || totalCents <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	return (totalCents*int64(percent) + 99) / 100
}

func (s *bookingService) Transition(ctx context.Context, tenantID, reservationID uuid.UUID, target models.ReservationStatus, actor Actor) (*models.Reservation, error) {
	if _, err := s.activeTenant(ctx, s.repo, tenantID); err != nil {
		return nil, err
	}

	var (
		res *models.Reservation
		ev  StatusChangedEvent
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		r, err := s.loadReservation(ctx, tx, tenantID, reservationID, true)
		if err != nil {
			return err
		}
		ev, err = s.applyTransition(ctx, tx, r, target, actor)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, ev)
	return res, nil
}

func (s *bookingService) afterTransition(ctx context.Context, ev StatusChangedEvent) {
	if ev.From.Holding() != ev.To.Holding() {
		s.invalidate(ctx, ev.TenantID)
	}
	if err := s.events.PublishStatusChanged(ctx, ev); err != nil {
		s.log.Warn("publish status changed failed", zap.String("reference", ev.Reference), zap.Error(err))
	}
	s.log.Info("reservation status changed",
		zap.String("reference", ev.Reference),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.String("actor", ev.ActorID),
	)
}

// applyTransition проверяет ребро и предусловия, выполняет побочные эффекты и CAS статуса
// в переданной транзакции. Строка брони уже заблокирована вызывающим.
func (s *bookingService) applyTransition(ctx context.Context, tx *repository.Repository, res *models.Reservation, target models.ReservationStatus, actor Actor) (StatusChangedEvent, error) {
	from := res.Status
	if !CanTransition(from, target) {
		return StatusChangedEvent{}, &InvalidTransitionError{Entity: "reservation", From: string(from), To: string(target)}
	}
	invalid := func(reason string) error {
		return &InvalidTransitionError{Entity: "reservation", From: string(from), To: string(target), Reason: reason}
	}

	ok, err := tx.Reservations.CompareAndSwapStatus(ctx, res.TenantID, res.ID, from, target)
	if err != nil {
		return StatusChangedEvent{}, err
	}
	if !ok {
		return StatusChangedEvent{}, invalid("status changed concurrently")
	}

	today := s.today()
	switch {
	case from == models.ReservationInquiry && target == models.ReservationPending:
		if err := s.ensureInventoryFor(ctx, tx, res); err != nil {
			return StatusChangedEvent{}, err
		}

	case from == models.ReservationPending && target == models.ReservationConfirmed:
		if !(actor.Override && actor.Role == ActorStaff) {
			payments, err := tx.Payments.ListByReservation(ctx, res.TenantID, res.ID)
			if err != nil {
				return StatusChangedEvent{}, err
			}
			if summarize(payments).Net() < requiredDeposit(res.TotalAmountCents, s.policy.DepositPercent) {
				return StatusChangedEvent{}, invalid("required deposit not covered")
			}
		}

	case from == models.ReservationConfirmed && target == models.ReservationCancelled:
		if !today.Before(DateOnly(res.CheckIn)) {
			return StatusChangedEvent{}, invalid("check-in date reached")
		}

	case from == models.ReservationConfirmed && target == models.ReservationNoShow:
		if !today.After(DateOnly(res.CheckIn)) {
			return StatusChangedEvent{}, invalid("check-in date has not passed")
		}

	case from == models.ReservationConfirmed && target == models.ReservationCheckedIn:
		if _, err := s.allocate(ctx, tx, res, models.RoomOccupied); err != nil {
			return StatusChangedEvent{}, err
		}

	case from == models.ReservationCheckedIn && target == models.ReservationCheckedOut:
		if err := s.releaseRooms(ctx, tx, res, []models.RoomStatus{models.RoomOccupied}, models.RoomDirty); err != nil {
			return StatusChangedEvent{}, err
		}
	}

	// Заранее назначенные номера освобождаются при отмене и неявке.
	if target == models.ReservationCancelled || target == models.ReservationNoShow {
		if err := s.releaseRooms(ctx, tx, res, []models.RoomStatus{models.RoomReserved}, models.RoomAvailable); err != nil {
			return StatusChangedEvent{}, err
		}
	}

	if err := tx.StatusEvents.Append(ctx, &models.ReservationStatusEvent{
		ReservationID: res.ID,
		FromStatus:    from,
		ToStatus:      target,
		ActorID:       actor.ID,
		ActorRole:     string(actor.Role),
		Reason:        actor.Reason,
	}); err != nil {
		return StatusChangedEvent{}, err
	}

	res.Status = target
	return StatusChangedEvent{
		ReservationID: res.ID,
		TenantID:      res.TenantID,
		Reference:     res.BookingReference,
		From:          from,
		To:            target,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Reason:        actor.Reason,
		ChangedAt:     s.now(),
	}, nil
}

// ensureInventoryFor re-checks availability for a reservation that starts holding inventory.
func (s *bookingService) ensureInventoryFor(ctx context.Context, tx *repository.Repository, res *models.Reservation) error {
	rows, err := tx.ReservationRooms.ListByReservation(ctx, res.ID)
	if err != nil {
		return err
	}
	want := make(map[uuid.UUID]int)
	for _, row := range rows {
		want[row.RoomTypeID]++
	}
	_, err = s.reserveInventory(ctx, tx, res.TenantID, want, DateOnly(res.CheckIn), DateOnly(res.CheckOut), &res.ID)
	return err
}

// reserveInventory блокирует строки нужных типов номеров и проверяет, что на каждую ночь
// интервала хватает единиц. Возвращает заблокированные типы по id.
func (s *bookingService) reserveInventory(ctx context.Context, tx *repository.Repository, tenantID uuid.UUID, want map[uuid.UUID]int, from, to time.Time, exclude *uuid.UUID) (map[uuid.UUID]models.RoomType, error) {
	ids := make([]uuid.UUID, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	locked, err := tx.RoomTypes.LockForBooking(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.RoomType, len(locked))
	for _, rt := range locked {
		byID[rt.ID] = rt
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, notFound("room type", id)
		}
	}

	free, err := availableUnits(ctx, tx, tenantID, locked, from, to, exclude)
	if err != nil {
		return nil, err
	}
	short := &InsufficientAvailabilityError{}
	for _, id := range ids {
		if free[id] < want[id] {
			n := free[id]
			if n < 0 {
				n = 0
			}
			short.add(Shortage{RoomTypeID: id, Requested: want[id], Available: n})
		}
	}
	if len(short.Shortages) > 0 {
		return nil, short
	}
	return byID, nil
}
