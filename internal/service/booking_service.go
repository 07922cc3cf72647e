package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type bookingPlan struct {
	checkIn  time.Time
	checkOut time.Time
	order    []uuid.UUID // типы номеров в порядке запроса
	want     map[uuid.UUID]int
	guests   int
}

func (p *bookingPlan) units() int {
	n := 0
	for _, q := range p.want {
		n += q
	}
	return n
}

func validateBooking(in CreateBookingInput, today time.Time) (*bookingPlan, error) {
	verr := NewValidationError()
	plan := &bookingPlan{
		checkIn:  DateOnly(in.CheckIn),
		checkOut: DateOnly(in.CheckOut),
		want:     make(map[uuid.UUID]int),
		guests:   in.GuestCount,
	}

	if !plan.checkIn.Before(plan.checkOut) {
		verr.Add("check_out", "must be after check_in")
	}
	if !in.BackdateAllowed && plan.checkIn.Before(today) {
		verr.Add("check_in", "must not be in the past")
	}
	if len(in.Rooms) == 0 {
		verr.Add("rooms", "at least one room is required")
	}
	for i, r := range in.Rooms {
		if r.RoomTypeID == uuid.Nil {
			verr.Add(fmt.Sprintf("rooms[%d].room_type_id", i), "required")
		}
		if r.Quantity < 1 {
			verr.Add(fmt.Sprintf("rooms[%d].quantity", i), "must be at least 1")
			continue
		}
		if _, seen := plan.want[r.RoomTypeID]; !seen {
			plan.order = append(plan.order, r.RoomTypeID)
		}
		plan.want[r.RoomTypeID] += r.Quantity
	}

	email, phone := strings.TrimSpace(in.Guest.Email), strings.TrimSpace(in.Guest.Phone)
	if email == "" && phone == "" {
		verr.Add("guest", "email or phone is required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			verr.Add("guest.email", "invalid email")
		}
	}
	if !in.PaymentMethod.Valid() {
		verr.Add("payment_method", "unknown payment method")
	}
	if plan.guests < 0 {
		verr.Add("guest_count", "must not be negative")
	}
	if plan.guests == 0 {
		plan.guests = 1
	}
	if in.InitialPaymentCents < 0 {
		verr.Add("initial_payment", "must not be negative")
	}
	if in.InitialPaymentCents > 0 && in.PaymentMethod == models.MethodPayAtLodge {
		verr.Add("initial_payment", "not accepted for pay_at_lodge")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *bookingService) initialStatus(in CreateBookingInput) models.ReservationStatus {
	switch {
	case in.Inquiry:
		return models.ReservationInquiry
	case in.PaymentMethod.Offline() && s.policy.AutoConfirmOffline:
		return models.ReservationConfirmed
	default:
		return models.ReservationPending
	}
}

func (s *bookingService) CreateBooking(ctx context.Context, tenantID uuid.UUID, in CreateBookingInput) (*BookingConfirmation, error) {
	plan, err := validateBooking(in, s.today())
	if err != nil {
		return nil, err
	}
	tenant, err := s.activeTenant(ctx, s.repo, tenantID)
	if err != nil {
		return nil, err
	}
	if in.InitialPaymentCents > 0 {
		if _, err := s.provider(in.PaymentMethod); err != nil {
			return nil, validationErr("payment_method", err.Error())
		}
	}

	if in.IdempotencyKey != "" {
		if existing, err := s.byIdempotencyKey(ctx, tenantID, in.IdempotencyKey); err != nil || existing != nil {
			return existing, err
		}
	}

	status := s.initialStatus(in)
	var res *models.Reservation
	for attempt := 0; attempt < s.policy.ReferenceAttempts; attempt++ {
		res, err = s.commitBooking(ctx, tenant, in, plan, status)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		// Коллизия номера брони или гонка по ключу идемпотентности: транзакция откатилась целиком.
		if in.IdempotencyKey != "" {
			if existing, lerr := s.byIdempotencyKey(ctx, tenantID, in.IdempotencyKey); lerr != nil || existing != nil {
				return existing, lerr
			}
		}
		s.log.Warn("booking reference collision, retrying", zap.Int("attempt", attempt+1))
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrReferenceExhausted
	}
	if err != nil {
		return nil, err
	}

	if status.Holding() {
		s.invalidate(ctx, tenantID)
	}
	if perr := s.events.PublishBookingCreated(ctx, BookingCreatedEvent{
		ReservationID: res.ID,
		TenantID:      tenantID,
		Reference:     res.BookingReference,
		Status:        res.Status,
		CheckIn:       plan.checkIn.Format(time.DateOnly),
		CheckOut:      plan.checkOut.Format(time.DateOnly),
		Rooms:         plan.units(),
		TotalCents:    res.TotalAmountCents,
		CreatedAt:     s.now(),
	}); perr != nil {
		s.log.Warn("publish booking created failed", zap.String("reference", res.BookingReference), zap.Error(perr))
	}
	s.log.Info("booking created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("reference", res.BookingReference),
		zap.String("status", string(res.Status)),
		zap.Int64("total_cents", res.TotalAmountCents),
	)

	if in.InitialPaymentCents == 0 {
		return s.confirmation(ctx, s.repo, res, nil)
	}

	allow := in.AllowOverpay
	initial, perr := s.RecordPayment(ctx, tenantID, RecordPaymentInput{
		ReservationID: res.ID,
		AmountCents:   in.InitialPaymentCents,
		Method:        in.PaymentMethod,
		AllowOverpay:  &allow,
	})
	if res, err = s.repo.Reservations.GetByID(ctx, tenantID, res.ID); err != nil {
		return nil, err
	}
	conf, err := s.confirmation(ctx, s.repo, res, initial)
	if err != nil {
		return nil, err
	}
	if perr != nil {
		// Бронь уже зафиксирована; платёж можно повторить отдельно.
		s.log.Warn("initial payment not recorded", zap.String("reference", res.BookingReference), zap.Error(perr))
		return nil, &InitialPaymentError{Booking: conf, Err: perr}
	}
	return conf, nil
}

func (s *bookingService) byIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*BookingConfirmation, error) {
	existing, err := s.repo.Reservations.GetByIdempotencyKey(ctx, tenantID, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.confirmation(ctx, s.repo, existing, nil)
}

// commitBooking: единая транзакция: блокировка типов номеров, повторная проверка
// доступности, снимок цены, бронь и все её строки. Любая ошибка откатывает всё.
func (s *bookingService) commitBooking(ctx context.Context, tenant *models.Tenant, in CreateBookingInput, plan *bookingPlan, status models.ReservationStatus) (*models.Reservation, error) {
	var res *models.Reservation
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		var (
			types map[uuid.UUID]models.RoomType
			err   error
		)
		if status.Holding() {
			types, err = s.reserveInventory(ctx, tx, tenant.ID, plan.want, plan.checkIn, plan.checkOut, nil)
		} else {
			types, err = s.loadRoomTypes(ctx, tx, tenant.ID, plan.order)
		}
		if err != nil {
			return err
		}

		capacity := 0
		for id, qty := range plan.want {
			capacity += int(types[id].MaxOccupancy) * qty
		}
		if plan.guests > capacity {
			return validationErr("guest_count", fmt.Sprintf("exceeds capacity %d of requested rooms", capacity))
		}

		nights := int64(plan.checkOut.Sub(plan.checkIn).Hours() / 24)
		var (
			rows  []models.ReservationRoom
			total int64
		)
		for _, id := range plan.order {
			price, err := s.pricing.EffectivePrice(ctx, types[id], plan.checkIn, plan.checkOut)
			if err != nil {
				return err
			}
			for i := 0; i < plan.want[id]; i++ {
				rows = append(rows, models.ReservationRoom{RoomTypeID: id, PricePerNightCents: price})
				total += nights * price
			}
		}

		if in.InitialPaymentCents > total && !in.AllowOverpay {
			return &OverpaymentError{Amount: in.InitialPaymentCents, Outstanding: total}
		}

		ref, err := uniqueReference(ctx, s.policy.ReferenceAttempts, s.newRef, func(ctx context.Context, ref string) (bool, error) {
			return tx.Reservations.ReferenceExists(ctx, tenant.ID, ref)
		})
		if err != nil {
			return err
		}

		res = &models.Reservation{
			TenantID:         tenant.ID,
			BookingReference: ref,
			Status:           status,
			CheckIn:          plan.checkIn,
			CheckOut:         plan.checkOut,
			GuestName:        strings.TrimSpace(in.Guest.Name),
			GuestEmail:       strPtr(strings.TrimSpace(in.Guest.Email)),
			GuestPhone:       strPtr(strings.TrimSpace(in.Guest.Phone)),
			GuestCount:       int32(plan.guests),
			PaymentMethod:    in.PaymentMethod,
			TotalAmountCents: total,
			PaymentStatus:    models.PaymentStateUnpaid,
			IdempotencyKey:   strPtr(in.IdempotencyKey),
		}
		if err := tx.Reservations.Create(ctx, res); err != nil {
			return err
		}
		for i := range rows {
			rows[i].ReservationID = res.ID
		}
		if err := tx.ReservationRooms.CreateBatch(ctx, rows); err != nil {
			return err
		}

		actor := actorOrSystem(ctx)
		return tx.StatusEvents.Append(ctx, &models.ReservationStatusEvent{
			ReservationID: res.ID,
			ToStatus:      status,
			ActorID:       actor.ID,
			ActorRole:     string(actor.Role),
			Reason:        "created",
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *bookingService) loadRoomTypes(ctx context.Context, tx *repository.Repository, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]models.RoomType, error) {
	out := make(map[uuid.UUID]models.RoomType, len(ids))
	for _, id := range ids {
		rt, err := tx.RoomTypes.GetByID(ctx, tenantID, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("room type", id)
		}
		if err != nil {
			return nil, err
		}
		out[id] = *rt
	}
	return out, nil
}

func (s *bookingService) GetBooking(ctx context.Context, tenantID uuid.UUID, reference string) (*BookingConfirmation, error) {
	if !ValidReference(reference) {
		return nil, validationErr("booking_reference", "must match LDG-XXXXXX")
	}
	if _, err := s.activeTenant(ctx, s.repo, tenantID); err != nil {
		return nil, err
	}
	res, err := s.repo.Reservations.GetByReference(ctx, tenantID, reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Entity: "reservation", ID: reference}
	}
	if err != nil {
		return nil, err
	}
	return s.confirmation(ctx, s.repo, res, nil)
}

func (s *bookingService) confirmation(ctx context.Context, repo *repository.Repository, res *models.Reservation, initial *models.Payment) (*BookingConfirmation, error) {
	rows, err := repo.ReservationRooms.ListByReservation(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	nights := res.Nights()
	booked := make([]BookedRoom, 0, len(rows))
	for _, row := range rows {
		booked = append(booked, BookedRoom{
			ReservationRoomID:  row.ID,
			RoomTypeID:         row.RoomTypeID,
			RoomID:             row.RoomID,
			PricePerNightCents: row.PricePerNightCents,
			LineTotalCents:     row.PricePerNightCents * int64(nights),
		})
	}
	return &BookingConfirmation{
		ReservationID: res.ID,
		TenantID:      res.TenantID,
		Reference:     res.BookingReference,
		Status:        res.Status,
		CheckIn:       res.CheckIn,
		CheckOut:      res.CheckOut,
		Nights:        nights,
		Guest: Guest{
			Name:  res.GuestName,
			Email: derefStr(res.GuestEmail),
			Phone: derefStr(res.GuestPhone),
		},
		GuestCount:       int(res.GuestCount),
		Rooms:            booked,
		TotalAmountCents: res.TotalAmountCents,
		PaymentMethod:    res.PaymentMethod,
		PaymentStatus:    res.PaymentStatus,
		InitialPayment:   initial,
		CreatedAt:        res.CreatedAt,
	}, nil
}
