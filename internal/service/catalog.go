package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// Верхняя граница выборки броней при уменьшении ёмкости.
const maxHorizonYears = 5

type CreateRoomTypeInput struct {
	Name           string
	MaxOccupancy   int32
	BasePriceCents int64
	TotalUnits     int32
}

type CatalogService interface {
	CreateTenant(ctx context.Context, slug, name, currency string) (*models.Tenant, error)
	SetTenantActive(ctx context.Context, tenantID uuid.UUID, active bool) error

	CreateRoomType(ctx context.Context, tenantID uuid.UUID, in CreateRoomTypeInput) (*models.RoomType, error)
	UpdateRoomTypePrice(ctx context.Context, tenantID, roomTypeID uuid.UUID, priceCents int64) error
	SetRoomTypeUnits(ctx context.Context, tenantID, roomTypeID uuid.UUID, units int32) error

	CreateRoom(ctx context.Context, tenantID, roomTypeID uuid.UUID, number string) (*models.Room, error)
	ListRooms(ctx context.Context, tenantID uuid.UUID, roomTypeID *uuid.UUID) ([]models.Room, error)
	SetRoomStatus(ctx context.Context, tenantID, roomID uuid.UUID, status models.RoomStatus) (*models.Room, error)
}

// Ручные переходы уборки; occupied и reserved выставляются только распределением и выездом.
var housekeepingTransitions = map[models.RoomStatus][]models.RoomStatus{
	models.RoomDirty:        {models.RoomAvailable, models.RoomOutOfService},
	models.RoomAvailable:    {models.RoomOutOfService},
	models.RoomOutOfService: {models.RoomAvailable, models.RoomDirty},
}

func CanSetRoomStatus(from, to models.RoomStatus) bool {
	for _, t := range housekeepingTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type catalogService struct {
	repo  *repository.Repository
	cache AvailabilityCache
	log   *zap.Logger
	now   func() time.Time
}

func NewCatalogService(repo *repository.Repository, cache AvailabilityCache, log *zap.Logger) CatalogService {
	if cache == nil {
		cache = noopCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &catalogService{repo: repo, cache: cache, log: log, now: time.Now}
}

func (s *catalogService) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.log.Warn("availability cache invalidation failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}

func (s *catalogService) CreateTenant(ctx context.Context, slug, name, currency string) (*models.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	verr := NewValidationError()
	if !slugPattern.MatchString(slug) {
		verr.Add("slug", "must be lowercase letters, digits and dashes")
	}
	if strings.TrimSpace(name) == "" {
		verr.Add("name", "required")
	}
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		verr.Add("currency", "must be a 3-letter code")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	t := &models.Tenant{Slug: slug, Name: strings.TrimSpace(name), CurrencyCode: strings.ToUpper(currency), Active: true}
	if err := s.repo.Tenants.Create(ctx, t); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, validationErr("slug", "already taken")
		}
		return nil, err
	}
	return t, nil
}

func (s *catalogService) SetTenantActive(ctx context.Context, tenantID uuid.UUID, active bool) error {
	ok, err := s.repo.Tenants.SetActive(ctx, tenantID, active)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("tenant", tenantID)
	}
	return nil
}

func (s *catalogService) activeTenant(ctx context.Context, tenantID uuid.UUID) error {
	t, err := s.repo.Tenants.GetByID(ctx, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !t.Active) {
		return notFound("tenant", tenantID)
	}
	return err
}

func (s *catalogService) CreateRoomType(ctx context.Context, tenantID uuid.UUID, in CreateRoomTypeInput) (*models.RoomType, error) {
	verr := NewValidationError()
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "required")
	}
	if in.MaxOccupancy < 1 {
		verr.Add("max_occupancy", "must be at least 1")
	}
	if in.BasePriceCents < 0 {
		verr.Add("base_price", "must not be negative")
	}
	if in.TotalUnits < 0 {
		verr.Add("total_units", "must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if err := s.activeTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	rt := &models.RoomType{
		TenantID:       tenantID,
		Name:           strings.TrimSpace(in.Name),
		MaxOccupancy:   in.MaxOccupancy,
		BasePriceCents: in.BasePriceCents,
		TotalUnits:     in.TotalUnits,
	}
	if err := s.repo.RoomTypes.Create(ctx, rt); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, validationErr("name", "already exists")
		}
		return nil, err
	}
	s.invalidate(ctx, tenantID)
	return rt, nil
}

// UpdateRoomTypePrice changes the price for new bookings; existing reservations keep their snapshot.
func (s *catalogService) UpdateRoomTypePrice(ctx context.Context, tenantID, roomTypeID uuid.UUID, priceCents int64) error {
	if priceCents < 0 {
		return validationErr("base_price", "must not be negative")
	}
	ok, err := s.repo.RoomTypes.UpdatePrice(ctx, tenantID, roomTypeID, priceCents)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("room type", roomTypeID)
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *catalogService) SetRoomTypeUnits(ctx context.Context, tenantID, roomTypeID uuid.UUID, units int32) error {
	if units < 0 {
		return validationErr("total_units", "must not be negative")
	}
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		// Блокировка та же, что у бронирования: новые брони ждут смены ёмкости.
		locked, err := tx.RoomTypes.LockForBooking(ctx, tenantID, []uuid.UUID{roomTypeID})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return notFound("room type", roomTypeID)
		}
		from := DateOnly(s.now().UTC())
		stays, err := tx.Reservations.ListHoldingStays(ctx, repository.HoldingFilter{
			TenantID:    tenantID,
			RoomTypeIDs: []uuid.UUID{roomTypeID},
			From:        from,
			To:          from.AddDate(maxHorizonYears, 0, 0),
		})
		if err != nil {
			return err
		}
		to := from
		for _, st := range stays {
			if out := DateOnly(st.CheckOut); out.After(to) {
				to = out
			}
		}
		if held := peakOccupancy(stays, from, to)[roomTypeID]; int(units) < held {
			return validationErr("total_units", fmt.Sprintf("%d units are held by upcoming reservations", held))
		}
		ok, err := tx.RoomTypes.SetTotalUnits(ctx, tenantID, roomTypeID, units)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("room type", roomTypeID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *catalogService) CreateRoom(ctx context.Context, tenantID, roomTypeID uuid.UUID, number string) (*models.Room, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, validationErr("number", "required")
	}
	if err := s.activeTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if _, err := s.repo.RoomTypes.GetByID(ctx, tenantID, roomTypeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("room type", roomTypeID)
		}
		return nil, err
	}
	room := &models.Room{TenantID: tenantID, RoomTypeID: roomTypeID, Number: number, Status: models.RoomAvailable}
	if err := s.repo.Rooms.Create(ctx, room); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, validationErr("number", "already exists")
		}
		return nil, err
	}
	return room, nil
}

func (s *catalogService) ListRooms(ctx context.Context, tenantID uuid.UUID, roomTypeID *uuid.UUID) ([]models.Room, error) {
	if err := s.activeTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.repo.Rooms.List(ctx, tenantID, roomTypeID)
}

func (s *catalogService) SetRoomStatus(ctx context.Context, tenantID, roomID uuid.UUID, status models.RoomStatus) (*models.Room, error) {
	room, err := s.repo.Rooms.GetByID(ctx, tenantID, roomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("room", roomID)
	}
	if err != nil {
		return nil, err
	}
	if room.Status == status {
		return room, nil
	}
	if !CanSetRoomStatus(room.Status, status) {
		return nil, &InvalidTransitionError{Entity: "room", From: string(room.Status), To: string(status)}
	}
	ok, err := s.repo.Rooms.CompareAndSetStatus(ctx, tenantID, roomID, []models.RoomStatus{room.Status}, status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InvalidTransitionError{Entity: "room", From: string(room.Status), To: string(status), Reason: "status changed concurrently"}
	}
	room.Status = status
	s.log.Info("room status changed", zap.String("room", room.Number), zap.String("status", string(status)))
	return room, nil
}
