package service

import (
	"context"
	"errors"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AvailabilityResult struct {
	RoomTypeID          uuid.UUID `json:"room_type_id"`
	Name                string    `json:"name"`
	MaxOccupancy        int32     `json:"max_occupancy"`
	AvailableCount      int       `json:"available_count"`
	EffectivePriceCents int64     `json:"effective_price_cents"`
}

type RoomRequest struct {
	RoomTypeID uuid.UUID
	Quantity   int
}

type Guest struct {
	Name  string
	Email string
	Phone string
}

type CreateBookingInput struct {
	CheckIn       time.Time
	CheckOut      time.Time
	Rooms         []RoomRequest
	Guest         Guest
	GuestCount    int
	PaymentMethod models.PaymentMethod

	// Необязательный первый платёж, проводится через журнал платежей после коммита брони.
	InitialPaymentCents int64
	AllowOverpay        bool

	BackdateAllowed bool
	Inquiry         bool
	IdempotencyKey  string
}

type BookedRoom struct {
	ReservationRoomID  uuid.UUID  `json:"reservation_room_id"`
	RoomTypeID         uuid.UUID  `json:"room_type_id"`
	RoomID             *uuid.UUID `json:"room_id,omitempty"`
	PricePerNightCents int64      `json:"price_per_night_cents"`
	LineTotalCents     int64      `json:"line_total_cents"`
}

// BookingConfirmation is a read-only snapshot of a reservation.
type BookingConfirmation struct {
	ReservationID    uuid.UUID                       `json:"reservation_id"`
	TenantID         uuid.UUID                       `json:"tenant_id"`
	Reference        string                          `json:"booking_reference"`
	Status           models.ReservationStatus        `json:"status"`
	CheckIn          time.Time                       `json:"check_in"`
	CheckOut         time.Time                       `json:"check_out"`
	Nights           int                             `json:"nights"`
	Guest            Guest                           `json:"guest"`
	GuestCount       int                             `json:"guest_count"`
	Rooms            []BookedRoom                    `json:"rooms"`
	TotalAmountCents int64                           `json:"total_amount_cents"`
	PaymentMethod    models.PaymentMethod            `json:"payment_method"`
	PaymentStatus    models.ReservationPaymentStatus `json:"payment_status"`
	InitialPayment   *models.Payment                 `json:"initial_payment,omitempty"`
	CreatedAt        time.Time                       `json:"created_at"`
}

type Allocation struct {
	ReservationRoomID uuid.UUID `json:"reservation_room_id"`
	RoomID            uuid.UUID `json:"room_id"`
	RoomNumber        string    `json:"room_number"`
}

type RecordPaymentInput struct {
	ReservationID uuid.UUID
	AmountCents   int64
	Method        models.PaymentMethod
	// Обязательный флаг: nil: ошибка валидации, значения по умолчанию нет.
	AllowOverpay *bool
	Description  string
}

type BookingService interface {
	SearchAvailability(ctx context.Context, tenantID uuid.UUID, checkIn, checkOut time.Time, guests int) ([]AvailabilityResult, error)
	CreateBooking(ctx context.Context, tenantID uuid.UUID, in CreateBookingInput) (*BookingConfirmation, error)
	GetBooking(ctx context.Context, tenantID uuid.UUID, reference string) (*BookingConfirmation, error)

	Transition(ctx context.Context, tenantID, reservationID uuid.UUID, target models.ReservationStatus, actor Actor) (*models.Reservation, error)
	AllocateRooms(ctx context.Context, tenantID, reservationID uuid.UUID) ([]Allocation, error)

	RecordPayment(ctx context.Context, tenantID uuid.UUID, in RecordPaymentInput) (*models.Payment, error)
	ConfirmPayment(ctx context.Context, tenantID uuid.UUID, transactionRef string) (*models.Payment, error)
	RetryPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.Payment, error)
	Refund(ctx context.Context, tenantID, paymentID uuid.UUID, amountCents *int64) (*models.Payment, error)
	ExpirePayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, tenantID, reservationID uuid.UUID) ([]models.Payment, error)
}

type Policy struct {
	// Доля от суммы брони (в процентах), которая должна быть оплачена для pending -> confirmed.
	DepositPercent     int
	AutoConfirmOffline bool
	ProviderTimeout    time.Duration
	CallbackURL        string
	ReferenceAttempts  int
}

func DefaultPolicy() Policy {
	return Policy{
		DepositPercent:    30,
		ProviderTimeout:   10 * time.Second,
		ReferenceAttempts: 5,
	}
}

type Deps struct {
	Repo      *repository.Repository
	Providers PaymentProviders
	Cache     AvailabilityCache
	Events    EventBus
	Pricing   PricingRule
	Policy    Policy
	Log       *zap.Logger
}

type bookingService struct {
	repo      *repository.Repository
	providers PaymentProviders
	cache     AvailabilityCache
	events    EventBus
	pricing   PricingRule
	policy    Policy
	log       *zap.Logger
	now       func() time.Time
	newRef    func() (string, error)
}

func NewBookingService(d Deps) BookingService {
	return newBookingService(d)
}

func newBookingService(d Deps) *bookingService {
	s := &bookingService{
		repo:      d.Repo,
		providers: d.Providers,
		cache:     d.Cache,
		events:    d.Events,
		pricing:   d.Pricing,
		policy:    d.Policy,
		log:       d.Log,
		now:       time.Now,
		newRef:    NewBookingReference,
	}
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.events == nil {
		s.events = noopBus{}
	}
	if s.pricing == nil {
		s.pricing = basePriceRule{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.policy.ProviderTimeout <= 0 {
		s.policy.ProviderTimeout = DefaultPolicy().ProviderTimeout
	}
	if s.policy.ReferenceAttempts <= 0 {
		s.policy.ReferenceAttempts = DefaultPolicy().ReferenceAttempts
	}
	return s
}

// DateOnly truncates t to a calendar date in UTC; time of day is ignored.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// today: календарная дата в UTC, как и даты заезда/выезда.
func (s *bookingService) today() time.Time { return DateOnly(s.now().UTC()) }

func (s *bookingService) activeTenant(ctx context.Context, repo *repository.Repository, tenantID uuid.UUID) (*models.Tenant, error) {
	t, err := repo.Tenants.GetByID(ctx, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("tenant", tenantID)
	}
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, notFound("tenant", tenantID)
	}
	return t, nil
}

func (s *bookingService) loadReservation(ctx context.Context, repo *repository.Repository, tenantID, id uuid.UUID, forUpdate bool) (*models.Reservation, error) {
	var (
		res *models.Reservation
		err error
	)
	if forUpdate {
		res, err = repo.Reservations.GetByIDForUpdate(ctx, tenantID, id)
	} else {
		res, err = repo.Reservations.GetByID(ctx, tenantID, id)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("reservation", id)
	}
	return res, err
}

func (s *bookingService) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.log.Warn("availability cache invalidation failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
