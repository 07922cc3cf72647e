package models

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Slug         string    `gorm:"type:text;not null;uniqueIndex:ux_tenants_slug"`
	Name         string    `gorm:"type:text;not null"`
	CurrencyCode string    `gorm:"type:char(3);not null;default:'USD'"`
	Active       bool      `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (Tenant) TableName() string {
	return "tenants"
}

type RoomType struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Name           string    `gorm:"type:text;not null"`
	MaxOccupancy   int32     `gorm:"not null;default:1"`
	BasePriceCents int64     `gorm:"not null;default:0"`
	TotalUnits     int32     `gorm:"not null;default:0"` // потолок инвентаря, доступность всегда считается

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (RoomType) TableName() string {
	return "room_types"
}

type RoomStatus string

const (
	RoomAvailable    RoomStatus = "available"
	RoomOccupied     RoomStatus = "occupied"
	RoomReserved     RoomStatus = "reserved"
	RoomDirty        RoomStatus = "dirty"
	RoomOutOfService RoomStatus = "out_of_service"
)

type Room struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	RoomTypeID uuid.UUID  `gorm:"type:uuid;not null;index"`
	Number     string     `gorm:"type:text;not null"`
	Status     RoomStatus `gorm:"type:text;not null;default:'available';index"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Room) TableName() string {
	return "rooms"
}

type ReservationStatus string

const (
	ReservationInquiry    ReservationStatus = "inquiry"
	ReservationPending    ReservationStatus = "pending"
	ReservationConfirmed  ReservationStatus = "confirmed"
	ReservationCheckedIn  ReservationStatus = "checked_in"
	ReservationCheckedOut ReservationStatus = "checked_out"
	ReservationCancelled  ReservationStatus = "cancelled"
	ReservationNoShow     ReservationStatus = "no_show"
)

// HoldingStatuses занимают инвентарь типа номера.
var HoldingStatuses = []ReservationStatus{ReservationPending, ReservationConfirmed, ReservationCheckedIn}

func (s ReservationStatus) Holding() bool {
	for _, h := range HoldingStatuses {
		if s == h {
			return true
		}
	}
	return false
}

func (s ReservationStatus) Terminal() bool {
	return s == ReservationCheckedOut || s == ReservationCancelled || s == ReservationNoShow
}

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// ReservationPaymentStatus is a projection of the payment ledger.
type ReservationPaymentStatus string

const (
	PaymentStateUnpaid        ReservationPaymentStatus = "unpaid"
	PaymentStatePartiallyPaid ReservationPaymentStatus = "partially_paid"
	PaymentStatePending       ReservationPaymentStatus = "pending"
	PaymentStatePaid          ReservationPaymentStatus = "paid"
	PaymentStateFailed        ReservationPaymentStatus = "failed"
	PaymentStateRefunded      ReservationPaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodOnline       PaymentMethod = "online"
	MethodPayAtLodge   PaymentMethod = "pay_at_lodge"
)

var PaymentMethods = []PaymentMethod{MethodCash, MethodCard, MethodMobileMoney, MethodBankTransfer, MethodOnline, MethodPayAtLodge}

func (m PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if m == v {
			return true
		}
	}
	return false
}

// Offline methods are settled at the desk and never reach a provider gateway.
func (m PaymentMethod) Offline() bool {
	return m == MethodCash || m == MethodPayAtLodge
}

type Reservation struct {
	ID               uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID         uuid.UUID                `gorm:"type:uuid;not null;index"`
	BookingReference string                   `gorm:"type:text;not null"`
	Status           ReservationStatus        `gorm:"type:text;not null;default:'pending';index"`
	CheckIn          time.Time                `gorm:"type:date;not null"`
	CheckOut         time.Time                `gorm:"type:date;not null"`
	GuestName        string                   `gorm:"type:text;not null;default:''"`
	GuestEmail       *string                  `gorm:"type:text"`
	GuestPhone       *string                  `gorm:"type:text"`
	GuestCount       int32                    `gorm:"not null;default:1"`
	PaymentMethod    PaymentMethod            `gorm:"type:text;not null"`
	TotalAmountCents int64                    `gorm:"not null;default:0"`
	PaymentStatus    ReservationPaymentStatus `gorm:"type:text;not null;default:'unpaid'"`
	IdempotencyKey   *string                  `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Reservation) TableName() string {
	return "reservations"
}

// Nights is the number of whole nights in [CheckIn, CheckOut).
func (r *Reservation) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

type ReservationRoom struct {
	ID                 uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ReservationID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	RoomTypeID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	RoomID             *uuid.UUID `gorm:"type:uuid;index"` // nil до распределения, после установки не меняется
	PricePerNightCents int64      `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (ReservationRoom) TableName() string {
	return "reservation_rooms"
}

type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureDeclined  FailureKind = "declined"
	FailureExpired   FailureKind = "expired"
)

type Payment struct {
	ID             uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID     `gorm:"type:uuid;not null;index"`
	ReservationID  uuid.UUID     `gorm:"type:uuid;not null;index"`
	AmountCents    int64         `gorm:"not null"`
	Method         PaymentMethod `gorm:"type:text;not null"`
	Status         PaymentStatus `gorm:"type:text;not null;default:'initiated';index"`
	TransactionRef *string       `gorm:"type:text"`
	RefundOfID     *uuid.UUID    `gorm:"type:uuid;index"`
	FailureKind    *FailureKind  `gorm:"type:text"`
	FailureReason  *string       `gorm:"type:text"`
	AllowOverpay   bool          `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now();index"`
}

func (Payment) TableName() string {
	return "payments"
}

type ReservationStatusEvent struct {
	ID            uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ReservationID uuid.UUID         `gorm:"type:uuid;not null;index"`
	FromStatus    ReservationStatus `gorm:"type:text;not null"`
	ToStatus      ReservationStatus `gorm:"type:text;not null"`
	ActorID       string            `gorm:"type:text;not null;default:''"`
	ActorRole     string            `gorm:"type:text;not null;default:''"`
	Reason        string            `gorm:"type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
}

func (ReservationStatusEvent) TableName() string {
	return "reservation_status_events"
}
