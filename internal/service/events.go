package service

import (
	"context"
	"time"

	"lodge-service/internal/models"

	"github.com/google/uuid"
)

type BookingCreatedEvent struct {
	ReservationID uuid.UUID                `json:"reservation_id"`
	TenantID      uuid.UUID                `json:"tenant_id"`
	Reference     string                   `json:"booking_reference"`
	Status        models.ReservationStatus `json:"status"`
	CheckIn       string                   `json:"check_in"`
	CheckOut      string                   `json:"check_out"`
	Rooms         int                      `json:"rooms"`
	TotalCents    int64                    `json:"total_cents"`
	CreatedAt     time.Time                `json:"created_at"`
}

type StatusChangedEvent struct {
	ReservationID uuid.UUID                `json:"reservation_id"`
	TenantID      uuid.UUID                `json:"tenant_id"`
	Reference     string                   `json:"booking_reference"`
	From          models.ReservationStatus `json:"from"`
	To            models.ReservationStatus `json:"to"`
	ActorID       string                   `json:"actor_id"`
	ActorRole     ActorRole                `json:"actor_role"`
	Reason        string                   `json:"reason,omitempty"`
	ChangedAt     time.Time                `json:"changed_at"`
}

type PaymentRecordedEvent struct {
	PaymentID     uuid.UUID                       `json:"payment_id"`
	ReservationID uuid.UUID                       `json:"reservation_id"`
	TenantID      uuid.UUID                       `json:"tenant_id"`
	AmountCents   int64                           `json:"amount_cents"`
	Method        models.PaymentMethod            `json:"method"`
	Status        models.PaymentStatus            `json:"status"`
	PaymentStatus models.ReservationPaymentStatus `json:"reservation_payment_status"`
	RecordedAt    time.Time                       `json:"recorded_at"`
}

type EventBus interface {
	PublishBookingCreated(ctx context.Context, e BookingCreatedEvent) error
	PublishStatusChanged(ctx context.Context, e StatusChangedEvent) error
	PublishPaymentRecorded(ctx context.Context, e PaymentRecordedEvent) error
}

type noopBus struct{}

func (noopBus) PublishBookingCreated(context.Context, BookingCreatedEvent) error   { return nil }
func (noopBus) PublishStatusChanged(context.Context, StatusChangedEvent) error     { return nil }
func (noopBus) PublishPaymentRecorded(context.Context, PaymentRecordedEvent) error { return nil }
