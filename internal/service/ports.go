package service

import (
	"context"
	"time"

	"lodge-service/internal/models"

	"github.com/google/uuid"
)

type InitiateRequest struct {
	Method      models.PaymentMethod
	Amount      int64
	Currency    string
	Reference   string
	Description string
	CallbackURL string
}

type InitiateResult struct {
	Success        bool
	TransactionRef string
	Status         string
	Message        string
}

type VerifyResult struct {
	Success bool
	Amount  int64
	Status  string
}

type RefundResult struct {
	Success        bool
	RefundedAmount int64
	Status         string
}

// Provider-side status strings returned by VerifyPayment.
const (
	ProviderStatusPaid    = "paid"
	ProviderStatusPending = "pending"
	ProviderStatusFailed  = "failed"
)

// PaymentProvider is the outbound capability every payment channel implements.
type PaymentProvider interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	VerifyPayment(ctx context.Context, transactionRef string) (*VerifyResult, error)
	RefundPayment(ctx context.Context, transactionRef string, amount *int64) (*RefundResult, error)
}

type PaymentProviders interface {
	Provider(method models.PaymentMethod) (PaymentProvider, error)
}

// AvailabilityCache хранит результаты поиска под версией арендатора; Invalidate
// поднимает версию после каждой записи, меняющей занятость или инвентарь.
// Версию читают до запроса к базе, чтобы устаревший результат не попал под новую версию.
type AvailabilityCache interface {
	Version(ctx context.Context, tenantID uuid.UUID) (int64, error)
	Get(ctx context.Context, tenantID uuid.UUID, version int64, key string) ([]AvailabilityResult, bool, error)
	Put(ctx context.Context, tenantID uuid.UUID, version int64, key string, results []AvailabilityResult) error
	Invalidate(ctx context.Context, tenantID uuid.UUID) error
}

// PricingRule resolves the nightly price snapshotted into a booking.
type PricingRule interface {
	EffectivePrice(ctx context.Context, rt models.RoomType, checkIn, checkOut time.Time) (int64, error)
}

type basePriceRule struct{}

func (basePriceRule) EffectivePrice(_ context.Context, rt models.RoomType, _, _ time.Time) (int64, error) {
	return rt.BasePriceCents, nil
}

type noopCache struct{}

func (noopCache) Version(context.Context, uuid.UUID) (int64, error) { return 0, nil }
func (noopCache) Get(context.Context, uuid.UUID, int64, string) ([]AvailabilityResult, bool, error) {
	return nil, false, nil
}
func (noopCache) Put(context.Context, uuid.UUID, int64, string, []AvailabilityResult) error {
	return nil
}
func (noopCache) Invalidate(context.Context, uuid.UUID) error { return nil }
