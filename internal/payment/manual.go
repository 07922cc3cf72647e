package payment

import (
	"context"

	"lodge-service/internal/service"

	"github.com/google/uuid"
)

// ManualProvider обслуживает наличные и оплату на месте: внешнего шлюза нет,
// подтверждение делает персонал.
type ManualProvider struct{}

func NewManualProvider() *ManualProvider { return &ManualProvider{} }

func (ManualProvider) InitiatePayment(_ context.Context, req service.InitiateRequest) (*service.InitiateResult, error) {
	return &service.InitiateResult{
		Success:        true,
		TransactionRef: "manual-" + uuid.NewString(),
		Status:         service.ProviderStatusPending,
	}, nil
}

func (ManualProvider) VerifyPayment(_ context.Context, _ string) (*service.VerifyResult, error) {
	return &service.VerifyResult{Success: true, Status: service.ProviderStatusPaid}, nil
}

func (ManualProvider) RefundPayment(_ context.Context, _ string, amount *int64) (*service.RefundResult, error) {
	var refunded int64
	if amount != nil {
		refunded = *amount
	}
	return &service.RefundResult{Success: true, RefundedAmount: refunded, Status: "refunded"}, nil
}
