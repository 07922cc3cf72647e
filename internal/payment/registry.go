package payment

import (
	"fmt"
	"sync"

	"lodge-service/internal/models"
	"lodge-service/internal/service"

	"go.uber.org/zap"
)

type Registry struct {
	mu        sync.RWMutex
	providers map[models.PaymentMethod]service.PaymentProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[models.PaymentMethod]service.PaymentProvider)}
}

// NewDefaultRegistry wires every payment method: cash and pay_at_lodge to the manual
// provider, the rest to gateway channels of the same name.
func NewDefaultRegistry(cfg GatewayConfig, log *zap.Logger) *Registry {
	r := NewRegistry()
	manual := NewManualProvider()
	r.Register(models.MethodCash, manual)
	r.Register(models.MethodPayAtLodge, manual)
	for _, m := range []models.PaymentMethod{models.MethodCard, models.MethodMobileMoney, models.MethodBankTransfer, models.MethodOnline} {
		r.Register(m, NewGatewayProvider(string(m), cfg, log))
	}
	return r
}

func (r *Registry) Register(method models.PaymentMethod, p service.PaymentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[method] = p
}

func (r *Registry) Provider(method models.PaymentMethod) (service.PaymentProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownPaymentMethod, method)
	}
	return p, nil
}
