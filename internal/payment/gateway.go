package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lodge-service/internal/service"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type initiateRequest struct {
	Channel     string `json:"channel"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initiateResponse struct {
	Success        bool   `json:"success"`
	TransactionRef string `json:"transaction_ref"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

type refundRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}

type refundResponse struct {
	Success        bool   `json:"success"`
	RefundedAmount int64  `json:"refunded_amount"`
	Status         string `json:"status"`
}

// GatewayProvider is a JSON-over-HTTP payment gateway client; one instance per channel
// (card, mobile_money, bank_transfer, online).
type GatewayProvider struct {
	channel string
	http    *resty.Client
	log     *zap.Logger
}

func NewGatewayProvider(channel string, cfg GatewayConfig, log *zap.Logger) *GatewayProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &GatewayProvider{channel: channel, http: client, log: log}
}

// declined: шлюз ответил, но отказал, тело ответа содержит результат.
func declined(code int) bool {
	return code == http.StatusPaymentRequired || code == http.StatusUnprocessableEntity
}

func (g *GatewayProvider) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
	}
	if resp.IsError() && !declined(resp.StatusCode()) {
		g.log.Warn("payment gateway error",
			zap.String("op", op),
			zap.String("channel", g.channel),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("%w: %s: http %d", ErrGatewayUnavailable, op, resp.StatusCode())
	}
	return nil
}

func (g *GatewayProvider) InitiatePayment(ctx context.Context, req service.InitiateRequest) (*service.InitiateResult, error) {
	var out initiateResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(initiateRequest{
			Channel:     g.channel,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Reference:   req.Reference,
			Description: req.Description,
			CallbackURL: req.CallbackURL,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/payments")
	if err := g.check(resp, err, "initiate"); err != nil {
		return nil, err
	}
	return &service.InitiateResult{
		Success:        out.Success,
		TransactionRef: out.TransactionRef,
		Status:         out.Status,
		Message:        out.Message,
	}, nil
}

func (g *GatewayProvider) VerifyPayment(ctx context.Context, transactionRef string) (*service.VerifyResult, error) {
	var out verifyResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get("/v1/payments/" + url.PathEscape(transactionRef))
	if err := g.check(resp, err, "verify"); err != nil {
		return nil, err
	}
	return &service.VerifyResult{Success: out.Success, Amount: out.Amount, Status: out.Status}, nil
}

func (g *GatewayProvider) RefundPayment(ctx context.Context, transactionRef string, amount *int64) (*service.RefundResult, error) {
	var out refundResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(refundRequest{Amount: amount}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/payments/" + url.PathEscape(transactionRef) + "/refunds")
	if err := g.check(resp, err, "refund"); err != nil {
		return nil, err
	}
	return &service.RefundResult{Success: out.Success, RefundedAmount: out.RefundedAmount, Status: out.Status}, nil
}
