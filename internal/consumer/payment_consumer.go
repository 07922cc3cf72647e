package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/service"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentCallback это уведомление шлюза о том, что транзакцию стоит перепроверить.
type PaymentCallback struct {
	TenantID       string `json:"tenant_id"`
	TransactionRef string `json:"transaction_ref"`
}

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, tenantID uuid.UUID, transactionRef string) (*models.Payment, error)
}

type PaymentCallbackConsumer struct {
	reader    *kafka.Reader
	confirmer PaymentConfirmer
	log       *zap.Logger
}

func NewPaymentCallbackConsumer(brokers []string, groupID, topic string, confirmer PaymentConfirmer, log *zap.Logger) *PaymentCallbackConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		Topic:             topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		CommitInterval:    time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	})
	return &PaymentCallbackConsumer{reader: r, confirmer: confirmer, log: log}
}

func (c *PaymentCallbackConsumer) Run(ctx context.Context) error {
	c.log.Info("payment callback consumer started")
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.log.Error("read message", zap.Error(err))
			continue
		}
		c.handleMessage(ctx, m.Value)
	}
}

// handleMessage никогда не возвращает ошибку: сообщение коммитится в любом случае,
// а неподтверждённый платёж позже подберёт sweeper.
func (c *PaymentCallbackConsumer) handleMessage(ctx context.Context, value []byte) {
	var cb PaymentCallback
	if err := json.Unmarshal(value, &cb); err != nil {
		c.log.Error("unmarshal payment callback", zap.ByteString("value", value), zap.Error(err))
		return
	}
	tenantID, err := uuid.Parse(cb.TenantID)
	if err != nil || cb.TransactionRef == "" {
		c.log.Warn("invalid payment callback", zap.Any("msg", cb))
		return
	}

	pay, err := c.confirmer.ConfirmPayment(ctx, tenantID, cb.TransactionRef)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.log.Warn("payment callback for unknown transaction", zap.String("transaction_ref", cb.TransactionRef))
			return
		}
		c.log.Error("confirm payment failed", zap.String("transaction_ref", cb.TransactionRef), zap.Error(err))
		return
	}
	c.log.Info("payment confirmed from callback",
		zap.String("transaction_ref", cb.TransactionRef),
		zap.String("status", string(pay.Status)),
	)
}

func (c *PaymentCallbackConsumer) Close() error { return c.reader.Close() }
