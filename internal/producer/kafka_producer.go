package producer

import (
	"context"
	"encoding/json"
	"time"

	"lodge-service/internal/service"

	"github.com/segmentio/kafka-go"
)

const (
	EventBookingCreated  = "booking.created"
	EventStatusChanged   = "booking.status_changed"
	EventPaymentRecorded = "booking.payment_recorded"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer публикует события бронирований; ключ сообщения это id брони,
// чтобы события одной брони шли в одну партицию по порядку.
type KafkaProducer struct {
	writer messageWriter
}

var _ service.EventBus = (*KafkaProducer)(nil)

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaProducer) send(ctx context.Context, eventType, key string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	})
}

func (p *KafkaProducer) PublishBookingCreated(ctx context.Context, e service.BookingCreatedEvent) error {
	return p.send(ctx, EventBookingCreated, e.ReservationID.String(), e)
}

func (p *KafkaProducer) PublishStatusChanged(ctx context.Context, e service.StatusChangedEvent) error {
	return p.send(ctx, EventStatusChanged, e.ReservationID.String(), e)
}

func (p *KafkaProducer) PublishPaymentRecorded(ctx context.Context, e service.PaymentRecordedEvent) error {
	return p.send(ctx, EventPaymentRecorded, e.ReservationID.String(), e)
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
