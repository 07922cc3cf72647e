package producer

import (
	"context"
	"encoding/json"
	"testing"

	"lodge-service/internal/models"
	"lodge-service/internal/service"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishStatusChangedKeyedByReservation(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w}
	resID := uuid.New()

	err := p.PublishStatusChanged(context.Background(), service.StatusChangedEvent{
		ReservationID: resID,
		Reference:     "LDG-ABC123",
		From:          models.ReservationPending,
		To:            models.ReservationConfirmed,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, resID.String(), string(m.Key))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, EventStatusChanged, string(m.Headers[0].Value))

	var got service.StatusChangedEvent
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, models.ReservationConfirmed, got.To)
	assert.Equal(t, "LDG-ABC123", got.Reference)
}

func TestPublishOrderPreservedPerReservation(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w}
	resID := uuid.New()

	require.NoError(t, p.PublishBookingCreated(context.Background(), service.BookingCreatedEvent{ReservationID: resID}))
	require.NoError(t, p.PublishPaymentRecorded(context.Background(), service.PaymentRecordedEvent{ReservationID: resID}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, EventBookingCreated, string(w.msgs[0].Headers[0].Value))
	assert.Equal(t, EventPaymentRecorded, string(w.msgs[1].Headers[0].Value))
	assert.Equal(t, w.msgs[0].Key, w.msgs[1].Key)
}
