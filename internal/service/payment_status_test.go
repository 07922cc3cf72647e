package service

import (
	"testing"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPaymentTransitionTable(t *testing.T) {
	legal := map[[2]models.PaymentStatus]bool{
		{models.PaymentInitiated, models.PaymentPending}: true,
		{models.PaymentInitiated, models.PaymentPaid}:    true,
		{models.PaymentInitiated, models.PaymentFailed}:  true,
		{models.PaymentPending, models.PaymentPaid}:      true,
		{models.PaymentPending, models.PaymentFailed}:    true,
		{models.PaymentFailed, models.PaymentInitiated}:  true,
	}
	for _, from := range AllPaymentStatuses {
		for _, to := range AllPaymentStatuses {
			want := legal[[2]models.PaymentStatus{from, to}]
			assert.Equal(t, want, CanTransitionPayment(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransitionPayment(models.PaymentRefunded, models.PaymentPaid))
}

func pay(amount int64, st models.PaymentStatus) models.Payment {
	return models.Payment{ID: uuid.New(), AmountCents: amount, Status: st}
}

func refund(amount int64, of uuid.UUID) models.Payment {
	return models.Payment{ID: uuid.New(), AmountCents: amount, Status: models.PaymentRefunded, RefundOfID: &of}
}

func TestDerivePaymentStatus(t *testing.T) {
	deposit := pay(18000, models.PaymentPaid)
	full := pay(60000, models.PaymentPaid)

	cases := []struct {
		name     string
		payments []models.Payment
		want     models.ReservationPaymentStatus
	}{
		{"no payments", nil, models.PaymentStateUnpaid},
		{"in flight", []models.Payment{pay(18000, models.PaymentInitiated)}, models.PaymentStatePending},
		{"gateway pending", []models.Payment{pay(18000, models.PaymentPending)}, models.PaymentStatePending},
		{"failed only", []models.Payment{pay(18000, models.PaymentFailed)}, models.PaymentStateFailed},
		{"deposit", []models.Payment{deposit}, models.PaymentStatePartiallyPaid},
		{"deposit then failed", []models.Payment{deposit, pay(42000, models.PaymentFailed)}, models.PaymentStatePartiallyPaid},
		{"failed then paid", []models.Payment{pay(60000, models.PaymentFailed), full}, models.PaymentStatePaid},
		{"deposit plus balance", []models.Payment{deposit, pay(42000, models.PaymentPaid)}, models.PaymentStatePaid},
		{"overpaid", []models.Payment{pay(70000, models.PaymentPaid)}, models.PaymentStatePaid},
		{"partial refund", []models.Payment{full, refund(10000, full.ID)}, models.PaymentStatePartiallyPaid},
		{"full refund", []models.Payment{full, refund(60000, full.ID)}, models.PaymentStateRefunded},
		{"refunded with retry in flight", []models.Payment{deposit, refund(18000, deposit.ID), pay(18000, models.PaymentPending)}, models.PaymentStateRefunded},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, DerivePaymentStatus(60000, c.payments))
		})
	}
}

func TestLedgerNetNeverNegative(t *testing.T) {
	full := pay(60000, models.PaymentPaid)
	l := summarize([]models.Payment{full, refund(20000, full.ID), refund(40000, full.ID)})
	assert.Equal(t, int64(0), l.Net())
	assert.Equal(t, int64(60000), l.Refunded)
}

func TestGuardOverpay(t *testing.T) {
	res := &models.Reservation{TotalAmountCents: 60000}
	payments := []models.Payment{pay(18000, models.PaymentPaid), pay(20000, models.PaymentPending)}

	assert.NoError(t, guardOverpay(res, payments, 22000, false))

	err := guardOverpay(res, payments, 22001, false)
	var over *OverpaymentError
	if assert.ErrorAs(t, err, &over) {
		assert.Equal(t, int64(22000), over.Outstanding)
	}
	assert.ErrorIs(t, err, ErrOverpayment)

	assert.NoError(t, guardOverpay(res, payments, 100000, true))
}
