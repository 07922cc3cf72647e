package service

import "lodge-service/internal/models"

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentInitiated: {models.PaymentPending, models.PaymentPaid, models.PaymentFailed},
	models.PaymentPending:   {models.PaymentPaid, models.PaymentFailed},
	models.PaymentFailed:    {models.PaymentInitiated},
}

var AllPaymentStatuses = []models.PaymentStatus{
	models.PaymentInitiated,
	models.PaymentPending,
	models.PaymentPaid,
	models.PaymentFailed,
	models.PaymentRefunded,
}

// CanTransitionPayment reports whether a ledger row may move from one status to another.
// paid and refunded rows are settled and never change.
func CanTransitionPayment(from, to models.PaymentStatus) bool {
	for _, t := range paymentTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type ledgerSummary struct {
	Paid              int64
	Refunded          int64
	InFlight          int64 // initiated + pending
	AnyPaid           bool
	AnyInFlight       bool
	LastAttemptFailed bool
}

func (l ledgerSummary) Net() int64 { return l.Paid - l.Refunded }

// summarize expects payments in creation order.
func summarize(payments []models.Payment) ledgerSummary {
	var l ledgerSummary
	for _, p := range payments {
		switch p.Status {
		case models.PaymentPaid:
			l.Paid += p.AmountCents
			l.AnyPaid = true
		case models.PaymentRefunded:
			l.Refunded += p.AmountCents
		case models.PaymentInitiated, models.PaymentPending:
			l.InFlight += p.AmountCents
			l.AnyInFlight = true
		}
		if p.RefundOfID == nil {
			l.LastAttemptFailed = p.Status == models.PaymentFailed
		}
	}
	return l
}

// DerivePaymentStatus projects the ledger onto the reservation's payment status.
func DerivePaymentStatus(totalCents int64, payments []models.Payment) models.ReservationPaymentStatus {
	l := summarize(payments)
	net := l.Net()
	switch {
	case l.Refunded > 0 && net <= 0:
		return models.PaymentStateRefunded
	case l.AnyPaid && net >= totalCents:
		return models.PaymentStatePaid
	case l.AnyInFlight:
		return models.PaymentStatePending
	case l.LastAttemptFailed && !l.AnyPaid:
		return models.PaymentStateFailed
	case net > 0:
		return models.PaymentStatePartiallyPaid
	default:
		return models.PaymentStateUnpaid
	}
}
