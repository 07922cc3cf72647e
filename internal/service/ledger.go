package service

import (
	"context"
	"errors"
	"fmt"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrRefundDeclined = errors.New("refund declined by provider")

func (s *bookingService) provider(method models.PaymentMethod) (PaymentProvider, error) {
	if s.providers == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPaymentMethod, method)
	}
	return s.providers.Provider(method)
}

func (s *bookingService) RecordPayment(ctx context.Context, tenantID uuid.UUID, in RecordPaymentInput) (*models.Payment, error) {
	verr := NewValidationError()
	if in.AllowOverpay == nil {
		verr.Add("allow_overpay", "must be set explicitly")
	}
	if in.AmountCents <= 0 {
		verr.Add("amount", "must be positive")
	}
	if !in.Method.Valid() {
		verr.Add("method", "unknown payment method")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	tenant, err := s.activeTenant(ctx, s.repo, tenantID)
	if err != nil {
		return nil, err
	}
	prov, err := s.provider(in.Method)
	if err != nil {
		return nil, validationErr("method", err.Error())
	}

	var (
		pay *models.Payment
		res *models.Reservation
	)
	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		res, err = s.loadReservation(ctx, tx, tenantID, in.ReservationID, true)
		if err != nil {
			return err
		}
		if res.Status == models.ReservationCancelled || res.Status == models.ReservationNoShow {
			return validationErr("reservation_id", "reservation is "+string(res.Status))
		}
		payments, err := tx.Payments.ListByReservation(ctx, tenantID, res.ID)
		if err != nil {
			return err
		}
		if err := guardOverpay(res, payments, in.AmountCents, *in.AllowOverpay); err != nil {
			return err
		}
		pay = &models.Payment{
			TenantID:      tenantID,
			ReservationID: res.ID,
			AmountCents:   in.AmountCents,
			Method:        in.Method,
			Status:        models.PaymentInitiated,
			AllowOverpay:  *in.AllowOverpay,
		}
		if err := tx.Payments.Create(ctx, pay); err != nil {
			return err
		}
		_, err = s.recomputePaymentStatus(ctx, tx, res)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, tenant, res, pay, prov, in.Description)
}

// guardOverpay rejects amounts above the outstanding balance. In-flight payments count as
// committed so that parallel attempts cannot settle past the total.
func guardOverpay(res *models.Reservation, payments []models.Payment, amount int64, allowOverpay bool) error {
	if allowOverpay {
		return nil
	}
	l := summarize(payments)
	outstanding := res.TotalAmountCents - l.Net() - l.InFlight
	if amount > outstanding {
		if outstanding < 0 {
			outstanding = 0
		}
		return &OverpaymentError{Amount: amount, Outstanding: outstanding}
	}
	return nil
}

// dispatch продвигает платёж из initiated: наличные и оплата на месте сразу paid,
// остальные методы идут через провайдера с ограничением по времени.
func (s *bookingService) dispatch(ctx context.Context, tenant *models.Tenant, res *models.Reservation, pay *models.Payment, prov PaymentProvider, description string) (*models.Payment, error) {
	// Результат провайдера фиксируется даже если вызывающий отменил контекст.
	settleCtx := context.WithoutCancel(ctx)

	if pay.Method.Offline() {
		return s.settle(settleCtx, res.TenantID, res.ID, pay, models.PaymentPaid, repository.PaymentUpdate{})
	}

	if description == "" {
		description = "Booking " + res.BookingReference
	}
	pctx, cancel := context.WithTimeout(ctx, s.policy.ProviderTimeout)
	result, perr := prov.InitiatePayment(pctx, InitiateRequest{
		Method:      pay.Method,
		Amount:      pay.AmountCents,
		Currency:    tenant.CurrencyCode,
		Reference:   res.BookingReference,
		Description: description,
		CallbackURL: s.policy.CallbackURL,
	})
	cancel()

	var (
		to  = models.PaymentPending
		upd repository.PaymentUpdate
	)
	switch {
	case perr != nil:
		to, upd = models.PaymentFailed, failure(models.FailureTransport, perr.Error())
	case result == nil || !result.Success:
		reason := "declined"
		if result != nil && result.Message != "" {
			reason = result.Message
		}
		to, upd = models.PaymentFailed, failure(models.FailureDeclined, reason)
	case result.TransactionRef == "":
		to, upd = models.PaymentFailed, failure(models.FailureTransport, "provider returned no transaction reference")
	default:
		ref := result.TransactionRef
		upd.TransactionRef = &ref
	}
	if to == models.PaymentFailed {
		s.log.Warn("payment initiation failed",
			zap.String("reference", res.BookingReference),
			zap.String("method", string(pay.Method)),
			zap.String("kind", string(*upd.FailureKind)),
			zap.String("reason", *upd.FailureReason),
		)
	}
	return s.settle(settleCtx, res.TenantID, res.ID, pay, to, upd)
}

func failure(kind models.FailureKind, reason string) repository.PaymentUpdate {
	return repository.PaymentUpdate{FailureKind: &kind, FailureReason: &reason}
}

// settle переводит платёж в новый статус под блокировкой брони, пересчитывает
// payment_status и при покрытии депозита подтверждает ожидающую бронь.
func (s *bookingService) settle(ctx context.Context, tenantID, reservationID uuid.UUID, pay *models.Payment, to models.PaymentStatus, upd repository.PaymentUpdate) (*models.Payment, error) {
	var (
		ev    *StatusChangedEvent
		state models.ReservationPaymentStatus
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		res, err := s.loadReservation(ctx, tx, tenantID, reservationID, true)
		if err != nil {
			return err
		}
		if err := transitionPayment(ctx, tx, pay, to, upd); err != nil {
			return err
		}
		if state, err = s.recomputePaymentStatus(ctx, tx, res); err != nil {
			return err
		}
		if to == models.PaymentPaid {
			ev, err = s.maybeAutoConfirm(ctx, tx, res)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishPayment(ctx, pay, state)
	if ev != nil {
		s.afterTransition(ctx, *ev)
	}
	return pay, nil
}

func transitionPayment(ctx context.Context, tx *repository.Repository, pay *models.Payment, to models.PaymentStatus, upd repository.PaymentUpdate) error {
	if !CanTransitionPayment(pay.Status, to) {
		return &InvalidTransitionError{Entity: "payment", From: string(pay.Status), To: string(to)}
	}
	ok, err := tx.Payments.TransitionStatus(ctx, pay.ID, pay.Status, to, upd)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidTransitionError{Entity: "payment", From: string(pay.Status), To: string(to), Reason: "status changed concurrently"}
	}
	pay.Status = to
	if upd.TransactionRef != nil {
		pay.TransactionRef = upd.TransactionRef
	}
	if upd.ClearFailure {
		pay.FailureKind, pay.FailureReason = nil, nil
	}
	if upd.FailureKind != nil {
		pay.FailureKind = upd.FailureKind
	}
	if upd.FailureReason != nil {
		pay.FailureReason = upd.FailureReason
	}
	return nil
}

func (s *bookingService) recomputePaymentStatus(ctx context.Context, tx *repository.Repository, res *models.Reservation) (models.ReservationPaymentStatus, error) {
	payments, err := tx.Payments.ListByReservation(ctx, res.TenantID, res.ID)
	if err != nil {
		return "", err
	}
	state := DerivePaymentStatus(res.TotalAmountCents, payments)
	if state != res.PaymentStatus {
		if err := tx.Reservations.SetPaymentStatus(ctx, res.ID, state); err != nil {
			return "", err
		}
		res.PaymentStatus = state
	}
	return state, nil
}

func (s *bookingService) maybeAutoConfirm(ctx context.Context, tx *repository.Repository, res *models.Reservation) (*StatusChangedEvent, error) {
	if res.Status != models.ReservationPending {
		return nil, nil
	}
	payments, err := tx.Payments.ListByReservation(ctx, res.TenantID, res.ID)
	if err != nil {
		return nil, err
	}
	if summarize(payments).Net() < requiredDeposit(res.TotalAmountCents, s.policy.DepositPercent) {
		return nil, nil
	}
	actor := systemActor
	actor.Reason = "deposit received"
	ev, err := s.applyTransition(ctx, tx, res, models.ReservationConfirmed, actor)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *bookingService) publishPayment(ctx context.Context, pay *models.Payment, state models.ReservationPaymentStatus) {
	if err := s.events.PublishPaymentRecorded(ctx, PaymentRecordedEvent{
		PaymentID:     pay.ID,
		ReservationID: pay.ReservationID,
		TenantID:      pay.TenantID,
		AmountCents:   pay.AmountCents,
		Method:        pay.Method,
		Status:        pay.Status,
		PaymentStatus: state,
		RecordedAt:    s.now(),
	}); err != nil {
		s.log.Warn("publish payment recorded failed", zap.String("payment_id", pay.ID.String()), zap.Error(err))
	}
}

func (s *bookingService) loadPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.Payment, error) {
	pay, err := s.repo.Payments.GetByID(ctx, tenantID, paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("payment", paymentID)
	}
	return pay, err
}

func (s *bookingService) ConfirmPayment(ctx context.Context, tenantID uuid.UUID, transactionRef string) (*models.Payment, error) {
	if transactionRef == "" {
		return nil, validationErr("transaction_ref", "required")
	}
	if _, err := s.activeTenant(ctx, s.repo, tenantID); err != nil {
		return nil, err
	}
	pay, err := s.repo.Payments.GetByTransactionRef(ctx, tenantID, transactionRef)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Entity: "payment", ID: transactionRef}
	}
	if err != nil {
		return nil, err
	}
	if pay.Status == models.PaymentPaid {
		return pay, nil
	}
	if !CanTransitionPayment(pay.Status, models.PaymentPaid) {
		return nil, &InvalidTransitionError{Entity: "payment", From: string(pay.Status), To: string(models.PaymentPaid)}
	}

	prov, err := s.provider(pay.Method)
	if err != nil {
		return nil, err
	}
	vctx, cancel := context.WithTimeout(ctx, s.policy.ProviderTimeout)
	vr, err := prov.VerifyPayment(vctx, transactionRef)
	cancel()
	if err != nil {
		// Платёж остаётся pending: повторная проверка придёт с вебхуком или опросом.
		return nil, fmt.Errorf("verify payment %s: %w", transactionRef, err)
	}

	switch {
	case vr.Success && vr.Status == ProviderStatusPaid:
		if vr.Amount > 0 && vr.Amount != pay.AmountCents {
			return s.settle(ctx, tenantID, pay.ReservationID, pay, models.PaymentFailed,
				failure(models.FailureDeclined, fmt.Sprintf("amount mismatch: provider %d, ledger %d", vr.Amount, pay.AmountCents)))
		}
		paid, err := s.settle(ctx, tenantID, pay.ReservationID, pay, models.PaymentPaid, repository.PaymentUpdate{})
		if errors.Is(err, ErrInvalidTransition) {
			// Параллельный вебхук или опрос мог провести платёж раньше.
			if cur, lerr := s.loadPayment(ctx, tenantID, pay.ID); lerr == nil && cur.Status == models.PaymentPaid {
				return cur, nil
			}
		}
		return paid, err
	case vr.Status == ProviderStatusFailed || !vr.Success:
		return s.settle(ctx, tenantID, pay.ReservationID, pay, models.PaymentFailed, failure(models.FailureDeclined, "provider reported "+vr.Status))
	default:
		return pay, nil
	}
}

// RetryPayment re-initiates a failed payment attempt (failed -> initiated).
func (s *bookingService) RetryPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.Payment, error) {
	tenant, err := s.activeTenant(ctx, s.repo, tenantID)
	if err != nil {
		return nil, err
	}
	pay, err := s.loadPayment(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	prov, err := s.provider(pay.Method)
	if err != nil {
		return nil, err
	}

	var res *models.Reservation
	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		res, err = s.loadReservation(ctx, tx, tenantID, pay.ReservationID, true)
		if err != nil {
			return err
		}
		if res.Status == models.ReservationCancelled || res.Status == models.ReservationNoShow {
			return validationErr("reservation_id", "reservation is "+string(res.Status))
		}
		payments, err := tx.Payments.ListByReservation(ctx, tenantID, res.ID)
		if err != nil {
			return err
		}
		if err := guardOverpay(res, payments, pay.AmountCents, pay.AllowOverpay); err != nil {
			return err
		}
		if err := transitionPayment(ctx, tx, pay, models.PaymentInitiated, repository.PaymentUpdate{ClearFailure: true}); err != nil {
			return err
		}
		_, err = s.recomputePaymentStatus(ctx, tx, res)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, tenant, res, pay, prov, "")
}

// Refund держит блокировку брони и исходного платежа на время вызова провайдера:
// параллельный возврат того же платежа ждёт и видит уже записанную сумму.
func (s *bookingService) Refund(ctx context.Context, tenantID, paymentID uuid.UUID, amountCents *int64) (*models.Payment, error) {
	if _, err := s.activeTenant(ctx, s.repo, tenantID); err != nil {
		return nil, err
	}
	orig, err := s.loadPayment(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	if orig.RefundOfID != nil {
		return nil, validationErr("payment_id", "refund entries cannot be refunded")
	}
	amount := orig.AmountCents
	if amountCents != nil {
		amount = *amountCents
	}
	if amount <= 0 {
		return nil, validationErr("amount", "must be positive")
	}
	var prov PaymentProvider
	if !orig.Method.Offline() {
		if prov, err = s.provider(orig.Method); err != nil {
			return nil, err
		}
	}

	refund := &models.Payment{
		TenantID:      tenantID,
		ReservationID: orig.ReservationID,
		AmountCents:   amount,
		Method:        orig.Method,
		Status:        models.PaymentRefunded,
		RefundOfID:    &orig.ID,
	}
	// Отмена вызывающего обрывает только вызов провайдера; после его успеха транзакция доводится до конца.
	txCtx := context.WithoutCancel(ctx)
	var state models.ReservationPaymentStatus
	err = s.repo.WithTx(txCtx, func(tx *repository.Repository) error {
		res, err := s.loadReservation(txCtx, tx, tenantID, orig.ReservationID, true)
		if err != nil {
			return err
		}
		locked, err := tx.Payments.GetByIDForUpdate(txCtx, tenantID, orig.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.PaymentPaid {
			return &InvalidTransitionError{
				Entity: "payment", From: string(locked.Status), To: string(models.PaymentRefunded),
				Reason: "only paid payments can be refunded",
			}
		}
		already, err := tx.Payments.SumRefunded(txCtx, locked.ID)
		if err != nil {
			return err
		}
		if amount > locked.AmountCents-already {
			return validationErr("amount", fmt.Sprintf("exceeds refundable amount %d", locked.AmountCents-already))
		}

		if prov != nil {
			rctx, cancel := context.WithTimeout(ctx, s.policy.ProviderTimeout)
			rr, err := prov.RefundPayment(rctx, derefStr(locked.TransactionRef), &amount)
			cancel()
			if err != nil {
				return fmt.Errorf("refund payment: %w", err)
			}
			if !rr.Success {
				return fmt.Errorf("%w: %s", ErrRefundDeclined, rr.Status)
			}
		}

		if err := tx.Payments.Create(txCtx, refund); err != nil {
			return err
		}
		state, err = s.recomputePaymentStatus(txCtx, tx, res)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishPayment(txCtx, refund, state)
	s.log.Info("payment refunded", zap.String("payment_id", orig.ID.String()), zap.Int64("amount", amount))
	return refund, nil
}

// ExpirePayment fails a payment that never left initiated.
func (s *bookingService) ExpirePayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.Payment, error) {
	pay, err := s.loadPayment(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	if pay.Status != models.PaymentInitiated {
		return pay, nil
	}
	return s.settle(ctx, tenantID, pay.ReservationID, pay, models.PaymentFailed, failure(models.FailureExpired, "provider did not respond"))
}

func (s *bookingService) ListPayments(ctx context.Context, tenantID, reservationID uuid.UUID) ([]models.Payment, error) {
	if _, err := s.activeTenant(ctx, s.repo, tenantID); err != nil {
		return nil, err
	}
	if _, err := s.loadReservation(ctx, s.repo, tenantID, reservationID, false); err != nil {
		return nil, err
	}
	return s.repo.Payments.ListByReservation(ctx, tenantID, reservationID)
}
