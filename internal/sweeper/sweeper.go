package sweeper

import (
	"context"
	"errors"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBatchSize = 100

type ReservationLister interface {
	ListCreatedBefore(ctx context.Context, status models.ReservationStatus, before time.Time, limit int) ([]models.Reservation, error)
	ListCheckInBefore(ctx context.Context, status models.ReservationStatus, date time.Time, limit int) ([]models.Reservation, error)
}

type PaymentLister interface {
	ListStale(ctx context.Context, status models.PaymentStatus, before time.Time, limit int) ([]models.Payment, error)
}

type Booking interface {
	Transition(ctx context.Context, tenantID, reservationID uuid.UUID, target models.ReservationStatus, actor service.Actor) (*models.Reservation, error)
	ExpirePayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.Payment, error)
	ConfirmPayment(ctx context.Context, tenantID uuid.UUID, transactionRef string) (*models.Payment, error)
}

type Config struct {
	PendingTTL      time.Duration
	StalePaymentTTL time.Duration
	VerifyAfter     time.Duration
	BatchSize       int
}

// Sweeper переводит зависшие брони и платежи в конечные статусы через обычный
// жизненный цикл, так что инвентарь и события обновляются как при ручном переходе.
type Sweeper struct {
	reservations ReservationLister
	payments     PaymentLister
	booking      Booking
	cfg          Config
	log          *zap.Logger
	now          func() time.Time
}

type Result struct {
	Processed int
	Skipped   int
}

func New(reservations ReservationLister, payments PaymentLister, booking Booking, cfg Config, log *zap.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Sweeper{
		reservations: reservations,
		payments:     payments,
		booking:      booking,
		cfg:          cfg,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func actor(reason string) service.Actor {
	return service.Actor{ID: "sweeper", Role: service.ActorSystem, Reason: reason}
}

// skippable: запись уже изменилась между выборкой и переходом.
func skippable(err error) bool {
	return errors.Is(err, service.ErrInvalidTransition) || errors.Is(err, service.ErrNotFound)
}

// drain обрабатывает пачки, пока выборка не станет короче лимита или пачка
// не даст ни одного изменения.
func drain[T any](ctx context.Context, batch int, list func(ctx context.Context) ([]T, error), apply func(ctx context.Context, item T) error) (Result, error) {
	var total Result
	for {
		items, err := list(ctx)
		if err != nil {
			return total, err
		}
		progressed := 0
		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if err := apply(ctx, it); err != nil {
				if skippable(err) {
					total.Skipped++
					continue
				}
				return total, err
			}
			progressed++
			total.Processed++
		}
		if len(items) < batch || progressed == 0 {
			return total, nil
		}
	}
}

// ExpirePending отменяет pending брони, созданные раньше PendingTTL.
func (s *Sweeper) ExpirePending(ctx context.Context) (Result, error) {
	cutoff := s.now().Add(-s.cfg.PendingTTL)
	res, err := drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context) ([]models.Reservation, error) {
			return s.reservations.ListCreatedBefore(ctx, models.ReservationPending, cutoff, s.cfg.BatchSize)
		},
		func(ctx context.Context, r models.Reservation) error {
			_, err := s.booking.Transition(ctx, r.TenantID, r.ID, models.ReservationCancelled, actor("timeout"))
			if err == nil {
				s.log.Info("pending reservation expired", zap.String("reference", r.BookingReference))
			}
			return err
		})
	s.report("expire pending", res, err)
	return res, err
}

// MarkNoShows переводит confirmed брони с прошедшей датой заезда в no_show.
func (s *Sweeper) MarkNoShows(ctx context.Context) (Result, error) {
	today := service.DateOnly(s.now())
	res, err := drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context) ([]models.Reservation, error) {
			return s.reservations.ListCheckInBefore(ctx, models.ReservationConfirmed, today, s.cfg.BatchSize)
		},
		func(ctx context.Context, r models.Reservation) error {
			_, err := s.booking.Transition(ctx, r.TenantID, r.ID, models.ReservationNoShow, actor("guest did not arrive"))
			if err == nil {
				s.log.Info("reservation marked no-show", zap.String("reference", r.BookingReference))
			}
			return err
		})
	s.report("mark no-shows", res, err)
	return res, err
}

// FailStalePayments закрывает initiated платежи, по которым провайдер так и не ответил.
func (s *Sweeper) FailStalePayments(ctx context.Context) (Result, error) {
	cutoff := s.now().Add(-s.cfg.StalePaymentTTL)
	res, err := drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context) ([]models.Payment, error) {
			return s.payments.ListStale(ctx, models.PaymentInitiated, cutoff, s.cfg.BatchSize)
		},
		func(ctx context.Context, p models.Payment) error {
			_, err := s.booking.ExpirePayment(ctx, p.TenantID, p.ID)
			return err
		})
	s.report("fail stale payments", res, err)
	return res, err
}

// VerifyPending опрашивает провайдера по pending платежам, для которых так и не
// пришёл вебхук. Проверяется одна пачка за запуск: неподтверждённые платежи
// не меняют updated_at и попали бы в следующую выборку снова.
func (s *Sweeper) VerifyPending(ctx context.Context) (Result, error) {
	var res Result
	items, err := s.payments.ListStale(ctx, models.PaymentPending, s.now().Add(-s.cfg.VerifyAfter), s.cfg.BatchSize)
	if err != nil {
		s.report("verify pending payments", res, err)
		return res, err
	}
	for _, p := range items {
		if err := ctx.Err(); err != nil {
			s.report("verify pending payments", res, err)
			return res, err
		}
		if p.TransactionRef == nil {
			res.Skipped++
			continue
		}
		got, err := s.booking.ConfirmPayment(ctx, p.TenantID, *p.TransactionRef)
		switch {
		case err != nil:
			if !skippable(err) {
				s.log.Warn("payment verification failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
			}
			res.Skipped++
		case got.Status == models.PaymentPending:
			res.Skipped++
		default:
			res.Processed++
			s.log.Info("pending payment settled", zap.String("payment_id", p.ID.String()), zap.String("status", string(got.Status)))
		}
	}
	s.report("verify pending payments", res, nil)
	return res, nil
}

func (s *Sweeper) report(task string, res Result, err error) {
	if err != nil {
		s.log.Error(task+" failed", zap.Int("processed", res.Processed), zap.Error(err))
		return
	}
	if res.Processed > 0 || res.Skipped > 0 {
		s.log.Info(task+" done", zap.Int("processed", res.Processed), zap.Int("skipped", res.Skipped))
	}
}

// RunAll выполняет все задачи; ошибка одной задачи не останавливает остальные.
func (s *Sweeper) RunAll(ctx context.Context) error {
	s.log.Info("starting full sweep")
	var errs []error
	if _, err := s.VerifyPending(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.FailStalePayments(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.ExpirePending(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.MarkNoShows(ctx); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("full sweep completed")
	return errors.Join(errs...)
}
