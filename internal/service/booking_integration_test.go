package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lodge-service/internal/migrate"
	"lodge-service/internal/models"
	"lodge-service/internal/repository"
	"lodge-service/pkg/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu       sync.Mutex
	initiate func(req InitiateRequest) (*InitiateResult, error)
	verify   func(ref string) (*VerifyResult, error)
	refund   func(ref string, amount *int64) (*RefundResult, error)
	calls    int
}

func (p *fakeProvider) InitiatePayment(_ context.Context, req InitiateRequest) (*InitiateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.initiate != nil {
		return p.initiate(req)
	}
	return &InitiateResult{Success: true, TransactionRef: "tx-" + uuid.NewString(), Status: ProviderStatusPending}, nil
}

func (p *fakeProvider) VerifyPayment(_ context.Context, ref string) (*VerifyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verify != nil {
		return p.verify(ref)
	}
	return &VerifyResult{Success: true, Status: ProviderStatusPaid}, nil
}

func (p *fakeProvider) RefundPayment(_ context.Context, ref string, amount *int64) (*RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refund != nil {
		return p.refund(ref, amount)
	}
	return &RefundResult{Success: true, RefundedAmount: *amount, Status: "refunded"}, nil
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

type fakeRegistry struct{ p *fakeProvider }

func (r fakeRegistry) Provider(method models.PaymentMethod) (PaymentProvider, error) {
	if !method.Valid() {
		return nil, ErrUnknownPaymentMethod
	}
	return r.p, nil
}

func march(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

type fixture struct {
	repo     *repository.Repository
	catalog  CatalogService
	svc      *bookingService
	provider *fakeProvider
}

func newFixture(db *gorm.DB) *fixture {
	repo := repository.New(db)
	prov := &fakeProvider{}
	svc := newBookingService(Deps{
		Repo:      repo,
		Providers: fakeRegistry{p: prov},
		Policy: Policy{
			DepositPercent:  30,
			ProviderTimeout: 2 * time.Second,
		},
		Log: zap.NewNop(),
	})
	svc.now = func() time.Time { return march(1).Add(10 * time.Hour) }
	catalog := NewCatalogService(repo, nil, zap.NewNop()).(*catalogService)
	catalog.now = svc.now
	return &fixture{repo: repo, catalog: catalog, svc: svc, provider: prov}
}

func (f *fixture) tenant(t *testing.T) uuid.UUID {
	t.Helper()
	tn, err := f.catalog.CreateTenant(context.Background(), "lodge-"+uuid.NewString()[:8], "Test Lodge", "usd")
	require.NoError(t, err)
	return tn.ID
}

func (f *fixture) roomType(t *testing.T, tenantID uuid.UUID, name string, occ int32, price int64, units int32, numbers ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	rt, err := f.catalog.CreateRoomType(ctx, tenantID, CreateRoomTypeInput{Name: name, MaxOccupancy: occ, BasePriceCents: price, TotalUnits: units})
	require.NoError(t, err)
	for _, n := range numbers {
		_, err := f.catalog.CreateRoom(ctx, tenantID, rt.ID, n)
		require.NoError(t, err)
	}
	return rt.ID
}

func bookingInput(rt uuid.UUID, in, out time.Time, qty int, method models.PaymentMethod) CreateBookingInput {
	return CreateBookingInput{
		CheckIn:       in,
		CheckOut:      out,
		Rooms:         []RoomRequest{{RoomTypeID: rt, Quantity: qty}},
		Guest:         Guest{Name: "Ada Lovelace", Email: "ada@example.com"},
		PaymentMethod: method,
	}
}

func (f *fixture) book(t *testing.T, tenantID, rt uuid.UUID, in, out time.Time, qty int) *BookingConfirmation {
	t.Helper()
	c, err := f.svc.CreateBooking(context.Background(), tenantID, bookingInput(rt, in, out, qty, models.MethodCard))
	require.NoError(t, err)
	return c
}

var staff = Actor{ID: "manager-1", Role: ActorStaff, Override: true, Reason: "walk-in"}

func (f *fixture) confirm(t *testing.T, tenantID, reservationID uuid.UUID) {
	t.Helper()
	res, err := f.svc.Transition(context.Background(), tenantID, reservationID, models.ReservationConfirmed, staff)
	require.NoError(t, err)
	require.Equal(t, models.ReservationConfirmed, res.Status)
}

func allowOverpay(v bool) *bool { return &v }

func (f *fixture) reservation(t *testing.T, tenantID, id uuid.UUID) *models.Reservation {
	t.Helper()
	res, err := f.repo.Reservations.GetByID(context.Background(), tenantID, id)
	require.NoError(t, err)
	return res
}

func (f *fixture) roomsByNumber(t *testing.T, tenantID uuid.UUID) map[string]models.Room {
	t.Helper()
	rooms, err := f.catalog.ListRooms(context.Background(), tenantID, nil)
	require.NoError(t, err)
	out := make(map[string]models.Room, len(rooms))
	for _, r := range rooms {
		out[r.Number] = r
	}
	return out
}

func TestBookingEngineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	db := testutil.SetupTestPostgres(t)
	require.NoError(t, migrate.MigrateLodgeDB(context.Background(), db, zap.NewNop(), migrate.DefaultMigrateOptions()))

	ctx := context.Background()

	t.Run("two deluxe rooms for three nights total 600", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		deluxe := f.roomType(t, tenant, "Deluxe", 2, 10000, 5)

		c := f.book(t, tenant, deluxe, march(10), march(13), 2)
		assert.Equal(t, int64(60000), c.TotalAmountCents)
		assert.Equal(t, 3, c.Nights)
		assert.Equal(t, models.ReservationPending, c.Status)
		assert.Equal(t, models.PaymentStateUnpaid, c.PaymentStatus)
		assert.True(t, ValidReference(c.Reference))
		require.Len(t, c.Rooms, 2)
		for _, r := range c.Rooms {
			assert.Equal(t, int64(10000), r.PricePerNightCents)
			assert.Equal(t, int64(30000), r.LineTotalCents)
			assert.Nil(t, r.RoomID)
		}

		// цена зафиксирована в брони
		require.NoError(t, f.catalog.UpdateRoomTypePrice(ctx, tenant, deluxe, 15000))
		got, err := f.svc.GetBooking(ctx, tenant, c.Reference)
		require.NoError(t, err)
		assert.Equal(t, int64(60000), got.TotalAmountCents)
	})

	t.Run("overlap fails and same-day turnover succeeds", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Cabin", 2, 8000, 1)

		a := f.book(t, tenant, rt, march(10), march(12), 1)
		f.confirm(t, tenant, a.ReservationID)

		_, err := f.svc.CreateBooking(ctx, tenant, bookingInput(rt, march(11), march(13), 1, models.MethodCard))
		require.ErrorIs(t, err, ErrInsufficientAvailability)
		var short *InsufficientAvailabilityError
		require.ErrorAs(t, err, &short)
		require.Len(t, short.Shortages, 1)
		assert.Equal(t, rt, short.Shortages[0].RoomTypeID)
		assert.Equal(t, 1, short.Shortages[0].Requested)
		assert.Equal(t, 0, short.Shortages[0].Available)

		desk := Actor{ID: "front-desk-2", Role: ActorStaff}
		b, err := f.svc.CreateBooking(WithActor(ctx, desk), tenant, bookingInput(rt, march(12), march(14), 1, models.MethodCard))
		require.NoError(t, err)
		events, err := f.repo.StatusEvents.ListByReservation(ctx, b.ReservationID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "front-desk-2", events[0].ActorID)
		assert.Equal(t, string(ActorStaff), events[0].ActorRole)
	})

	t.Run("parallel bookings for the last unit", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Last Room", 2, 9000, 1)

		const n = 10
		var (
			wg   sync.WaitGroup
			errs = make([]error, n)
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.CreateBooking(ctx, tenant, bookingInput(rt, march(20), march(22), 1, models.MethodCard))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ErrInsufficientAvailability)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("search availability", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		standard := f.roomType(t, tenant, "Standard", 2, 10000, 3)
		family := f.roomType(t, tenant, "Family", 4, 18000, 1)

		f.book(t, tenant, standard, march(10), march(12), 2)

		res, err := f.svc.SearchAvailability(ctx, tenant, march(11), march(12), 1)
		require.NoError(t, err)
		counts := map[uuid.UUID]int{}
		for _, r := range res {
			counts[r.RoomTypeID] = r.AvailableCount
		}
		assert.Equal(t, map[uuid.UUID]int{standard: 1, family: 1}, counts)

		res, err = f.svc.SearchAvailability(ctx, tenant, march(11), march(12), 3)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, family, res[0].RoomTypeID)
		assert.Equal(t, int64(18000), res[0].EffectivePriceCents)

		f.book(t, tenant, family, march(10), march(11), 1)
		res, err = f.svc.SearchAvailability(ctx, tenant, march(10), march(11), 3)
		require.NoError(t, err)
		assert.Empty(t, res)

		res, err = f.svc.SearchAvailability(ctx, tenant, march(11), march(12), 3)
		require.NoError(t, err)
		assert.Len(t, res, 1)

		_, err = f.svc.SearchAvailability(ctx, tenant, march(12), march(12), 1)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("deposit gates confirmation", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Garden", 2, 10000, 2)
		c := f.book(t, tenant, rt, march(10), march(12), 1) // 20000, депозит 6000

		guest := Actor{ID: "guest-1", Role: ActorGuest}
		_, err := f.svc.Transition(ctx, tenant, c.ReservationID, models.ReservationConfirmed, guest)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, models.ReservationPending, f.reservation(t, tenant, c.ReservationID).Status)

		p, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 5000, Method: models.MethodCash, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPaid, p.Status)
		assert.Equal(t, models.ReservationPending, f.reservation(t, tenant, c.ReservationID).Status)

		_, err = f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 1000, Method: models.MethodCash, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)
		res := f.reservation(t, tenant, c.ReservationID)
		assert.Equal(t, models.ReservationConfirmed, res.Status)
		assert.Equal(t, models.PaymentStatePartiallyPaid, res.PaymentStatus)

		events, err := f.repo.StatusEvents.ListByReservation(ctx, c.ReservationID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, models.ReservationConfirmed, events[1].ToStatus)
		assert.Equal(t, string(ActorSystem), events[1].ActorRole)
	})

	t.Run("gateway payment confirmed by callback", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Loft", 2, 10000, 2)
		c := f.book(t, tenant, rt, march(10), march(12), 1)

		f.provider.set(func(p *fakeProvider) {
			p.initiate = func(req InitiateRequest) (*InitiateResult, error) {
				assert.Equal(t, c.Reference, req.Reference)
				assert.Equal(t, "USD", req.Currency)
				return &InitiateResult{Success: true, TransactionRef: "tx-loft-" + c.Reference, Status: ProviderStatusPending}, nil
			}
			p.verify = func(ref string) (*VerifyResult, error) {
				return &VerifyResult{Success: true, Amount: 20000, Status: ProviderStatusPaid}, nil
			}
		})

		p, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 20000, Method: models.MethodCard, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, p.Status)
		require.NotNil(t, p.TransactionRef)
		assert.Equal(t, models.PaymentStatePending, f.reservation(t, tenant, c.ReservationID).PaymentStatus)

		paid, err := f.svc.ConfirmPayment(ctx, tenant, *p.TransactionRef)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPaid, paid.Status)

		res := f.reservation(t, tenant, c.ReservationID)
		assert.Equal(t, models.ReservationConfirmed, res.Status)
		assert.Equal(t, models.PaymentStatePaid, res.PaymentStatus)

		again, err := f.svc.ConfirmPayment(ctx, tenant, *p.TransactionRef)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPaid, again.Status)

		_, err = f.svc.ConfirmPayment(ctx, tenant, "tx-unknown")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("verify amount mismatch fails the payment", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Studio", 2, 10000, 2)
		c := f.book(t, tenant, rt, march(10), march(11), 1)

		f.provider.set(func(p *fakeProvider) {
			p.verify = func(string) (*VerifyResult, error) {
				return &VerifyResult{Success: true, Amount: 1, Status: ProviderStatusPaid}, nil
			}
		})
		p, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 10000, Method: models.MethodOnline, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)

		failed, err := f.svc.ConfirmPayment(ctx, tenant, *p.TransactionRef)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, failed.Status)
		require.NotNil(t, failed.FailureKind)
		assert.Equal(t, models.FailureDeclined, *failed.FailureKind)
	})

	t.Run("transport failure and decline are tagged apart", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Suite", 2, 10000, 2)
		c := f.book(t, tenant, rt, march(10), march(12), 1)

		f.provider.set(func(p *fakeProvider) {
			p.initiate = func(InitiateRequest) (*InitiateResult, error) { return nil, errors.New("connection reset") }
		})
		first, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 6000, Method: models.MethodCard, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, first.Status)
		require.NotNil(t, first.FailureKind)
		assert.Equal(t, models.FailureTransport, *first.FailureKind)

		f.provider.set(func(p *fakeProvider) {
			p.initiate = func(InitiateRequest) (*InitiateResult, error) {
				return &InitiateResult{Success: false, Status: ProviderStatusFailed, Message: "card declined"}, nil
			}
		})
		second, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 6000, Method: models.MethodCard, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, second.Status)
		assert.Equal(t, models.FailureDeclined, *second.FailureKind)
		assert.Equal(t, "card declined", *second.FailureReason)

		res := f.reservation(t, tenant, c.ReservationID)
		assert.Equal(t, models.PaymentStateFailed, res.PaymentStatus)
		assert.Equal(t, models.ReservationPending, res.Status)

		f.provider.set(func(p *fakeProvider) { p.initiate = nil })
		retried, err := f.svc.RetryPayment(ctx, tenant, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, retried.Status)
		assert.Nil(t, retried.FailureKind)
		assert.Equal(t, models.PaymentStatePending, f.reservation(t, tenant, c.ReservationID).PaymentStatus)
	})

	t.Run("overpayment guard", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Bunk", 1, 5000, 4)
		c := f.book(t, tenant, rt, march(10), march(12), 1) // 10000

		_, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 100, Method: models.MethodCash})
		require.ErrorIs(t, err, ErrValidation)

		_, err = f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 10000, Method: models.MethodCash, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)

		_, err = f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 1, Method: models.MethodCash, AllowOverpay: allowOverpay(false)})
		var over *OverpaymentError
		require.ErrorAs(t, err, &over)
		assert.Equal(t, int64(0), over.Outstanding)

		tip, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 500, Method: models.MethodCash, AllowOverpay: allowOverpay(true)})
		require.NoError(t, err)
		assert.True(t, tip.AllowOverpay)
		assert.Equal(t, models.PaymentStatePaid, f.reservation(t, tenant, c.ReservationID).PaymentStatus)
	})

	t.Run("refunds never exceed the original payment", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Chalet", 4, 10000, 2)
		c := f.book(t, tenant, rt, march(10), march(12), 1)

		p, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 20000, Method: models.MethodCash, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)

		part := int64(5000)
		r1, err := f.svc.Refund(ctx, tenant, p.ID, &part)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentRefunded, r1.Status)
		assert.Equal(t, p.ID, *r1.RefundOfID)
		assert.Equal(t, models.PaymentStatePartiallyPaid, f.reservation(t, tenant, c.ReservationID).PaymentStatus)

		_, err = f.svc.Refund(ctx, tenant, p.ID, nil)
		require.ErrorIs(t, err, ErrValidation)

		_, err = f.svc.Refund(ctx, tenant, r1.ID, nil)
		require.ErrorIs(t, err, ErrValidation)

		rest := int64(15000)
		_, err = f.svc.Refund(ctx, tenant, p.ID, &rest)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStateRefunded, f.reservation(t, tenant, c.ReservationID).PaymentStatus)

		payments, err := f.svc.ListPayments(ctx, tenant, c.ReservationID)
		require.NoError(t, err)
		assert.Len(t, payments, 3)
	})

	t.Run("declined gateway refund records nothing", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Tent", 2, 3000, 2)
		c := f.book(t, tenant, rt, march(10), march(11), 1)

		p, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 3000, Method: models.MethodCard, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)
		_, err = f.svc.Refund(ctx, tenant, p.ID, nil)
		require.ErrorIs(t, err, ErrInvalidTransition, "pending payments cannot be refunded")

		p, err = f.svc.ConfirmPayment(ctx, tenant, *p.TransactionRef)
		require.NoError(t, err)

		f.provider.set(func(p *fakeProvider) {
			p.refund = func(string, *int64) (*RefundResult, error) { return &RefundResult{Success: false, Status: "rejected"}, nil }
		})
		_, err = f.svc.Refund(ctx, tenant, p.ID, nil)
		require.ErrorIs(t, err, ErrRefundDeclined)

		payments, err := f.svc.ListPayments(ctx, tenant, c.ReservationID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})

	t.Run("parallel full refunds reach the gateway once", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Igloo", 2, 4000, 2)
		c := f.book(t, tenant, rt, march(10), march(11), 1)

		p, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 4000, Method: models.MethodCard, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)
		p, err = f.svc.ConfirmPayment(ctx, tenant, *p.TransactionRef)
		require.NoError(t, err)

		refunds := 0
		f.provider.set(func(p *fakeProvider) {
			p.refund = func(_ string, amount *int64) (*RefundResult, error) {
				refunds++
				return &RefundResult{Success: true, RefundedAmount: *amount, Status: "refunded"}, nil
			}
		})

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.Refund(ctx, tenant, p.ID, nil)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ErrValidation)
		}
		assert.Equal(t, 1, ok)
		f.provider.set(func(*fakeProvider) { assert.Equal(t, 1, refunds) })

		payments, err := f.svc.ListPayments(ctx, tenant, c.ReservationID)
		require.NoError(t, err)
		assert.Len(t, payments, 2)
		assert.Equal(t, models.PaymentStateRefunded, f.reservation(t, tenant, c.ReservationID).PaymentStatus)
	})

	t.Run("confirm settled by a concurrent callback returns the paid payment", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Cottage", 2, 5000, 2)
		c := f.book(t, tenant, rt, march(10), march(11), 1)

		p, err := f.svc.RecordPayment(ctx, tenant, RecordPaymentInput{ReservationID: c.ReservationID, AmountCents: 5000, Method: models.MethodCard, AllowOverpay: allowOverpay(false)})
		require.NoError(t, err)

		f.provider.set(func(fp *fakeProvider) {
			fp.verify = func(string) (*VerifyResult, error) {
				// другой обработчик успевает провести платёж, пока идёт проверка
				ok, err := f.repo.Payments.TransitionStatus(ctx, p.ID, models.PaymentPending, models.PaymentPaid, repository.PaymentUpdate{})
				require.NoError(t, err)
				require.True(t, ok)
				return &VerifyResult{Success: true, Amount: 5000, Status: ProviderStatusPaid}, nil
			}
		})

		got, err := f.svc.ConfirmPayment(ctx, tenant, *p.TransactionRef)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, models.PaymentPaid, got.Status)
	})

	t.Run("check-in allocates lowest room numbers and checkout dirties them", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "River", 2, 10000, 3, "10", "9", "2")
		c := f.book(t, tenant, rt, march(1), march(3), 2)
		f.confirm(t, tenant, c.ReservationID)

		_, err := f.svc.Transition(ctx, tenant, c.ReservationID, models.ReservationCheckedIn, staff)
		require.NoError(t, err)

		rooms := f.roomsByNumber(t, tenant)
		assert.Equal(t, models.RoomOccupied, rooms["2"].Status)
		assert.Equal(t, models.RoomOccupied, rooms["9"].Status)
		assert.Equal(t, models.RoomAvailable, rooms["10"].Status)

		got, err := f.svc.GetBooking(ctx, tenant, c.Reference)
		require.NoError(t, err)
		for _, r := range got.Rooms {
			require.NotNil(t, r.RoomID)
		}

		_, err = f.svc.Transition(ctx, tenant, c.ReservationID, models.ReservationCancelled, staff)
		require.ErrorIs(t, err, ErrInvalidTransition)

		_, err = f.svc.Transition(ctx, tenant, c.ReservationID, models.ReservationCheckedOut, staff)
		require.NoError(t, err)
		rooms = f.roomsByNumber(t, tenant)
		assert.Equal(t, models.RoomDirty, rooms["2"].Status)
		assert.Equal(t, models.RoomDirty, rooms["9"].Status)

		_, err = f.catalog.SetRoomStatus(ctx, tenant, rooms["2"].ID, models.RoomOccupied)
		require.ErrorIs(t, err, ErrInvalidTransition)
		cleaned, err := f.catalog.SetRoomStatus(ctx, tenant, rooms["2"].ID, models.RoomAvailable)
		require.NoError(t, err)
		assert.Equal(t, models.RoomAvailable, cleaned.Status)
	})

	t.Run("no room available leaves reservation confirmed", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Annex", 2, 10000, 2, "1")
		c := f.book(t, tenant, rt, march(1), march(2), 2)
		f.confirm(t, tenant, c.ReservationID)

		_, err := f.svc.Transition(ctx, tenant, c.ReservationID, models.ReservationCheckedIn, staff)
		var noRoom *NoRoomAvailableError
		require.ErrorAs(t, err, &noRoom)
		assert.Equal(t, rt, noRoom.RoomTypeID)

		assert.Equal(t, models.ReservationConfirmed, f.reservation(t, tenant, c.ReservationID).Status)
		assert.Equal(t, models.RoomAvailable, f.roomsByNumber(t, tenant)["1"].Status)
	})

	t.Run("pre-assigned rooms are released on cancel", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Lake", 2, 10000, 1, "7")
		c := f.book(t, tenant, rt, march(10), march(12), 1)

		_, err := f.svc.AllocateRooms(ctx, tenant, c.ReservationID)
		require.ErrorIs(t, err, ErrInvalidTransition)

		f.confirm(t, tenant, c.ReservationID)
		alloc, err := f.svc.AllocateRooms(ctx, tenant, c.ReservationID)
		require.NoError(t, err)
		require.Len(t, alloc, 1)
		assert.Equal(t, "7", alloc[0].RoomNumber)
		assert.Equal(t, models.RoomReserved, f.roomsByNumber(t, tenant)["7"].Status)

		_, err = f.svc.Transition(ctx, tenant, c.ReservationID, models.ReservationCancelled, staff)
		require.NoError(t, err)
		assert.Equal(t, models.RoomAvailable, f.roomsByNumber(t, tenant)["7"].Status)

		// отменённая бронь больше не держит инвентарь
		f.book(t, tenant, rt, march(10), march(12), 1)
	})

	t.Run("cancel and no-show follow the check-in date", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Hut", 2, 4000, 3)

		today := f.book(t, tenant, rt, march(1), march(3), 1)
		f.confirm(t, tenant, today.ReservationID)
		_, err := f.svc.Transition(ctx, tenant, today.ReservationID, models.ReservationCancelled, staff)
		require.ErrorIs(t, err, ErrInvalidTransition)
		_, err = f.svc.Transition(ctx, tenant, today.ReservationID, models.ReservationNoShow, staff)
		require.ErrorIs(t, err, ErrInvalidTransition)

		in := bookingInput(rt, march(1).AddDate(0, 0, -2), march(2), 1, models.MethodCard)
		_, err = f.svc.CreateBooking(ctx, tenant, in)
		require.ErrorIs(t, err, ErrValidation)

		in.BackdateAllowed = true
		past, err := f.svc.CreateBooking(ctx, tenant, in)
		require.NoError(t, err)
		f.confirm(t, tenant, past.ReservationID)
		res, err := f.svc.Transition(ctx, tenant, past.ReservationID, models.ReservationNoShow, Actor{ID: "night-audit", Role: ActorSystem})
		require.NoError(t, err)
		assert.Equal(t, models.ReservationNoShow, res.Status)
	})

	t.Run("inquiry holds no inventory until promoted", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Treehouse", 2, 12000, 1)

		in := bookingInput(rt, march(10), march(12), 1, models.MethodCard)
		in.Inquiry = true
		inquiry, err := f.svc.CreateBooking(ctx, tenant, in)
		require.NoError(t, err)
		assert.Equal(t, models.ReservationInquiry, inquiry.Status)

		f.book(t, tenant, rt, march(10), march(12), 1)

		_, err = f.svc.Transition(ctx, tenant, inquiry.ReservationID, models.ReservationPending, staff)
		require.ErrorIs(t, err, ErrInsufficientAvailability)
		assert.Equal(t, models.ReservationInquiry, f.reservation(t, tenant, inquiry.ReservationID).Status)

		_, err = f.svc.Transition(ctx, tenant, inquiry.ReservationID, models.ReservationCancelled, staff)
		require.NoError(t, err)
	})

	t.Run("idempotency key returns the first booking", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Dorm", 1, 2000, 10)

		in := bookingInput(rt, march(10), march(11), 1, models.MethodCard)
		in.IdempotencyKey = "req-" + uuid.NewString()
		first, err := f.svc.CreateBooking(ctx, tenant, in)
		require.NoError(t, err)
		second, err := f.svc.CreateBooking(ctx, tenant, in)
		require.NoError(t, err)
		assert.Equal(t, first.ReservationID, second.ReservationID)
		assert.Equal(t, first.Reference, second.Reference)

		var count int64
		require.NoError(t, db.Model(&models.Reservation{}).Where("tenant_id = ?", tenant).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("offline initial payment confirms immediately", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Barn", 2, 10000, 2)

		in := bookingInput(rt, march(10), march(12), 1, models.MethodCash)
		in.InitialPaymentCents = 6000
		c, err := f.svc.CreateBooking(ctx, tenant, in)
		require.NoError(t, err)
		require.NotNil(t, c.InitialPayment)
		assert.Equal(t, models.PaymentPaid, c.InitialPayment.Status)
		assert.Equal(t, models.PaymentStatePartiallyPaid, c.PaymentStatus)
		assert.Equal(t, models.ReservationConfirmed, f.reservation(t, tenant, c.ReservationID).Status)

		lodge := bookingInput(rt, march(10), march(12), 1, models.MethodPayAtLodge)
		lodge.InitialPaymentCents = 6000
		_, err = f.svc.CreateBooking(ctx, tenant, lodge)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields(), "initial_payment")
	})

	t.Run("initial payment above the total persists nothing", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Byre", 2, 10000, 2)

		in := bookingInput(rt, march(10), march(12), 1, models.MethodCash)
		in.InitialPaymentCents = 25000
		_, err := f.svc.CreateBooking(ctx, tenant, in)
		var over *OverpaymentError
		require.ErrorAs(t, err, &over)
		assert.Equal(t, int64(20000), over.Outstanding)

		var count int64
		require.NoError(t, db.Model(&models.Reservation{}).Where("tenant_id = ?", tenant).Count(&count).Error)
		assert.Zero(t, count)

		in.AllowOverpay = true
		c, err := f.svc.CreateBooking(ctx, tenant, in)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatePaid, c.PaymentStatus)
	})

	t.Run("failed initial gateway call still returns the booking", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Stable", 2, 10000, 2)

		f.provider.set(func(p *fakeProvider) {
			p.initiate = func(InitiateRequest) (*InitiateResult, error) { return nil, errors.New("gateway unreachable") }
		})
		in := bookingInput(rt, march(10), march(12), 1, models.MethodCard)
		in.InitialPaymentCents = 6000
		c, err := f.svc.CreateBooking(ctx, tenant, in)
		require.NoError(t, err)
		require.NotNil(t, c.InitialPayment)
		assert.Equal(t, models.PaymentFailed, c.InitialPayment.Status)
		assert.Equal(t, models.FailureTransport, *c.InitialPayment.FailureKind)
		assert.Equal(t, models.PaymentStateFailed, c.PaymentStatus)
	})

	t.Run("total units cannot drop below upcoming holdings", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Yurt", 2, 6000, 3)
		f.book(t, tenant, rt, march(10), march(12), 2)
		f.book(t, tenant, rt, march(11), march(13), 1)

		err := f.catalog.SetRoomTypeUnits(ctx, tenant, rt, 2)
		require.ErrorIs(t, err, ErrValidation)
		require.NoError(t, f.catalog.SetRoomTypeUnits(ctx, tenant, rt, 3))

		var stored models.RoomType
		require.NoError(t, db.Where("id = ?", rt).First(&stored).Error)
		assert.Equal(t, int32(3), stored.TotalUnits)

		require.ErrorIs(t, f.catalog.SetRoomTypeUnits(ctx, tenant, uuid.New(), 1), ErrNotFound)
	})

	t.Run("guest count above capacity persists nothing", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Twin", 2, 7000, 3)

		in := bookingInput(rt, march(10), march(12), 1, models.MethodCard)
		in.GuestCount = 3
		_, err := f.svc.CreateBooking(ctx, tenant, in)
		require.ErrorIs(t, err, ErrValidation)

		var count int64
		require.NoError(t, db.Model(&models.Reservation{}).Where("tenant_id = ?", tenant).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("stale initiated payment expires", func(t *testing.T) {
		f := newFixture(db)
		tenant := f.tenant(t)
		rt := f.roomType(t, tenant, "Pod", 1, 3000, 2)
		c := f.book(t, tenant, rt, march(10), march(11), 1)

		stuck := &models.Payment{TenantID: tenant, ReservationID: c.ReservationID, AmountCents: 3000, Method: models.MethodMobileMoney, Status: models.PaymentInitiated}
		require.NoError(t, f.repo.Payments.Create(ctx, stuck))

		p, err := f.svc.ExpirePayment(ctx, tenant, stuck.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, p.Status)
		assert.Equal(t, models.FailureExpired, *p.FailureKind)
		assert.Equal(t, models.PaymentStateFailed, f.reservation(t, tenant, c.ReservationID).PaymentStatus)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		f := newFixture(db)
		a, b := f.tenant(t), f.tenant(t)
		rt := f.roomType(t, a, "Private", 2, 10000, 1)
		c := f.book(t, a, rt, march(10), march(11), 1)

		_, err := f.svc.GetBooking(ctx, b, c.Reference)
		require.ErrorIs(t, err, ErrNotFound)

		_, err = f.svc.CreateBooking(ctx, b, bookingInput(rt, march(10), march(11), 1, models.MethodCard))
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, f.catalog.SetTenantActive(ctx, a, false))
		_, err = f.svc.GetBooking(ctx, a, c.Reference)
		require.ErrorIs(t, err, ErrNotFound)
	})
}
