package service

import (
	"errors"
	"testing"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
)

func day(d int) time.Time { return time.Date(2026, 7, d, 0, 0, 0, 0, time.UTC) }

func TestPeakOccupancyHalfOpen(t *testing.T) {
	rt := uuid.New()
	stays := []repository.HoldingStay{
		{RoomTypeID: rt, CheckIn: day(1), CheckOut: day(4), Units: 1},
	}

	// выезд 4-го не пересекается с заездом 4-го
	if got := peakOccupancy(stays, day(4), day(6))[rt]; got != 0 {
		t.Fatalf("same-day turnover: peak = %d, want 0", got)
	}
	if got := peakOccupancy(stays, day(3), day(5))[rt]; got != 1 {
		t.Fatalf("overlapping night: peak = %d, want 1", got)
	}
	if got := peakOccupancy(stays, day(1), day(2))[rt]; got != 1 {
		t.Fatalf("check-in night: peak = %d, want 1", got)
	}
}

func TestPeakOccupancyUsesMaxNightNotSum(t *testing.T) {
	rt := uuid.New()
	// две брони не пересекаются между собой: пик 1, а не 2
	stays := []repository.HoldingStay{
		{RoomTypeID: rt, CheckIn: day(1), CheckOut: day(3), Units: 1},
		{RoomTypeID: rt, CheckIn: day(3), CheckOut: day(5), Units: 1},
		{RoomTypeID: rt, CheckIn: day(4), CheckOut: day(6), Units: 2},
	}
	if got := peakOccupancy(stays, day(1), day(4))[rt]; got != 1 {
		t.Fatalf("peak = %d, want 1", got)
	}
	if got := peakOccupancy(stays, day(1), day(6))[rt]; got != 3 {
		t.Fatalf("peak = %d, want 3", got)
	}
}

func TestPeakOccupancyPerType(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	stays := []repository.HoldingStay{
		{RoomTypeID: a, CheckIn: day(1), CheckOut: day(2), Units: 2},
		{RoomTypeID: b, CheckIn: day(1), CheckOut: day(2), Units: 1},
	}
	peak := peakOccupancy(stays, day(1), day(2))
	if peak[a] != 2 || peak[b] != 1 {
		t.Fatalf("unexpected peaks %v", peak)
	}
}

func TestValidateStay(t *testing.T) {
	if _, _, err := validateStay(day(5), day(5)); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero-night stay must fail validation, got %v", err)
	}
	if _, _, err := validateStay(day(6), day(5)); !errors.Is(err, ErrValidation) {
		t.Fatalf("reversed stay must fail validation, got %v", err)
	}
	in, out, err := validateStay(day(5).Add(15*time.Hour), day(7).Add(10*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !in.Equal(day(5)) || !out.Equal(day(7)) {
		t.Fatalf("time of day must be dropped: %v %v", in, out)
	}
}

func TestTodayIsTheUTCDate(t *testing.T) {
	// 05:00 во Владивостоке: в UTC ещё предыдущий день
	local := time.Date(2026, 7, 11, 5, 0, 0, 0, time.FixedZone("UTC+10", 10*3600))
	s := &bookingService{now: func() time.Time { return local }}
	if got := s.today(); !got.Equal(day(10)) {
		t.Fatalf("today = %v, want %v", got, day(10))
	}
}

func TestValidateBooking(t *testing.T) {
	today := day(10)
	rt := uuid.New()
	base := func() CreateBookingInput {
		return CreateBookingInput{
			CheckIn:       day(12),
			CheckOut:      day(15),
			Rooms:         []RoomRequest{{RoomTypeID: rt, Quantity: 1}},
			Guest:         Guest{Name: "Ada", Email: "ada@example.com"},
			PaymentMethod: models.MethodCard,
		}
	}

	plan, err := validateBooking(base(), today)
	if err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	if plan.guests != 1 {
		t.Fatalf("guest count must default to 1, got %d", plan.guests)
	}

	merged := base()
	merged.Rooms = append(merged.Rooms, RoomRequest{RoomTypeID: rt, Quantity: 2})
	plan, err = validateBooking(merged, today)
	if err != nil {
		t.Fatal(err)
	}
	if plan.want[rt] != 3 || len(plan.order) != 1 || plan.units() != 3 {
		t.Fatalf("duplicate room types must be merged: %+v", plan)
	}

	bad := map[string]func(in *CreateBookingInput){
		"past":         func(in *CreateBookingInput) { in.CheckIn = day(9) },
		"zero nights":  func(in *CreateBookingInput) { in.CheckOut = in.CheckIn },
		"no rooms":     func(in *CreateBookingInput) { in.Rooms = nil },
		"zero qty":     func(in *CreateBookingInput) { in.Rooms[0].Quantity = 0 },
		"no contact":   func(in *CreateBookingInput) { in.Guest.Email = "" },
		"bad email":    func(in *CreateBookingInput) { in.Guest.Email = "not-an-email" },
		"bad method":   func(in *CreateBookingInput) { in.PaymentMethod = "crypto" },
		"neg guests":   func(in *CreateBookingInput) { in.GuestCount = -1 },
		"neg payment":  func(in *CreateBookingInput) { in.InitialPaymentCents = -5 },
		"nil roomtype": func(in *CreateBookingInput) { in.Rooms[0].RoomTypeID = uuid.Nil },
	}
	for name, mutate := range bad {
		in := base()
		mutate(&in)
		if _, err := validateBooking(in, today); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}

	backdated := base()
	backdated.CheckIn = day(8)
	backdated.BackdateAllowed = true
	if _, err := validateBooking(backdated, today); err != nil {
		t.Fatalf("backdate allowed but rejected: %v", err)
	}

	phoneOnly := base()
	phoneOnly.Guest = Guest{Name: "Bo", Phone: "+15550100"}
	if _, err := validateBooking(phoneOnly, today); err != nil {
		t.Fatalf("phone-only contact rejected: %v", err)
	}
}
