package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrValidation               = errors.New("validation failed")
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrInsufficientAvailability = errors.New("insufficient availability")
	ErrNoRoomAvailable          = errors.New("no room available")
	ErrOverpayment              = errors.New("overpayment")
	ErrNotFound                 = errors.New("not found")
	ErrUnknownPaymentMethod     = errors.New("unknown payment method")
)

// ValidationError collects per-field messages for malformed input.
type ValidationError struct {
	fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{fields: make(map[string][]string)}
}

func (e *ValidationError) Add(field, msg string) {
	e.fields[field] = append(e.fields[field], msg)
}

func (e *ValidationError) Empty() bool { return len(e.fields) == 0 }

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Fields() map[string][]string {
	out := make(map[string][]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationErr(field, msg string) error {
	v := NewValidationError()
	v.Add(field, msg)
	return v
}

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type Shortage struct {
	RoomTypeID uuid.UUID
	Requested  int
	Available  int
}

type InsufficientAvailabilityError struct {
	Shortages []Shortage
}

func (e *InsufficientAvailabilityError) add(s Shortage) { e.Shortages = append(e.Shortages, s) }

func (e *InsufficientAvailabilityError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.RoomTypeID, s.Requested, s.Available))
	}
	return "insufficient availability: " + strings.Join(parts, ", ")
}

func (e *InsufficientAvailabilityError) Is(target error) bool {
	return target == ErrInsufficientAvailability
}

type NoRoomAvailableError struct {
	RoomTypeID uuid.UUID
}

func (e *NoRoomAvailableError) Error() string {
	return fmt.Sprintf("no room available for room type %s", e.RoomTypeID)
}

func (e *NoRoomAvailableError) Is(target error) bool { return target == ErrNoRoomAvailable }

type OverpaymentError struct {
	Amount      int64
	Outstanding int64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %d exceeds outstanding balance %d", e.Amount, e.Outstanding)
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }

// InitialPaymentError: бронь создана, но первый платёж не проведён. Booking содержит
// созданную бронь, Err: причину (errors.Is/As работают через Unwrap).
type InitialPaymentError struct {
	Booking *BookingConfirmation
	Err     error
}

func (e *InitialPaymentError) Error() string {
	return fmt.Sprintf("booking %s created, initial payment failed: %v", e.Booking.Reference, e.Err)
}

func (e *InitialPaymentError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func notFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}
