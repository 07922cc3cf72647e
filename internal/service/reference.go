package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"

	"github.com/nanorand/nanorand"
)

const (
	ReferencePrefix   = "LDG-"
	referenceLength   = 6
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceSeedLen  = 16
)

var (
	ErrReferenceExhausted = errors.New("could not generate unique booking reference")

	referencePattern = regexp.MustCompile(`^LDG-[A-Z0-9]{6}$`)
)

// NewBookingReference returns a random code in the LDG-XXXXXX format.
func NewBookingReference() (string, error) {
	seed, err := nanorand.Gen(referenceSeedLen)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(seed))
	b := make([]byte, referenceLength)
	for i := range b {
		b[i] = referenceAlphabet[int(sum[i])%len(referenceAlphabet)]
	}
	return ReferencePrefix + string(b), nil
}

func ValidReference(ref string) bool { return referencePattern.MatchString(ref) }

// uniqueReference генерирует код до тех пор, пока exists не вернёт false.
// Окончательную уникальность гарантирует индекс (tenant_id, booking_reference).
func uniqueReference(ctx context.Context, attempts int, gen func() (string, error), exists func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < attempts; i++ {
		ref, err := gen()
		if err != nil {
			return "", fmt.Errorf("generate reference: %w", err)
		}
		taken, err := exists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !taken {
			return ref, nil
		}
	}
	return "", ErrReferenceExhausted
}
