package domain

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// Tracking numbers are "OM" followed by exactly nine decimal digits.
const (
	trackingPrefix = "OM"
	trackingDigits = 9
	trackingLength = len(trackingPrefix) + trackingDigits
)

// ErrInvalidTrackingNumber is returned for any tracking number that does not
// match the grammar. Wrapped reasons distinguish the sub-cases for user
// messaging.
var ErrInvalidTrackingNumber = errors.New("invalid tracking number format")

// NormalizeTrackingNumber trims surrounding whitespace and uppercases the
// input. Normalization is idempotent.
func NormalizeTrackingNumber(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

// ValidateTrackingNumber checks a normalized tracking number against the
// grammar. The returned error wraps ErrInvalidTrackingNumber with a reason
// describing which rule was broken.
func ValidateTrackingNumber(normalized string) error {
	if !strings.HasPrefix(normalized, trackingPrefix) {
		return fmt.Errorf("%w: must start with %q", ErrInvalidTrackingNumber, trackingPrefix)
	}
	if len(normalized) != trackingLength {
		return fmt.Errorf("%w: expected %d digits after %q", ErrInvalidTrackingNumber, trackingDigits, trackingPrefix)
	}
	for _, c := range normalized[len(trackingPrefix):] {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: only digits are allowed after %q", ErrInvalidTrackingNumber, trackingPrefix)
		}
	}
	return nil
}

// GenerateTrackingNumber draws random nine-digit identifiers until one is not
// claimed by exists. The random source is injected so generation is
// reproducible in tests. With the whole nine-digit space claimed this never
// terminates; the space is large enough that this is accepted as a known
// limitation.
func GenerateTrackingNumber(rng *rand.Rand, exists func(string) bool) string {
	for {
		n := 100000000 + rng.Intn(900000000)
		id := fmt.Sprintf("%s%d", trackingPrefix, n)
		if exists == nil || !exists(id) {
			return id
		}
	}
}
