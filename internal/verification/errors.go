package verification

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound            = errors.New("identity not found")
	ErrCodeNotRequested    = errors.New("verification code not requested")
	ErrCodeExpired         = errors.New("verification code expired")
	ErrCodeMismatch        = errors.New("verification code mismatch")
	ErrRateLimited         = errors.New("verification code requested too frequently")
	ErrDeliveryFailed      = errors.New("verification code delivery failed")
	ErrDecryptionFailure   = errors.New("phone decryption failed")
	ErrRegistrationFailure = errors.New("registration failed")
)

// RateLimitedError carries the wait before another code may be sent. It
// matches ErrRateLimited under errors.Is.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry in %ds", ErrRateLimited, e.RemainingSeconds())
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RemainingSeconds rounds the wait up to whole seconds, never below one.
func (e *RateLimitedError) RemainingSeconds() int {
	s := int(math.Ceil(e.Remaining.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
