package response

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/verification"
)

// statusByError is checked in order. Wrapping failures come first since they
// may carry another sentinel as their cause.
var statusByError = []struct {
	err     error
	status  int
	message string
}{
	{verification.ErrDecryptionFailure, http.StatusInternalServerError, "internal error"},
	{verification.ErrRegistrationFailure, http.StatusInternalServerError, "registration could not be completed"},
	{verification.ErrDeliveryFailed, http.StatusBadGateway, "verification code could not be delivered, try again later"},
	{verification.ErrNotFound, http.StatusNotFound, "identity not found"},
	{identity.ErrNotFound, http.StatusNotFound, "identity not found"},
	{verification.ErrCodeNotRequested, http.StatusBadRequest, "request a verification code first"},
	{verification.ErrCodeExpired, http.StatusGone, "verification code expired, request a new one"},
	{verification.ErrCodeMismatch, http.StatusUnauthorized, "verification code is incorrect"},
}

// Failure is the transport view of an error returned by a handler.
type Failure struct {
	Status  int
	Message string
	// RetryAfter is set in seconds for rate-limited requests.
	RetryAfter int
	// Known is false for errors outside the domain taxonomy.
	Known bool
}

// Resolve maps err onto its HTTP status and client-facing message.
func Resolve(err error) Failure {
	var limited *verification.RateLimitedError
	if errors.As(err, &limited) {
		secs := limited.RemainingSeconds()
		return Failure{
			Status:     http.StatusTooManyRequests,
			Message:    "please wait " + strconv.Itoa(secs) + " seconds before requesting another code",
			RetryAfter: secs,
			Known:      true,
		}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return Failure{Status: fe.Code, Message: fe.Message, Known: true}
	}

	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return Failure{Status: m.status, Message: m.message, Known: true}
		}
	}
	return Failure{Status: http.StatusInternalServerError, Message: "internal error"}
}
