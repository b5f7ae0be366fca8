package notification

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/segmentio/ksuid"

	"github.com/smsauth/smsauth/internal/logging"
)

// ErrRejected is returned when the provider answers but refuses the message.
var ErrRejected = errors.New("sms rejected by provider")

// Result describes an accepted delivery.
type Result struct {
	// ProviderRef is the provider's reference for the send, if it returned one.
	ProviderRef string
}

// Gateway delivers verification codes to a phone.
type Gateway interface {
	Send(ctx context.Context, phoneE164, code string, ttlMinutes int) (Result, error)
}

// E164 prefixes phone with the default country code unless it already carries one.
func E164(phone, countryPrefix string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return countryPrefix + phone
}

// LoggerGateway writes codes to the logger instead of sending them. Intended
// for local development.
type LoggerGateway struct {
	logger *slog.Logger
}

// NewLoggerGateway constructs a logging gateway.
func NewLoggerGateway(logger *slog.Logger) *LoggerGateway {
	return &LoggerGateway{logger: logger}
}

// Send logs the code against a masked destination.
func (g *LoggerGateway) Send(_ context.Context, phoneE164, code string, ttlMinutes int) (Result, error) {
	ref := ksuid.New().String()
	if g != nil && g.logger != nil {
		g.logger.Info("verification code",
			slog.String("destination", logging.MaskPhone(phoneE164)),
			slog.String("code", code),
			slog.Int("ttl_minutes", ttlMinutes),
			slog.String("ref", ref),
		)
	}
	return Result{ProviderRef: ref}, nil
}
