package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/verification"
)

// Session is the result of a successful login.
type Session struct {
	Identity  verification.Snapshot
	Token     string
	ExpiresAt time.Time
}

// Service runs the SMS login flow: verify the code, finish registration for
// provisional identities, then issue a session token.
type Service struct {
	codes  *verification.Service
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewService wires the login flow.
func NewService(codes *verification.Service, tokens *TokenIssuer, logger *slog.Logger) *Service {
	return &Service{codes: codes, tokens: tokens, logger: logger}
}

// SendCode issues a verification code for phone.
func (s *Service) SendCode(ctx context.Context, phone string) error {
	return s.codes.SendCode(ctx, phone)
}

// VerifyAndLogin consumes the code and returns a session. A provisional
// identity is registered on the way, taking nickname when one is given;
// nickname is ignored for identities that already have a role.
func (s *Service) VerifyAndLogin(ctx context.Context, phone, code string, nickname *string) (Session, error) {
	snap, err := s.codes.VerifyCode(ctx, phone, code)
	if err != nil {
		return Session{}, err
	}

	if snap.Role == identity.RoleUnset {
		snap, err = s.codes.CompleteRegistration(ctx, snap.ID, nickname)
		if err != nil {
			if errors.Is(err, verification.ErrRegistrationFailure) || errors.Is(err, verification.ErrDecryptionFailure) {
				return Session{}, err
			}
			return Session{}, fmt.Errorf("%w: %w", verification.ErrRegistrationFailure, err)
		}
	}

	token, err := s.tokens.Issue(snap)
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("login succeeded",
		slog.String("identity_id", snap.ID),
		slog.String("role", string(snap.Role)),
		slog.Time("expires_at", token.ExpiresAt),
	)
	return Session{Identity: snap, Token: token.Value, ExpiresAt: token.ExpiresAt}, nil
}
