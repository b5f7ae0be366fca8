// Package verification issues and checks one-time SMS codes for phone-number
// identities.
package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/smsauth/smsauth/internal/config"
	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/logging"
	"github.com/smsauth/smsauth/internal/notification"
)

// PhoneCodec protects phone numbers at rest.
type PhoneCodec interface {
	Hash(phone string) string
	Encrypt(phone string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Snapshot is the caller-facing view of an identity, with the phone decrypted
// and no code fields.
type Snapshot struct {
	ID        string
	Phone     string
	Nickname  *string
	Role      identity.Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deps groups the collaborators of Service. Codes and Clock are optional.
type Deps struct {
	Repo    identity.Repository
	Codec   PhoneCodec
	Gateway notification.Gateway
	Codes   CodeGenerator
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Service implements code issuance, verification and registration completion.
type Service struct {
	cfg     config.VerificationConfig
	repo    identity.Repository
	codec   PhoneCodec
	gateway notification.Gateway
	codes   CodeGenerator
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewService wires a verification service.
func NewService(cfg config.VerificationConfig, d Deps) *Service {
	s := &Service{
		cfg:     cfg,
		repo:    d.Repo,
		codec:   d.Codec,
		gateway: d.Gateway,
		codes:   d.Codes,
		clock:   d.Clock,
		logger:  d.Logger,
	}
	if s.codes == nil {
		s.codes = RandomCodes{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// SendCode stores a fresh code for phone and dispatches it. The code and the
// resend timestamp are persisted before delivery and stay in place when
// delivery fails, so a failed attempt still counts toward the resend interval.
func (s *Service) SendCode(ctx context.Context, phone string) error {
	now := s.clock.Now().UTC()
	hash := s.codec.Hash(phone)

	code, id, err := s.storeCode(ctx, phone, hash, now)
	if err != nil {
		return err
	}

	res, err := s.gateway.Send(ctx, notification.E164(phone, s.cfg.CountryPrefix), code.Value, s.ttlMinutes())
	if err != nil {
		s.logger.Error("verification code delivery failed",
			slog.String("identity_id", id),
			slog.String("phone", logging.MaskPhone(phone)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	s.logger.Info("verification code sent",
		slog.String("identity_id", id),
		slog.String("provider_ref", res.ProviderRef),
		slog.Time("expires_at", code.ExpiresAt),
	)
	return nil
}

// storeCode creates the provisional identity or refreshes the code on the
// existing one. A concurrent first send for the same phone surfaces as
// ErrDuplicate on create; the lookup is retried once so the loser observes the
// winner's row.
func (s *Service) storeCode(ctx context.Context, phone, hash string, now time.Time) (identity.PendingCode, string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.repo.FindByHash(ctx, hash)
		if errors.Is(err, identity.ErrNotFound) {
			code, err := s.newCode(now)
			if err != nil {
				return identity.PendingCode{}, "", err
			}
			ident, err := s.provisional(phone, hash, code, now)
			if err != nil {
				return identity.PendingCode{}, "", err
			}
			if _, err := s.repo.Create(ctx, ident); err != nil {
				if errors.Is(err, identity.ErrDuplicate) {
					continue
				}
				return identity.PendingCode{}, "", fmt.Errorf("create identity: %w", err)
			}
			return code, ident.ID, nil
		}
		if err != nil {
			return identity.PendingCode{}, "", fmt.Errorf("find identity: %w", err)
		}

		if !current.Active {
			return identity.PendingCode{}, "", ErrNotFound
		}
		if err := s.checkResend(current, now); err != nil {
			return identity.PendingCode{}, "", err
		}

		code, err := s.newCode(now)
		if err != nil {
			return identity.PendingCode{}, "", err
		}
		if err := s.repo.Update(ctx, current.ID, identity.Patch{SetCode: &code, LastCodeSentAt: &now}); err != nil {
			return identity.PendingCode{}, "", fmt.Errorf("store code: %w", err)
		}
		return code, current.ID, nil
	}
	return identity.PendingCode{}, "", fmt.Errorf("create identity: %w", identity.ErrDuplicate)
}

func (s *Service) checkResend(ident identity.Identity, now time.Time) error {
	if ident.LastCodeSentAt == nil {
		return nil
	}
	elapsed := now.Sub(*ident.LastCodeSentAt)
	if elapsed >= s.cfg.ResendInterval {
		return nil
	}
	remaining := s.cfg.ResendInterval - elapsed
	if remaining > s.cfg.ResendInterval {
		remaining = s.cfg.ResendInterval
	}
	return &RateLimitedError{Remaining: remaining}
}

func (s *Service) newCode(now time.Time) (identity.PendingCode, error) {
	value, err := s.codes.Generate(s.cfg.CodeLength)
	if err != nil {
		return identity.PendingCode{}, err
	}
	return identity.PendingCode{Value: value, ExpiresAt: now.Add(s.cfg.CodeTTL)}, nil
}

func (s *Service) provisional(phone, hash string, code identity.PendingCode, now time.Time) (identity.Identity, error) {
	ciphertext, err := s.codec.Encrypt(phone)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("encrypt phone: %w", err)
	}
	return identity.Identity{
		ID:              uuid.NewString(),
		PhoneCiphertext: ciphertext,
		PhoneHash:       hash,
		Role:            identity.RoleUnset,
		Code:            &code,
		LastCodeSentAt:  &now,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *Service) ttlMinutes() int {
	return int(math.Ceil(s.cfg.CodeTTL.Minutes()))
}

// VerifyCode checks submitted against the pending code while holding the row
// lock for phone. A match consumes the code. An expired code is cleared and the
// clearing is committed even though the call fails.
func (s *Service) VerifyCode(ctx context.Context, phone, submitted string) (Snapshot, error) {
	now := s.clock.Now().UTC()
	hash := s.codec.Hash(phone)

	var (
		snap    Snapshot
		outcome error
	)
	err := s.repo.WithLock(ctx, hash, func(ctx context.Context, current *identity.Identity, tx identity.Tx) error {
		switch {
		case current == nil:
			outcome = ErrNotFound
			return nil
		case current.Code == nil:
			outcome = ErrCodeNotRequested
			return nil
		case current.Code.Expired(now):
			if err := tx.Update(ctx, current.ID, identity.Patch{ClearCode: true}); err != nil {
				return fmt.Errorf("clear expired code: %w", err)
			}
			outcome = ErrCodeExpired
			return nil
		case subtle.ConstantTimeCompare([]byte(submitted), []byte(current.Code.Value)) != 1:
			outcome = ErrCodeMismatch
			return nil
		}

		plain, err := s.decrypt(current)
		if err != nil {
			return err
		}
		consume := identity.Patch{ClearCode: true}
		if err := tx.Update(ctx, current.ID, consume); err != nil {
			return fmt.Errorf("consume code: %w", err)
		}
		snap = newSnapshot(consume.Apply(*current, now), plain)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if outcome != nil {
		s.logger.Info("verification rejected",
			slog.String("phone", logging.MaskPhone(phone)),
			slog.String("reason", outcome.Error()),
		)
		return Snapshot{}, outcome
	}
	return snap, nil
}

// CompleteRegistration promotes a provisional identity to a user, setting the
// nickname when one is given. It is a no-op returning the current snapshot for
// identities that already have a role.
func (s *Service) CompleteRegistration(ctx context.Context, id string, nickname *string) (Snapshot, error) {
	ident, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}

	now := s.clock.Now().UTC()
	var snap Snapshot
	err = s.repo.WithLock(ctx, ident.PhoneHash, func(ctx context.Context, current *identity.Identity, tx identity.Tx) error {
		if current == nil || current.ID != id {
			return ErrNotFound
		}

		result := *current
		if current.Role == identity.RoleUnset {
			role := identity.RoleUser
			patch := identity.Patch{Role: &role}
			if nickname != nil && *nickname != "" {
				patch.Nickname = nickname
			}
			if err := tx.Update(ctx, id, patch); err != nil {
				return fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
			}
			result = patch.Apply(result, now)
		}

		plain, err := s.decrypt(current)
		if err != nil {
			return err
		}
		snap = newSnapshot(result, plain)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if ident.Role == identity.RoleUnset && snap.Role == identity.RoleUser {
		s.logger.Info("registration completed", slog.String("identity_id", id))
	}
	return snap, nil
}

// Current returns the snapshot of an active identity.
func (s *Service) Current(ctx context.Context, id string) (Snapshot, error) {
	ident, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("find identity: %w", err)
	}
	plain, err := s.decrypt(&ident)
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(ident, plain), nil
}

func (s *Service) decrypt(ident *identity.Identity) (string, error) {
	plain, err := s.codec.Decrypt(ident.PhoneCiphertext)
	if err != nil {
		s.logger.Error("phone decryption failed", slog.String("identity_id", ident.ID), slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrDecryptionFailure, err)
	}
	return plain, nil
}

func newSnapshot(ident identity.Identity, phone string) Snapshot {
	return Snapshot{
		ID:        ident.ID,
		Phone:     phone,
		Nickname:  ident.Nickname,
		Role:      ident.Role,
		Active:    ident.Active,
		CreatedAt: ident.CreatedAt,
		UpdatedAt: ident.UpdatedAt,
	}
}
