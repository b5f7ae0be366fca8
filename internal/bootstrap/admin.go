// Package bootstrap seeds the records a fresh deployment needs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/logging"
	"github.com/smsauth/smsauth/internal/verification"
)

// EnsureAdmin makes sure an identity with the admin role exists for phone.
// An existing identity for that phone is left as it is, whatever its role.
func EnsureAdmin(ctx context.Context, repo identity.Repository, codec verification.PhoneCodec, phone string, now time.Time, logger *slog.Logger) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil
	}

	hash := codec.Hash(phone)
	existing, err := repo.FindByHash(ctx, hash)
	if err == nil {
		if existing.Role != identity.RoleAdmin || !existing.Active {
			logger.Warn("admin phone belongs to a non-admin identity",
				slog.String("identity_id", existing.ID),
				slog.String("role", string(existing.Role)),
				slog.Bool("active", existing.Active),
			)
		}
		return nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("find admin identity: %w", err)
	}

	ciphertext, err := codec.Encrypt(phone)
	if err != nil {
		return fmt.Errorf("encrypt admin phone: %w", err)
	}
	now = now.UTC()
	admin := identity.Identity{
		ID:              uuid.NewString(),
		PhoneCiphertext: ciphertext,
		PhoneHash:       hash,
		Role:            identity.RoleAdmin,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := repo.Create(ctx, admin); err != nil {
		if errors.Is(err, identity.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("create admin identity: %w", err)
	}

	logger.Info("admin identity created",
		slog.String("identity_id", admin.ID),
		slog.String("phone", logging.MaskPhone(phone)),
	)
	return nil
}
