package bootstrap

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smsauth/smsauth/internal/codec"
	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/logging"
)

var now = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

func newCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(bytes.Repeat([]byte{1}, codec.KeySize))
	require.NoError(t, err)
	return c
}

func TestEnsureAdminCreates(t *testing.T) {
	repo := identity.NewMemoryRepository()
	c := newCodec(t)
	ctx := context.Background()

	require.NoError(t, EnsureAdmin(ctx, repo, c, "13900000000", now, logging.Discard()))

	admin, err := repo.FindByHash(ctx, c.Hash("13900000000"))
	require.NoError(t, err)
	require.Equal(t, identity.RoleAdmin, admin.Role)
	require.True(t, admin.Active)
	require.Nil(t, admin.Code)

	plain, err := c.Decrypt(admin.PhoneCiphertext)
	require.NoError(t, err)
	require.Equal(t, "13900000000", plain)

	require.NoError(t, EnsureAdmin(ctx, repo, c, "13900000000", now.Add(time.Hour), logging.Discard()))
	again, err := repo.FindByHash(ctx, c.Hash("13900000000"))
	require.NoError(t, err)
	require.Equal(t, admin.ID, again.ID)
}

func TestEnsureAdminLeavesExistingIdentity(t *testing.T) {
	repo := identity.NewMemoryRepository()
	c := newCodec(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, identity.Identity{
		ID:        "existing",
		PhoneHash: c.Hash("13900000000"),
		Role:      identity.RoleUser,
		Active:    true,
	})
	require.NoError(t, err)

	require.NoError(t, EnsureAdmin(ctx, repo, c, "13900000000", now, logging.Discard()))
	got, err := repo.FindByHash(ctx, c.Hash("13900000000"))
	require.NoError(t, err)
	require.Equal(t, identity.RoleUser, got.Role)
}

func TestEnsureAdminNoPhone(t *testing.T) {
	require.NoError(t, EnsureAdmin(context.Background(), identity.NewMemoryRepository(), newCodec(t), " ", now, logging.Discard()))
}
