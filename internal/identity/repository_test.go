package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newIdentity(hash string) Identity {
	return Identity{
		ID:              uuid.NewString(),
		PhoneCiphertext: []byte("ciphertext-" + hash),
		PhoneHash:       hash,
		Role:            RoleUnset,
		Active:          true,
		CreatedAt:       base,
		UpdatedAt:       base,
	}
}

// testRepository runs the behaviour every Repository driver must share.
func testRepository(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("create and find", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		expires := base.Add(5 * time.Minute)
		ident := newIdentity("hash-create")
		ident.Code = &PendingCode{Value: "123456", ExpiresAt: expires}
		ident.LastCodeSentAt = &base

		_, err := repo.Create(ctx, ident)
		require.NoError(t, err)

		got, err := repo.FindByHash(ctx, "hash-create")
		require.NoError(t, err)
		require.Equal(t, ident.ID, got.ID)
		require.Equal(t, ident.PhoneCiphertext, got.PhoneCiphertext)
		require.Equal(t, RoleUnset, got.Role)
		require.NotNil(t, got.Code)
		require.Equal(t, "123456", got.Code.Value)
		require.True(t, got.Code.ExpiresAt.Equal(expires))
		require.NotNil(t, got.LastCodeSentAt)
		require.True(t, got.LastCodeSentAt.Equal(base))
		require.Nil(t, got.Nickname)

		byID, err := repo.FindByID(ctx, ident.ID)
		require.NoError(t, err)
		require.Equal(t, "hash-create", byID.PhoneHash)

		_, err = repo.FindByHash(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FindByID(ctx, uuid.NewString())
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate hash", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Create(ctx, newIdentity("hash-dup"))
		require.NoError(t, err)
		_, err = repo.Create(ctx, newIdentity("hash-dup"))
		require.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("update patch", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		ident, err := repo.Create(ctx, newIdentity("hash-update"))
		require.NoError(t, err)

		nick := "alice"
		role := RoleUser
		sent := base.Add(time.Minute)
		require.NoError(t, repo.Update(ctx, ident.ID, Patch{
			Nickname:       &nick,
			Role:           &role,
			SetCode:        &PendingCode{Value: "654321", ExpiresAt: sent.Add(5 * time.Minute)},
			LastCodeSentAt: &sent,
		}))

		got, err := repo.FindByID(ctx, ident.ID)
		require.NoError(t, err)
		require.Equal(t, RoleUser, got.Role)
		require.NotNil(t, got.Nickname)
		require.Equal(t, "alice", *got.Nickname)
		require.Equal(t, "654321", got.Code.Value)
		require.True(t, got.LastCodeSentAt.Equal(sent))

		require.NoError(t, repo.Update(ctx, ident.ID, Patch{ClearCode: true}))
		got, err = repo.FindByID(ctx, ident.ID)
		require.NoError(t, err)
		require.Nil(t, got.Code)
		require.Equal(t, "alice", *got.Nickname)

		require.ErrorIs(t, repo.Update(ctx, uuid.NewString(), Patch{ClearCode: true}), ErrNotFound)
	})

	t.Run("deactivate hides identity from id and lock lookups", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		ident, err := repo.Create(ctx, newIdentity("hash-inactive"))
		require.NoError(t, err)
		require.NoError(t, repo.Deactivate(ctx, ident.ID))

		_, err = repo.FindByID(ctx, ident.ID)
		require.ErrorIs(t, err, ErrNotFound)

		got, err := repo.FindByHash(ctx, "hash-inactive")
		require.NoError(t, err)
		require.False(t, got.Active)

		err = repo.WithLock(ctx, "hash-inactive", func(_ context.Context, current *Identity, _ Tx) error {
			require.Nil(t, current)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("with lock commits on success", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		ident := newIdentity("hash-commit")
		ident.Code = &PendingCode{Value: "111111", ExpiresAt: base.Add(time.Minute)}
		_, err := repo.Create(ctx, ident)
		require.NoError(t, err)

		err = repo.WithLock(ctx, "hash-commit", func(ctx context.Context, current *Identity, tx Tx) error {
			require.NotNil(t, current)
			require.Equal(t, "111111", current.Code.Value)
			return tx.Update(ctx, current.ID, Patch{ClearCode: true})
		})
		require.NoError(t, err)

		got, err := repo.FindByHash(ctx, "hash-commit")
		require.NoError(t, err)
		require.Nil(t, got.Code)
	})

	t.Run("with lock rolls back on error", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		ident := newIdentity("hash-rollback")
		ident.Code = &PendingCode{Value: "222222", ExpiresAt: base.Add(time.Minute)}
		_, err := repo.Create(ctx, ident)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = repo.WithLock(ctx, "hash-rollback", func(ctx context.Context, current *Identity, tx Tx) error {
			if err := tx.Update(ctx, current.ID, Patch{ClearCode: true}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := repo.FindByHash(ctx, "hash-rollback")
		require.NoError(t, err)
		require.NotNil(t, got.Code)
		require.Equal(t, "222222", got.Code.Value)
	})

	t.Run("with lock on unknown hash", func(t *testing.T) {
		repo := newRepo(t)
		called := false
		err := repo.WithLock(context.Background(), "nobody", func(_ context.Context, current *Identity, _ Tx) error {
			called = true
			require.Nil(t, current)
			return nil
		})
		require.NoError(t, err)
		require.True(t, called)
	})

	t.Run("with lock serializes callers", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Create(ctx, newIdentity("hash-serial"))
		require.NoError(t, err)

		entered := make(chan struct{})
		release := make(chan struct{})
		var inside, overlaps int32

		hold := func(_ context.Context, _ *Identity, _ Tx) error {
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			defer atomic.AddInt32(&inside, -1)
			select {
			case entered <- struct{}{}:
				<-release
			default:
			}
			return nil
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.WithLock(ctx, "hash-serial", hold))
		}()
		<-entered

		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.WithLock(ctx, "hash-serial", hold))
		}()

		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		require.Zero(t, atomic.LoadInt32(&overlaps))
	})

	t.Run("sweep expired", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		stale := newIdentity("hash-stale")
		stale.Code = &PendingCode{Value: "333333", ExpiresAt: base.Add(-time.Second)}
		fresh := newIdentity("hash-fresh")
		fresh.Code = &PendingCode{Value: "444444", ExpiresAt: base.Add(time.Minute)}
		edge := newIdentity("hash-edge")
		edge.Code = &PendingCode{Value: "555555", ExpiresAt: base}
		for _, ident := range []Identity{stale, fresh, edge, newIdentity("hash-none")} {
			_, err := repo.Create(ctx, ident)
			require.NoError(t, err)
		}

		n, err := repo.SweepExpired(ctx, base)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		got, err := repo.FindByHash(ctx, "hash-stale")
		require.NoError(t, err)
		require.Nil(t, got.Code)

		got, err = repo.FindByHash(ctx, "hash-fresh")
		require.NoError(t, err)
		require.NotNil(t, got.Code)

		got, err = repo.FindByHash(ctx, "hash-edge")
		require.NoError(t, err)
		require.NotNil(t, got.Code)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, newRepo(t).Ping(context.Background()))
	})
}

func TestPatchApply(t *testing.T) {
	now := base.Add(time.Hour)
	ident := newIdentity("hash-apply")
	ident.Code = &PendingCode{Value: "999999", ExpiresAt: base}

	got := Patch{SetCode: &PendingCode{Value: "000000"}, ClearCode: true}.Apply(ident, now)
	require.Nil(t, got.Code)
	require.Equal(t, now, got.UpdatedAt)
	require.NotNil(t, ident.Code, "original must not change")

	require.True(t, Patch{}.Empty())
	require.False(t, Patch{ClearCode: true}.Empty())
}

func TestPendingCodeExpired(t *testing.T) {
	code := PendingCode{Value: "1", ExpiresAt: base}
	require.False(t, code.Expired(base))
	require.True(t, code.Expired(base.Add(time.Millisecond)))
	require.False(t, code.Expired(base.Add(-time.Millisecond)))
}

func TestRoleValid(t *testing.T) {
	require.True(t, RoleUnset.Valid())
	require.True(t, RoleUser.Valid())
	require.True(t, RoleAdmin.Valid())
	require.False(t, Role("root").Valid())
}
