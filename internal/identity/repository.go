package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no identity matches the lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicate is returned when a phone hash is already taken.
	ErrDuplicate = errors.New("identity already exists")
)

// Tx is the handle passed to a WithLock callback. Updates made through it
// commit together with the transaction.
type Tx interface {
	Update(ctx context.Context, id string, patch Patch) error
}

// LockFunc runs while the row keyed by a phone hash is exclusively locked.
// current is nil when no active identity matches. Returning an error rolls
// back every update made through tx.
type LockFunc func(ctx context.Context, current *Identity, tx Tx) error

// Repository persists identities.
type Repository interface {
	// FindByHash returns the identity for a phone hash regardless of its active flag.
	FindByHash(ctx context.Context, hash string) (Identity, error)
	// FindByID returns an active identity by its external id.
	FindByID(ctx context.Context, id string) (Identity, error)
	Create(ctx context.Context, ident Identity) (Identity, error)
	Update(ctx context.Context, id string, patch Patch) error
	// WithLock runs fn in a transaction holding an exclusive lock on the
	// active row matching hash.
	WithLock(ctx context.Context, hash string, fn LockFunc) error
	// SweepExpired clears code fields on every row whose code expired before now.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	Deactivate(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
