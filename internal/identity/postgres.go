package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Create inserts a new identity. A taken phone hash yields ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, ident Identity) (Identity, error) {
	id, err := uuid.Parse(ident.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity id: %w", err)
	}
	var code *string
	var codeExp *time.Time
	if ident.Code != nil {
		code, codeExp = &ident.Code.Value, &ident.Code.ExpiresAt
	}
	_, err = r.db.Exec(ctx, `INSERT INTO identities (id, phone_ciphertext, phone_hash, nickname, role, code,
        code_expires_at, last_code_sent_at, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, ident.PhoneCiphertext, ident.PhoneHash, ident.Nickname, string(ident.Role), code,
		codeExp, ident.LastCodeSentAt, ident.Active, ident.CreatedAt.UTC(), ident.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Identity{}, ErrDuplicate
		}
		return Identity{}, err
	}
	return ident, nil
}

// FindByHash fetches an identity by phone hash.
func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE phone_hash = $1`, hash)
	return scanPostgres(row)
}

// FindByID fetches an active identity by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1 AND active`, parsed)
	return scanPostgres(row)
}

// Update applies a partial update to the identity row.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch Patch) error {
	return updatePostgres(ctx, r.db, id, patch, r.now())
}

// WithLock locks the active row for hash with SELECT ... FOR UPDATE and runs fn
// inside the same transaction.
func (r *PostgresRepository) WithLock(ctx context.Context, hash string, fn LockFunc) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities
        WHERE phone_hash = $1 AND active FOR UPDATE`, hash)
	var current *Identity
	ident, err := scanPostgres(row)
	switch {
	case err == nil:
		current = &ident
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if err := fn(ctx, current, &pgTx{tx: tx, now: r.now}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SweepExpired clears expired code fields.
func (r *PostgresRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE identities SET code = NULL, code_expires_at = NULL, updated_at = $2
        WHERE code_expires_at IS NOT NULL AND code_expires_at < $1`, now.UTC(), r.now().UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// Deactivate soft-deletes the identity.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	inactive := false
	return r.Update(ctx, id, Patch{Active: &inactive})
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type pgTx struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *pgTx) Update(ctx context.Context, id string, patch Patch) error {
	return updatePostgres(ctx, t.tx, id, patch, t.now())
}

func updatePostgres(ctx context.Context, db pgExecer, id string, patch Patch, now time.Time) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	b := &binder{format: dollar}
	b.bind(parsed)
	set := setClause(patch, now, b.bind, func(t time.Time) any { return t.UTC() })

	cmd, err := db.Exec(ctx, `UPDATE identities SET `+set+` WHERE id = $1`, b.args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPostgres(row pgx.Row) (Identity, error) {
	var (
		id        uuid.UUID
		role      string
		code      *string
		codeExp   *time.Time
		lastSent  *time.Time
		createdAt time.Time
		updatedAt time.Time
		ident     Identity
	)
	err := row.Scan(&id, &ident.PhoneCiphertext, &ident.PhoneHash, &ident.Nickname, &role, &code, &codeExp,
		&lastSent, &ident.Active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	ident.ID = id.String()
	ident.Role = Role(role)
	if code != nil && codeExp != nil {
		ident.Code = &PendingCode{Value: *code, ExpiresAt: codeExp.UTC()}
	}
	if lastSent != nil {
		t := lastSent.UTC()
		ident.LastCodeSentAt = &t
	}
	ident.CreatedAt = createdAt.UTC()
	ident.UpdatedAt = updatedAt.UTC()
	return ident, nil
}
