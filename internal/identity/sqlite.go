package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// SQLiteRepository implements Repository over an embedded SQLite database.
//
// The handle must be opened with immediate transactions (see infra.OpenSQLite)
// so that WithLock holds the database write lock from BEGIN onwards; SQLite
// has no row-level locks, so the whole database serializes for the duration
// of the callback.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteRepository builds an SQLite-backed identity repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts a new identity. A taken phone hash yields ErrDuplicate.
func (r *SQLiteRepository) Create(ctx context.Context, ident Identity) (Identity, error) {
	var code sql.NullString
	var codeExp sql.NullInt64
	if ident.Code != nil {
		code = sql.NullString{String: ident.Code.Value, Valid: true}
		codeExp = sql.NullInt64{Int64: toMillis(ident.Code.ExpiresAt), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO identities (id, phone_ciphertext, phone_hash, nickname, role, code,
        code_expires_at, last_code_sent_at, active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ident.ID, ident.PhoneCiphertext, ident.PhoneHash, nullString(ident.Nickname), string(ident.Role), code,
		codeExp, nullMillis(ident.LastCodeSentAt), ident.Active, toMillis(ident.CreatedAt), toMillis(ident.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return Identity{}, ErrDuplicate
		}
		return Identity{}, err
	}
	return ident, nil
}

// FindByHash fetches an identity by phone hash.
func (r *SQLiteRepository) FindByHash(ctx context.Context, hash string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE phone_hash = ?`, hash)
	return scanSQLite(row)
}

// FindByID fetches an active identity by id.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ? AND active = 1`, id)
	return scanSQLite(row)
}

// Update applies a partial update to the identity row.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch Patch) error {
	return updateSQLite(ctx, r.db, id, patch, r.now())
}

// WithLock runs fn inside an immediate transaction.
func (r *SQLiteRepository) WithLock(ctx context.Context, hash string, fn LockFunc) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities
        WHERE phone_hash = ? AND active = 1`, hash)
	var current *Identity
	ident, err := scanSQLite(row)
	switch {
	case err == nil:
		current = &ident
	case errors.Is(err, ErrNotFound):
		err = nil
	default:
		return err
	}

	err = fn(ctx, current, &sqliteTx{tx: tx, now: r.now})
	return err
}

// SweepExpired clears expired code fields.
func (r *SQLiteRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET code = NULL, code_expires_at = NULL, updated_at = ?
        WHERE code_expires_at IS NOT NULL AND code_expires_at < ?`, toMillis(r.now()), toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Deactivate soft-deletes the identity.
func (r *SQLiteRepository) Deactivate(ctx context.Context, id string) error {
	inactive := false
	return r.Update(ctx, id, Patch{Active: &inactive})
}

// Ping checks database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) Update(ctx context.Context, id string, patch Patch) error {
	return updateSQLite(ctx, t.tx, id, patch, t.now())
}

func updateSQLite(ctx context.Context, db sqlExecer, id string, patch Patch, now time.Time) error {
	b := &binder{format: question}
	set := setClause(patch, now, b.bind, func(t time.Time) any { return toMillis(t) })
	b.bind(id)

	res, err := db.ExecContext(ctx, `UPDATE identities SET `+set+` WHERE id = ?`, b.args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLite(row *sql.Row) (Identity, error) {
	var (
		ident     Identity
		nickname  sql.NullString
		role      string
		code      sql.NullString
		codeExp   sql.NullInt64
		lastSent  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&ident.ID, &ident.PhoneCiphertext, &ident.PhoneHash, &nickname, &role, &code, &codeExp,
		&lastSent, &ident.Active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	if nickname.Valid {
		ident.Nickname = &nickname.String
	}
	ident.Role = Role(role)
	if code.Valid && codeExp.Valid {
		ident.Code = &PendingCode{Value: code.String, ExpiresAt: fromMillis(codeExp.Int64)}
	}
	if lastSent.Valid {
		t := fromMillis(lastSent.Int64)
		ident.LastCodeSentAt = &t
	}
	ident.CreatedAt = fromMillis(createdAt)
	ident.UpdatedAt = fromMillis(updatedAt)
	return ident, nil
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
