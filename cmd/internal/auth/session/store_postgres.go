package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements session persistence over PostgreSQL.
//
// English design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - CreateForLogin and Rotate open their own transactions; everything
//     else is a single statement.
//   - Concurrent logins serialize on the user row (SELECT ... FOR UPDATE),
//     concurrent rotations on the session row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the session store (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("session: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) sessionsTable() string {
	return pgx.Identifier{s.schema, "user_sessions"}.Sanitize()
}

func (s *PostgresStore) usersTable() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

const sessionColumns = `session_id, user_id, access_token, refresh_token, expires_at, created_at`

// CreateForLogin implements the single-active-session policy in one
// transaction. The user-row lock is the serialization point: concurrent
// logins for the same user queue up on it, each wipes the previous rows
// before inserting its own, so exactly one row remains after the dust
// settles.
func (s *PostgresStore) CreateForLogin(ctx context.Context, now time.Time, userID int64, accessToken, refreshToken string, expiresAt time.Time) (Row, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Row{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := s.createForLoginTx(ctx, tx, now, userID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return Row{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Row{}, err
	}
	return row, nil
}

// GetByAccessToken loads a session row by access token.
func (s *PostgresStore) GetByAccessToken(ctx context.Context, accessToken string) (Row, error) {
	var row Row
	err := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.sessionsTable()+` WHERE access_token = $1`,
		accessToken,
	).Scan(scanSessionDest(&row)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Rotate performs in-place refresh rotation under a row lock plus a
// compare-and-swap on the old refresh token.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldRefresh, newAccess, newRefresh string, newExpiresAt time.Time) (Row, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Row{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := s.rotateTx(ctx, tx, now, oldRefresh, newAccess, newRefresh, newExpiresAt)
	if err != nil {
		// The lazy delete of an expired row must still commit.
		if errors.Is(err, ErrSessionExpired) {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return Row{}, commitErr
			}
		}
		return Row{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Row{}, err
	}
	return row, nil
}

// DeleteByID removes a single session row. Absent rows are fine.
func (s *PostgresStore) DeleteByID(ctx context.Context, sessionID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessionsTable()+` WHERE session_id = $1`,
		sessionID,
	)
	return err
}

// DeleteByAccessToken removes the session owning the token.
func (s *PostgresStore) DeleteByAccessToken(ctx context.Context, accessToken string) (bool, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessionsTable()+` WHERE access_token = $1`,
		accessToken,
	)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteAllForUser removes every session the user holds.
func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessionsTable()+` WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func scanSessionDest(r *Row) []any {
	return []any{
		&r.SessionID,
		&r.UserID,
		&r.AccessToken,
		&r.RefreshToken,
		&r.ExpiresAt,
		&r.CreatedAt,
	}
}
