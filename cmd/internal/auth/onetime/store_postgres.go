package onetime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists single-use tokens in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "public").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("onetime: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("onetime: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "auth_tokens"}.Sanitize()
}

const tokenColumns = `token_id, user_id, token, purpose, expires_at, created_at`

// Create inserts a token row.
func (s *PostgresStore) Create(ctx context.Context, userID int64, value string, purpose Purpose, createdAt, expiresAt time.Time) (Token, error) {
	var out Token
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (user_id, token, purpose, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+tokenColumns,
		userID, value, string(purpose), expiresAt, createdAt,
	).Scan(scanTokenDest(&out)...)
	if err != nil {
		return Token{}, err
	}
	return out, nil
}

// Get finds a token by purpose and value.
func (s *PostgresStore) Get(ctx context.Context, purpose Purpose, value string) (Token, error) {
	var out Token
	err := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM `+s.table()+`
		  WHERE purpose = $1 AND token = $2`,
		string(purpose), value,
	).Scan(scanTokenDest(&out)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		return Token{}, err
	}
	return out, nil
}

// GetForUser finds a token scoped to one user.
func (s *PostgresStore) GetForUser(ctx context.Context, purpose Purpose, userID int64, value string) (Token, error) {
	var out Token
	err := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM `+s.table()+`
		  WHERE purpose = $1 AND user_id = $2 AND token = $3`,
		string(purpose), userID, value,
	).Scan(scanTokenDest(&out)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		return Token{}, err
	}
	return out, nil
}

// Consume deletes the row; the row count is the race arbiter.
func (s *PostgresStore) Consume(ctx context.Context, tokenID int64) (bool, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE token_id = $1`,
		tokenID,
	)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Delete removes a row unconditionally.
func (s *PostgresStore) Delete(ctx context.Context, tokenID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE token_id = $1`,
		tokenID,
	)
	return err
}

func scanTokenDest(t *Token) []any {
	return []any{
		&t.TokenID,
		&t.UserID,
		&t.Value,
		&t.Purpose,
		&t.ExpiresAt,
		&t.CreatedAt,
	}
}
