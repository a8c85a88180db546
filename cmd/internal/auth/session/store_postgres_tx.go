package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// createForLoginTx is the login write path. Order matters:
//  1. lock the user row (serializes concurrent logins for this user),
//  2. delete prior sessions,
//  3. insert the replacement,
//  4. stamp last_login_at while the lock is held.
func (s *PostgresStore) createForLoginTx(ctx context.Context, tx pgx.Tx, now time.Time, userID int64, accessToken, refreshToken string, expiresAt time.Time) (Row, error) {
	var locked int64
	err := tx.QueryRow(ctx,
		`SELECT user_id FROM `+s.usersTable()+` WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+s.sessionsTable()+` WHERE user_id = $1`,
		userID,
	); err != nil {
		return Row{}, err
	}

	var row Row
	err = tx.QueryRow(ctx,
		`INSERT INTO `+s.sessionsTable()+` (user_id, access_token, refresh_token, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+sessionColumns,
		userID, accessToken, refreshToken, expiresAt, now,
	).Scan(scanSessionDest(&row)...)
	if err != nil {
		return Row{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.usersTable()+` SET last_login_at = $1 WHERE user_id = $2`,
		now, userID,
	); err != nil {
		return Row{}, err
	}

	return row, nil
}

// rotateTx locks the session row by refresh token, applies lazy expiry,
// and swaps both tokens with a compare-and-swap on the old refresh token.
// The CAS looks redundant under the row lock, but it is what makes the
// consumed-token guarantee hold even if the locking read is ever
// loosened or the statement is reused outside this transaction shape.
func (s *PostgresStore) rotateTx(ctx context.Context, tx pgx.Tx, now time.Time, oldRefresh, newAccess, newRefresh string, newExpiresAt time.Time) (Row, error) {
	var current Row
	err := tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.sessionsTable()+`
		  WHERE refresh_token = $1
		  FOR UPDATE`,
		oldRefresh,
	).Scan(scanSessionDest(&current)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	if !current.ExpiresAt.After(now) {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+s.sessionsTable()+` WHERE session_id = $1`,
			current.SessionID,
		); err != nil {
			return Row{}, err
		}
		return Row{}, ErrSessionExpired
	}

	ct, err := tx.Exec(ctx,
		`UPDATE `+s.sessionsTable()+`
		    SET access_token = $1,
		        refresh_token = $2,
		        expires_at = $3
		  WHERE session_id = $4
		    AND refresh_token = $5`,
		newAccess, newRefresh, newExpiresAt, current.SessionID, oldRefresh,
	)
	if err != nil {
		return Row{}, err
	}
	if ct.RowsAffected() != 1 {
		return Row{}, ErrSessionNotFound
	}

	current.AccessToken = newAccess
	current.RefreshToken = newRefresh
	current.ExpiresAt = newExpiresAt
	return current, nil
}
