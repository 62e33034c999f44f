package repository

import (
	"context"
	"database/sql"
	"time"
)

// TokenRepo persists refresh tokens by their SHA-256 hash.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)",
		userID, tokenHash, exp)
	return err
}

// ValidateRefresh returns the owning user id if a non-revoked,
// non-expired token exists, ErrNotFound otherwise.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (string, error) {
	return validateRefresh(ctx, r.DB, tokenHash, false)
}

// Rotate revokes oldHash and stores newHash in one transaction.  It
// returns the owning user id, or ErrNotFound when oldHash is not a live
// token, so a refresh token can be exchanged at most once.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash, newHash string, exp time.Time) (string, error) {
	var userID string
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		uid, err := validateRefresh(ctx, tx, oldHash, true)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked_at=NOW() WHERE token_hash=?", oldHash); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)",
			uid, newHash, exp); err != nil {
			return err
		}
		userID = uid
		return nil
	})
	return userID, err
}

// RevokeByHash marks a token as revoked and returns its owner.  It
// returns ErrNotFound when the token was unknown or already revoked.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id FROM refresh_tokens WHERE token_hash=? AND revoked_at IS NULL LIMIT 1",
		tokenHash).Scan(&userID)
	if err != nil {
		return "", notFound(err)
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW() WHERE token_hash=? AND revoked_at IS NULL",
		tokenHash)
	return userID, err
}

// RevokeAllForUser revokes all of the user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW() WHERE user_id=? AND revoked_at IS NULL",
		userID)
	return err
}

func validateRefresh(ctx context.Context, q queryer, tokenHash string, lock bool) (string, error) {
	var (
		userID    string
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	query := "SELECT user_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash=? LIMIT 1"
	if lock {
		query += " FOR UPDATE"
	}
	err := q.QueryRowContext(ctx, query, tokenHash).Scan(&userID, &expiresAt, &revokedAt)
	if err != nil {
		return "", notFound(err)
	}
	if revokedAt.Valid || time.Now().UTC().After(expiresAt) {
		return "", ErrNotFound
	}
	return userID, nil
}
