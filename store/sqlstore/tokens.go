package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/adminauth/verification"
)

const replaceAttempts = 3

func tokenErr(err error) error {
	return fmt.Errorf("%w: %v", verification.ErrStoreUnavailable, err)
}

const tokenColumns = `id, user_id, token_hash, kind, expires_at_ms, created_at_ms`

const insertToken = `INSERT INTO verification_tokens (` + tokenColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

func tokenArgs(rec verification.Record) []any {
	return []any{rec.ID, rec.UserID, rec.TokenHash, string(rec.Kind), rec.ExpiresAt.UnixMilli(), rec.CreatedAt.UnixMilli()}
}

func (s *Store) Create(ctx context.Context, rec verification.Record) error {
	if _, err := s.db.ExecContext(ctx, s.q(insertToken), tokenArgs(rec)...); err != nil {
		return tokenErr(err)
	}
	return nil
}

// Replace deletes the user's tokens of rec.Kind and inserts rec in one
// transaction. A partial unique index keeps at most one password reset
// token per user; a transaction losing that race is retried.
func (s *Store) Replace(ctx context.Context, rec verification.Record) error {
	var err error
	for i := 0; i < replaceAttempts; i++ {
		err = WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM verification_tokens WHERE user_id = ? AND kind = ?`),
				rec.UserID, string(rec.Kind)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, s.q(insertToken), tokenArgs(rec)...)
			return err
		})
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return tokenErr(err)
	}
	return nil
}

func (s *Store) FindActive(ctx context.Context, tokenHash string, kind verification.Kind, now time.Time) (*verification.Record, error) {
	return s.findToken(ctx, s.q(`SELECT `+tokenColumns+` FROM verification_tokens
		WHERE token_hash = ? AND kind = ? AND expires_at_ms > ?`), tokenHash, string(kind), now.UnixMilli())
}

func (s *Store) Find(ctx context.Context, tokenHash string, kind verification.Kind) (*verification.Record, error) {
	return s.findToken(ctx, s.q(`SELECT `+tokenColumns+` FROM verification_tokens
		WHERE token_hash = ? AND kind = ?`), tokenHash, string(kind))
}

func (s *Store) findToken(ctx context.Context, query string, args ...any) (*verification.Record, error) {
	var (
		rec                  verification.Record
		kind                 string
		expiresMs, createdMs int64
	)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&rec.ID, &rec.UserID, &rec.TokenHash, &kind, &expiresMs, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, tokenErr(err)
	}
	rec.Kind = verification.Kind(kind)
	rec.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &rec, nil
}

// Delete reports whether a row was removed, so concurrent consumers of the
// same token see exactly one success.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM verification_tokens WHERE id = ?`), id)
	if err != nil {
		return false, tokenErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, tokenErr(err)
	}
	return n > 0, nil
}

func (s *Store) DeleteByUser(ctx context.Context, userID string, kind verification.Kind) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM verification_tokens WHERE user_id = ? AND kind = ?`),
		userID, string(kind)); err != nil {
		return tokenErr(err)
	}
	return nil
}

// PurgeExpired removes tokens expired at now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM verification_tokens WHERE expires_at_ms <= ?`), now.UnixMilli())
	if err != nil {
		return 0, tokenErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, tokenErr(err)
	}
	return int(n), nil
}
