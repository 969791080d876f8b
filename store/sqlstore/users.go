package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/mfa"
)

const consumeAttempts = 5

// Store implements adminauth.UserStore, adminauth.MFAStore and
// verification.Store over one database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db. The schema must already exist (see Migrate).
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", adminauth.ErrBackendUnavailable, err)
}

const userColumns = `id, email, role, business_id, password_hash, verified, mfa_enabled, active`

func scanUser(row *sql.Row) (*adminauth.User, error) {
	var u adminauth.User
	err := row.Scan(&u.ID, &u.Email, &u.Role, &u.BusinessID, &u.PasswordHash, &u.Verified, &u.MFAEnabled, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr(err)
	}
	return &u, nil
}

// CreateUser inserts u. The email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, u adminauth.User) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO admin_users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, normalizeEmail(u.Email), u.Role, u.BusinessID, u.PasswordHash, u.Verified, u.MFAEnabled, u.Active)
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*adminauth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM admin_users WHERE id = ?`), id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*adminauth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM admin_users WHERE email = ?`), normalizeEmail(email)))
}

func (s *Store) MarkVerified(ctx context.Context, id string) error {
	return s.updateUser(ctx, `UPDATE admin_users SET verified = ? WHERE id = ?`, true, id)
}

func (s *Store) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	return s.updateUser(ctx, `UPDATE admin_users SET mfa_enabled = ? WHERE id = ?`, enabled, id)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.updateUser(ctx, `UPDATE admin_users SET password_hash = ? WHERE id = ?`, hash, id)
}

// SetActive enables or disables a user account.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateUser(ctx, `UPDATE admin_users SET active = ? WHERE id = ?`, active, id)
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return backendErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backendErr(err)
	}
	if n == 0 {
		return adminauth.ErrUserNotFound
	}
	return nil
}

func (s *Store) GetMFAState(ctx context.Context, userID string) (*adminauth.MFAState, error) {
	var (
		state  adminauth.MFAState
		hashes string
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT secret, enabled, backup_code_hashes FROM admin_mfa WHERE user_id = ?`), userID).
		Scan(&state.Secret, &state.Enabled, &hashes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr(err)
	}
	if err := json.Unmarshal([]byte(hashes), &state.BackupCodeHashes); err != nil {
		return nil, fmt.Errorf("decode backup code hashes: %w", err)
	}
	return &state, nil
}

// SaveMFAState upserts the state for userID.
func (s *Store) SaveMFAState(ctx context.Context, userID string, state adminauth.MFAState) error {
	hashes := state.BackupCodeHashes
	if hashes == nil {
		hashes = []string{}
	}
	encoded, err := json.Marshal(hashes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO admin_mfa (user_id, secret, enabled, backup_code_hashes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			secret = excluded.secret,
			enabled = excluded.enabled,
			backup_code_hashes = excluded.backup_code_hashes`),
		userID, state.Secret, state.Enabled, string(encoded))
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *Store) DeleteMFAState(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM admin_mfa WHERE user_id = ?`), userID); err != nil {
		return backendErr(err)
	}
	return nil
}

// ConsumeBackupCode removes the backup code matching code. The update only
// applies if the stored list is unchanged since it was read, so two
// concurrent logins cannot both spend one code.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	for i := 0; i < consumeAttempts; i++ {
		var current string
		err := s.db.QueryRowContext(ctx, s.q(`SELECT backup_code_hashes FROM admin_mfa WHERE user_id = ? AND enabled = ?`), userID, true).
			Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, backendErr(err)
		}

		var hashes []string
		if err := json.Unmarshal([]byte(current), &hashes); err != nil {
			return false, fmt.Errorf("decode backup code hashes: %w", err)
		}
		idx := mfa.MatchBackupCode(code, hashes)
		if idx < 0 {
			return false, nil
		}
		remaining, err := json.Marshal(append(hashes[:idx:idx], hashes[idx+1:]...))
		if err != nil {
			return false, err
		}

		res, err := s.db.ExecContext(ctx, s.q(`UPDATE admin_mfa SET backup_code_hashes = ?
			WHERE user_id = ? AND backup_code_hashes = ?`), string(remaining), userID, current)
		if err != nil {
			return false, backendErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, backendErr(err)
		}
		if n == 1 {
			return true, nil
		}
	}
	return false, backendErr(errors.New("backup code update contended"))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
