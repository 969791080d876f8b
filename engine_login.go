package adminauth

import (
	"context"
	"errors"
)

// Login authenticates an email and password, checks the second factor when
// the user has MFA enabled, and mints a session token.
//
// Attempts are counted per normalized email before anything else is
// checked, so the sixth attempt inside a window fails with ErrRateLimited
// even with the right password. A successful login clears the count.
// Unknown users, inactive users and wrong passwords all return
// ErrInvalidCredentials after a comparable amount of hashing work.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if err := e.checkLimit(ctx, e.loginLimiter, email, ""); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		return nil, err
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, unavailable(err)
	}
	if user == nil || !user.Active {
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		return nil, e.loginFailed(ctx, user, ErrInvalidCredentials)
	}

	ok, err := e.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("stored password digest unreadable")
	}
	if !ok {
		return nil, e.loginFailed(ctx, user, ErrInvalidCredentials)
	}

	var usedBackup bool
	if user.MFAEnabled {
		if req.TOTPCode == "" && req.BackupCode == "" {
			e.metricInc(MetricMFARequired)
			e.emitAudit(ctx, auditEventMFARequired, false, user.ID, ErrMFARequired, nil)
			return nil, ErrMFARequired
		}
		usedBackup, err = e.checkSecondFactor(ctx, user.ID, req.TOTPCode, req.BackupCode)
		if err != nil {
			return nil, e.loginFailed(ctx, user, err)
		}
	}

	e.clearLimit(ctx, e.loginLimiter, email)

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, req.Password)
	}

	token, claim, err := e.mint(user)
	if err != nil {
		return nil, e.loginFailed(ctx, user, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, nil, func() map[string]string {
		if !usedBackup {
			return nil
		}
		return map[string]string{"second_factor": "backup_code"}
	})

	return &LoginResult{
		Token:          token,
		Claim:          claim,
		ExpiresAt:      claim.ExpiresAt,
		UsedBackupCode: usedBackup,
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, user *User, err error) error {
	e.metricInc(MetricLoginFailure)
	userID := ""
	if user != nil {
		userID = user.ID
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, err, nil)
	return err
}

func (e *Engine) upgradePasswordHash(ctx context.Context, user *User, plaintext string) {
	upgrade, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	digest, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("password rehash failed")
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, digest); err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("password hash upgrade not stored")
		return
	}
	e.metricInc(MetricPasswordHashUpgraded)
	e.emitAudit(ctx, auditEventPasswordHashUpgraded, true, user.ID, nil, nil)
}
