package adminauth

import (
	"context"
	"errors"
	"slices"
	"strconv"

	"github.com/MrEthical07/adminauth/mfa"
)

// BeginMFASetup issues a fresh TOTP secret for userID and holds it pending
// until ConfirmMFASetup. Calling it again replaces the pending secret.
func (e *Engine) BeginMFASetup(ctx context.Context, userID string) (*MFASetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	_, secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	ttl := e.config.MFA.PendingTTL
	if err := e.pending.Save(ctx, user.ID, secret, ttl); err != nil {
		return nil, unavailable(err)
	}

	setup := &MFASetup{
		Secret:       secret,
		ProvisionURI: e.totp.ProvisionURI(secret, user.Email),
		ExpiresAt:    e.now().Add(ttl),
	}
	if size := e.config.MFA.QRCodeSize; size > 0 {
		png, err := e.totp.QRCodePNG(secret, user.Email, size)
		if err != nil {
			e.log.Warn().Err(err).Str("user_id", user.ID).Msg("qr code render failed")
		} else {
			setup.QRCodePNG = png
		}
	}

	e.emitAudit(ctx, auditEventMFASetupRequested, true, user.ID, nil, nil)
	return setup, nil
}

// ConfirmMFASetup enables MFA when code matches the pending secret at the
// current step and returns the plaintext backup codes. They are not
// retrievable afterwards. A wrong code leaves MFA disabled and the setup
// pending.
func (e *Engine) ConfirmMFASetup(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.checkLimit(ctx, e.mfaLimiter, userID, userID); err != nil {
		return nil, err
	}

	secret, err := e.pending.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, mfa.ErrNotPending) {
			return nil, ErrMFANotPending
		}
		return nil, unavailable(err)
	}
	raw, err := mfa.DecodeSecret(secret)
	if err != nil {
		return nil, err
	}
	if !e.totp.Valid(raw, code, e.now()) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, userID, ErrInvalidMFACode, func() map[string]string {
			return map[string]string{"stage": "setup"}
		})
		return nil, ErrInvalidMFACode
	}

	codes, err := mfa.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	state := MFAState{
		Secret:           secret,
		Enabled:          true,
		BackupCodeHashes: mfa.HashBackupCodes(codes),
	}
	if err := e.mfaStore.SaveMFAState(ctx, userID, state); err != nil {
		return nil, unavailable(err)
	}
	if err := e.users.SetMFAEnabled(ctx, userID, true); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	if err := e.pending.Delete(ctx, userID); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("pending mfa secret not removed")
	}
	e.clearLimit(ctx, e.mfaLimiter, userID)

	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, userID, nil, nil)
	return codes, nil
}

// VerifyMFA checks code as a TOTP code and, failing that, as a backup code.
// A matching backup code is consumed.
func (e *Engine) VerifyMFA(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, err := e.checkSecondFactor(ctx, userID, code, code)
	return err
}

// DisableMFA removes the second factor of userID in one step.
func (e *Engine) DisableMFA(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}

	if err := e.mfaStore.DeleteMFAState(ctx, userID); err != nil {
		return unavailable(err)
	}
	if err := e.users.SetMFAEnabled(ctx, userID, false); err != nil {
		return unavailable(err)
	}
	if err := e.pending.Delete(ctx, userID); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("pending mfa secret not removed")
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, userID, nil, nil)
	return nil
}

// RegenerateBackupCodes replaces all backup codes of userID. A current TOTP
// code is required.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.checkLimit(ctx, e.mfaLimiter, userID, userID); err != nil {
		return nil, err
	}
	state, err := e.enabledMFAState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !e.totpMatches(state, totpCode) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, userID, ErrInvalidMFACode, func() map[string]string {
			return map[string]string{"stage": "regenerate_backup_codes"}
		})
		return nil, ErrInvalidMFACode
	}

	codes, err := mfa.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	state.BackupCodeHashes = mfa.HashBackupCodes(codes)
	if err := e.mfaStore.SaveMFAState(ctx, userID, *state); err != nil {
		return nil, unavailable(err)
	}
	e.clearLimit(ctx, e.mfaLimiter, userID)

	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, nil, nil)
	return codes, nil
}

// checkSecondFactor verifies totpCode, then backupCode. The limiter is
// charged once per call.
func (e *Engine) checkSecondFactor(ctx context.Context, userID, totpCode, backupCode string) (bool, error) {
	if err := e.checkLimit(ctx, e.mfaLimiter, userID, userID); err != nil {
		return false, err
	}
	state, err := e.enabledMFAState(ctx, userID)
	if err != nil {
		return false, err
	}

	if totpCode != "" && e.totpMatches(state, totpCode) {
		e.clearLimit(ctx, e.mfaLimiter, userID)
		e.metricInc(MetricMFASuccess)
		e.emitAudit(ctx, auditEventMFASuccess, true, userID, nil, nil)
		return false, nil
	}

	if backupCode != "" {
		used, err := e.consumeBackupCode(ctx, userID, state, backupCode)
		if err != nil {
			return false, err
		}
		if used {
			e.clearLimit(ctx, e.mfaLimiter, userID)
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, nil, func() map[string]string {
				return map[string]string{"remaining": strconv.Itoa(max(len(state.BackupCodeHashes)-1, 0))}
			})
			return true, nil
		}
	}

	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, userID, ErrInvalidMFACode, nil)
	return false, ErrInvalidMFACode
}

func (e *Engine) enabledMFAState(ctx context.Context, userID string) (*MFAState, error) {
	state, err := e.mfaStore.GetMFAState(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	if state == nil || !state.Enabled {
		return nil, ErrMFANotEnabled
	}
	return state, nil
}

func (e *Engine) totpMatches(state *MFAState, code string) bool {
	raw, err := mfa.DecodeSecret(state.Secret)
	if err != nil {
		e.log.Error().Err(err).Msg("stored totp secret unreadable")
		return false
	}
	return e.totp.Valid(raw, code, e.now())
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID string, state *MFAState, code string) (bool, error) {
	if c, ok := e.mfaStore.(BackupCodeConsumer); ok {
		used, err := c.ConsumeBackupCode(ctx, userID, code)
		if err != nil {
			return false, unavailable(err)
		}
		return used, nil
	}

	idx := mfa.MatchBackupCode(code, state.BackupCodeHashes)
	if idx < 0 {
		return false, nil
	}
	next := *state
	next.BackupCodeHashes = slices.Delete(slices.Clone(state.BackupCodeHashes), idx, idx+1)
	if err := e.mfaStore.SaveMFAState(ctx, userID, next); err != nil {
		return false, unavailable(err)
	}
	return true, nil
}
