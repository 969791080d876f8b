package adminauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/password"
	"github.com/MrEthical07/adminauth/verification"
)

// RequestPasswordReset mails a reset link to email. Issuing a new token
// invalidates every earlier reset token of the user.
//
// The result does not reveal whether an account exists: unknown or inactive
// emails and mail delivery failures return nil. Only rate limiting and
// backend failures surface as errors.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	if err := e.checkLimit(ctx, e.resetLimiter, email, ""); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetRequest)
	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		return unavailable(err)
	}
	if user == nil || !user.Active {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", ErrUserNotFound, nil)
		return nil
	}

	issued, err := e.tokens.Issue(ctx, user.ID, verification.KindPasswordReset)
	if err != nil {
		return unavailable(err)
	}
	msg, err := e.renderer.PasswordReset(user.Email, issued.Token, e.tokens.TTL(verification.KindPasswordReset))
	if err != nil {
		return err
	}
	if err := mail.Deliver(ctx, e.mailer, msg); err != nil {
		e.metricInc(MetricMailDeliveryFailure)
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("password reset mail not delivered")
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.ID, err, nil)
		return nil
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, nil, nil)
	return nil
}

// ConfirmPasswordReset sets a new password using a reset token. The token
// is consumed before the password changes, so a token can change the
// password at most once. A password rejected by policy leaves the token
// usable.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	handle, err := e.tokens.Verify(ctx, token, verification.KindPasswordReset)
	if err != nil {
		return e.passwordResetFailed(ctx, "", err)
	}
	userID := handle.Record().UserID

	digest, err := e.hasher.Hash(newPassword)
	if err != nil {
		if password.IsPolicyError(err) {
			err = fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return e.passwordResetFailed(ctx, userID, err)
	}

	if err := handle.Consume(ctx); err != nil {
		return e.passwordResetFailed(ctx, userID, err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, digest); err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			err = unavailable(err)
		}
		return e.passwordResetFailed(ctx, userID, err)
	}

	if user, err := e.users.FindUserByID(ctx, userID); err == nil && user != nil {
		e.clearLimit(ctx, e.loginLimiter, normalizeEmail(user.Email))
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, userID, nil, nil)
	return nil
}

func (e *Engine) passwordResetFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricPasswordResetConfirmFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, err, nil)
	if errors.Is(err, verification.ErrStoreUnavailable) {
		return unavailable(err)
	}
	return err
}
