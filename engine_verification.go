package adminauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/verification"
)

// RequestEmailVerification issues a verification token for userID and mails
// the confirmation link. Requests are rate limited per user.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.checkLimit(ctx, e.verifyLimiter, userID, userID); err != nil {
		return err
	}

	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.Verified {
		return ErrAlreadyVerified
	}

	issued, err := e.tokens.Issue(ctx, user.ID, verification.KindEmailVerification)
	if err != nil {
		return unavailable(err)
	}
	msg, err := e.renderer.Verification(user.Email, issued.Token, e.tokens.TTL(verification.KindEmailVerification))
	if err != nil {
		return err
	}

	e.metricInc(MetricEmailVerificationRequest)
	if err := mail.Deliver(ctx, e.mailer, msg); err != nil {
		e.metricInc(MetricMailDeliveryFailure)
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("verification mail not delivered")
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, user.ID, err, nil)
		return err
	}

	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.ID, nil, nil)
	return nil
}

// ConfirmEmailVerification marks the token's user verified and consumes the
// token. It returns the verified user's id.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	handle, err := e.tokens.Verify(ctx, token, verification.KindEmailVerification)
	if err != nil {
		return "", e.emailVerificationFailed(ctx, "", err)
	}
	userID := handle.Record().UserID

	if err := e.users.MarkVerified(ctx, userID); err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			err = unavailable(err)
		}
		return "", e.emailVerificationFailed(ctx, userID, err)
	}
	if err := handle.Consume(ctx); err != nil {
		return "", e.emailVerificationFailed(ctx, userID, err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, userID, nil, nil)
	return userID, nil
}

func (e *Engine) emailVerificationFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, userID, err, nil)
	if errors.Is(err, verification.ErrStoreUnavailable) {
		return unavailable(err)
	}
	return err
}
