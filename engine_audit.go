package adminauth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/MrEthical07/adminauth/password"
	"github.com/MrEthical07/adminauth/ratelimit"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventMFARequired              = "mfa_required"
	auditEventMFASuccess               = "mfa_success"
	auditEventMFAFailure               = "mfa_failure"
	auditEventMFASetupRequested        = "mfa_setup_requested"
	auditEventMFAEnabled               = "mfa_enabled"
	auditEventMFADisabled              = "mfa_disabled"
	auditEventBackupCodeUsed           = "backup_code_used"
	auditEventBackupCodesGenerated     = "backup_codes_generated"
	auditEventPasswordHashUpgraded     = "password_hash_upgraded"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenUsed          AuditErrorCode = "token_not_found_or_used"
	auditErrAlreadyVerified    AuditErrorCode = "already_verified"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrUnauthenticated    AuditErrorCode = "unauthenticated"
	auditErrMFARequired        AuditErrorCode = "mfa_required"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrMFANotPending      AuditErrorCode = "mfa_not_pending"
	auditErrMFANotEnabled      AuditErrorCode = "mfa_not_enabled"
	auditErrMFAAlreadyEnabled  AuditErrorCode = "mfa_already_enabled"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrMailDelivery       AuditErrorCode = "mail_delivery_failed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	requestID := requestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		RequestID: requestID,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, userID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenNotFoundOrAlreadyUsed):
		return auditErrTokenUsed
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrInvalidMFACode):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFANotPending):
		return auditErrMFANotPending
	case errors.Is(err, ErrMFANotEnabled):
		return auditErrMFANotEnabled
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrMFAAlreadyEnabled
	case errors.Is(err, ErrPasswordPolicy), password.IsPolicyError(err):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrMailDeliveryFailed):
		return auditErrMailDelivery
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ratelimit.ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
