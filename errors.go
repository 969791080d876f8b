package adminauth

import (
	"errors"

	"github.com/MrEthical07/adminauth/gateway"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/mfa"
	"github.com/MrEthical07/adminauth/session"
	"github.com/MrEthical07/adminauth/verification"
)

// Errors shared with component packages are the same values, so errors.Is
// matches across layers.
var (
	// ErrInvalidToken is returned for any session token that fails verification.
	ErrInvalidToken = session.ErrInvalidToken
	// ErrTokenExpired is returned for a verification token past its expiry.
	ErrTokenExpired = verification.ErrTokenExpired
	// ErrTokenNotFoundOrAlreadyUsed is returned for unknown, consumed or superseded verification tokens.
	ErrTokenNotFoundOrAlreadyUsed = verification.ErrTokenNotFoundOrAlreadyUsed
	// ErrAlreadyVerified is returned when confirming the email of a verified user.
	ErrAlreadyVerified = verification.ErrAlreadyVerified
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = verification.ErrUserNotFound
	// ErrUnauthenticated is returned by Authenticate for any rejected request.
	ErrUnauthenticated = gateway.ErrUnauthenticated
	// ErrMFANotPending is returned by ConfirmMFASetup without a prior BeginMFASetup.
	ErrMFANotPending = mfa.ErrNotPending
	// ErrMailDeliveryFailed is returned when the mailer reports failure.
	ErrMailDeliveryFailed = mail.ErrDeliveryFailed

	ErrRateLimited        = errors.New("too many attempts")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrMFARequired        = errors.New("mfa code required")
	ErrMFANotEnabled      = errors.New("mfa not enabled")
	ErrMFAAlreadyEnabled  = errors.New("mfa already enabled")
	ErrPasswordPolicy     = errors.New("password policy violation")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrBackendUnavailable wraps failures of stores and other collaborators.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
)
