package adminauth

import (
	"context"
	"time"

	"github.com/MrEthical07/adminauth/gateway"
	"github.com/MrEthical07/adminauth/session"
)

// User is the account record the engine reads and updates through UserStore.
type User struct {
	ID           string
	Email        string
	Role         string
	BusinessID   string
	Verified     bool
	MFAEnabled   bool
	PasswordHash string
	Active       bool
}

// MFAState is the persisted second-factor configuration of one user.
type MFAState struct {
	// Secret is the base32 TOTP secret.
	Secret           string
	Enabled          bool
	BackupCodeHashes []string
}

// UserStore is implemented by the application's user persistence.
// Lookups return (nil, nil) for a missing user.
type UserStore interface {
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	MarkVerified(ctx context.Context, id string) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// MFAStore persists MFAState. GetMFAState returns (nil, nil) when the user
// has none.
type MFAStore interface {
	GetMFAState(ctx context.Context, userID string) (*MFAState, error)
	SaveMFAState(ctx context.Context, userID string, state MFAState) error
	DeleteMFAState(ctx context.Context, userID string) error
}

// BackupCodeConsumer is an optional MFAStore extension that removes a
// matching backup code atomically. Without it the engine falls back to
// load, match, save.
type BackupCodeConsumer interface {
	ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error)
}

// LoginRequest carries one login attempt. TOTPCode or BackupCode is
// required when the user has MFA enabled.
type LoginRequest struct {
	Email      string
	Password   string
	TOTPCode   string
	BackupCode string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	Claim     session.Claim
	ExpiresAt time.Time
	// UsedBackupCode is set when the second factor was a backup code.
	UsedBackupCode bool
}

// MFASetup is returned by BeginMFASetup. The secret stays pending until
// ConfirmMFASetup succeeds.
type MFASetup struct {
	Secret       string
	ProvisionURI string
	QRCodePNG    []byte
	ExpiresAt    time.Time
}

// Principal is the authenticated caller of a request.
type Principal = gateway.Principal
