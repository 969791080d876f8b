// Package adminauth is the identity layer of an administrative back office:
// signed session tokens, password hashing, TOTP second factor, single-use
// email verification and password reset tokens, and login rate limiting.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config] and the sentinel errors; the building blocks live in
// sub-packages (session, password, mfa, verification, ratelimit, gateway,
// mail) and can be used on their own.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. User and MFA persistence are supplied by the
// application through [UserStore] and [MFAStore]; store/sqlstore provides a
// database/sql implementation of both.
//
// # Flows
//
//   - Login: rate limit per email, password check, optional second factor,
//     session token mint.
//   - MFA: BeginMFASetup holds a fresh secret pending, ConfirmMFASetup
//     enables it with a current code and returns backup codes once.
//   - Email verification and password reset: opaque single-use tokens,
//     stored hashed, mailed as links.
//   - Authenticate: bearer header or cookie, token verified, user re-read.
package adminauth
