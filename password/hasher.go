// Package password hashes and verifies account credentials.
//
// Two adaptive algorithms are provided: [Bcrypt] (the default, cost 12) and
// [Argon2] (argon2id in PHC string form). [Multi] hashes with a preferred
// algorithm and verifies digests produced by either, which lets stored
// credentials migrate on the next successful login.
package password

import "errors"

// DefaultMinLength is the shortest plaintext accepted by Hash.
const DefaultMinLength = 8

// MaxLength is the longest plaintext accepted by Hash, bcrypt's input limit.
// Both algorithms enforce it.
const MaxLength = 72

var (
	// ErrTooShort is returned by Hash when the plaintext is below the minimum length.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned by Hash when the plaintext exceeds MaxLength bytes.
	ErrTooLong = errors.New("password too long")
	// ErrUnsupportedDigest is returned when a digest is not in a recognised format.
	ErrUnsupportedDigest = errors.New("unsupported password digest")
)

// IsPolicyError reports whether err is a plaintext length violation.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrTooShort) || errors.Is(err, ErrTooLong)
}

// Hasher is implemented by every algorithm in this package.
//
// Verify reports false with a nil error for a wrong password; an error
// means the digest itself could not be interpreted.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) (bool, error)
	NeedsUpgrade(digest string) (bool, error)
}

func checkLength(plaintext string, min int) error {
	if min <= 0 {
		min = DefaultMinLength
	}
	// Raw string bytes exactly as provided, no Unicode normalization.
	if len(plaintext) < min {
		return ErrTooShort
	}
	if len(plaintext) > MaxLength {
		return ErrTooLong
	}
	return nil
}
