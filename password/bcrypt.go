package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when BcryptConfig.Cost is zero.
const DefaultBcryptCost = 12

// BcryptConfig configures [Bcrypt].
type BcryptConfig struct {
	Cost      int
	MinLength int
}

// Bcrypt hashes with the blowfish-based bcrypt KDF.
type Bcrypt struct {
	config BcryptConfig
}

// NewBcrypt validates cfg and returns a hasher.
func NewBcrypt(cfg BcryptConfig) (*Bcrypt, error) {
	if cfg.Cost == 0 {
		cfg.Cost = DefaultBcryptCost
	}
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = DefaultMinLength
	}
	return &Bcrypt{config: cfg}, nil
}

func (b *Bcrypt) Hash(plaintext string) (string, error) {
	if err := checkLength(plaintext, b.config.MinLength); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.config.Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify delegates to bcrypt.CompareHashAndPassword, which compares in
// constant time using the digest's own salt and cost.
func (b *Bcrypt) Verify(plaintext, digest string) (bool, error) {
	if len(plaintext) > MaxLength {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
	}
}

func (b *Bcrypt) NeedsUpgrade(digest string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
	}
	return cost < b.config.Cost, nil
}

func isBcryptDigest(digest string) bool {
	if len(digest) < 4 || digest[0] != '$' || digest[1] != '2' {
		return false
	}
	switch digest[2] {
	case '$':
		return true
	case 'a', 'b', 'x', 'y':
		return digest[3] == '$'
	}
	return false
}
