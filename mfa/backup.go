package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// BackupCodeCount is the number of codes issued per enablement.
	BackupCodeCount = 8
	// BackupCodeDigits is the length of each code.
	BackupCodeDigits = 8
)

var backupCodeSpace = big.NewInt(100_000_000)

// GenerateBackupCodes returns BackupCodeCount independent random codes of
// BackupCodeDigits digits. Duplicates within a set are not filtered.
func GenerateBackupCodes() ([]string, error) {
	codes := make([]string, BackupCodeCount)
	for i := range codes {
		n, err := rand.Int(rand.Reader, backupCodeSpace)
		if err != nil {
			return nil, err
		}
		codes[i] = fmt.Sprintf("%0*d", BackupCodeDigits, n.Int64())
	}
	return codes, nil
}

// HashBackupCode returns the hex SHA-256 digest stored in place of code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// HashBackupCodes hashes every code in order.
func HashBackupCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = HashBackupCode(c)
	}
	return out
}

// MatchBackupCode returns the index of the stored hash matching code, or -1.
// Every entry is compared so timing does not depend on the match position.
func MatchBackupCode(code string, hashes []string) int {
	candidate := []byte(HashBackupCode(code))
	match := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare(candidate, []byte(h)) == 1 && match < 0 {
			match = i
		}
	}
	return match
}

func normalizeBackupCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), "-", "")
}
