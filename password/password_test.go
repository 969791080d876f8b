package password

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestBcrypt(t *testing.T) *Bcrypt {
	t.Helper()

	// MinCost keeps the suite fast; production uses DefaultBcryptCost.
	h, err := NewBcrypt(BcryptConfig{Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	return h
}

func newTestArgon2(t *testing.T) *Argon2 {
	t.Helper()

	h, err := NewArgon2(Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func TestBcryptRoundTrip(t *testing.T) {
	h := newTestBcrypt(t)

	digest, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(digest, "$2a$") {
		t.Fatalf("unexpected digest prefix: %q", digest)
	}

	ok, err := h.Verify("correct horse battery", digest)
	if err != nil || !ok {
		t.Fatalf("expected verify to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong horse battery", digest)
	if err != nil || ok {
		t.Fatalf("expected verify to fail cleanly, ok=%v err=%v", ok, err)
	}
}

func TestBcryptDefaultCost(t *testing.T) {
	h, err := NewBcrypt(BcryptConfig{})
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	if h.config.Cost != 12 {
		t.Fatalf("expected default cost 12, got %d", h.config.Cost)
	}

	weak := newTestBcrypt(t)
	digest, err := weak.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	upgrade, err := h.NeedsUpgrade(digest)
	if err != nil || !upgrade {
		t.Fatalf("expected low-cost digest to need upgrade, upgrade=%v err=%v", upgrade, err)
	}
}

func TestBcryptRejectsInvalidCost(t *testing.T) {
	if _, err := NewBcrypt(BcryptConfig{Cost: 40}); err == nil {
		t.Fatal("expected invalid cost to be rejected")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	if _, err := newTestBcrypt(t).Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort from bcrypt, got %v", err)
	}
	if _, err := newTestArgon2(t).Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort from argon2, got %v", err)
	}
}

func TestHashRejectsLongPassword(t *testing.T) {
	long := strings.Repeat("a", MaxLength+1)
	if _, err := newTestBcrypt(t).Hash(long); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong from bcrypt, got %v", err)
	}
	if _, err := newTestArgon2(t).Hash(long); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong from argon2, got %v", err)
	}
	if !IsPolicyError(ErrTooLong) || !IsPolicyError(ErrTooShort) {
		t.Fatal("expected both length errors to be policy errors")
	}

	digest, err := newTestBcrypt(t).Hash(strings.Repeat("a", MaxLength))
	if err != nil {
		t.Fatalf("Hash at the limit failed: %v", err)
	}
	ok, err := newTestBcrypt(t).Verify(long, digest)
	if err != nil || ok {
		t.Fatalf("expected over-long plaintext to mismatch without error, ok=%v err=%v", ok, err)
	}
}

func TestArgon2RoundTrip(t *testing.T) {
	h := newTestArgon2(t)

	digest, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC digest: %q", digest)
	}

	ok, err := h.Verify("correct horse battery", digest)
	if err != nil || !ok {
		t.Fatalf("expected verify to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong horse battery", digest)
	if err != nil || ok {
		t.Fatalf("expected verify to fail cleanly, ok=%v err=%v", ok, err)
	}
}

func TestArgon2SaltsDiffer(t *testing.T) {
	h := newTestArgon2(t)

	a, _ := h.Hash("correct horse battery")
	b, _ := h.Hash("correct horse battery")
	if a == b {
		t.Fatal("expected two hashes of the same password to differ")
	}
}

func TestArgon2RejectsMalformedDigests(t *testing.T) {
	h := newTestArgon2(t)

	cases := []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1,x=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaGhhc2hoYXNoaGFzaA",
	}
	for _, digest := range cases {
		if ok, err := h.Verify("correct horse battery", digest); err == nil || ok {
			t.Fatalf("expected malformed digest %q to be rejected, ok=%v err=%v", digest, ok, err)
		}
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := newTestArgon2(t)
	digest, err := weak.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	strong, err := NewArgon2(DefaultArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	upgrade, err := strong.NeedsUpgrade(digest)
	if err != nil || !upgrade {
		t.Fatalf("expected weaker digest to need upgrade, upgrade=%v err=%v", upgrade, err)
	}
	upgrade, err = weak.NeedsUpgrade(digest)
	if err != nil || upgrade {
		t.Fatalf("expected matching digest not to need upgrade, upgrade=%v err=%v", upgrade, err)
	}
}

func TestArgon2ConfigValidation(t *testing.T) {
	bad := []Argon2Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range bad {
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("case %d: expected config to be rejected", i)
		}
	}
}

func TestMultiVerifiesBothFormats(t *testing.T) {
	b := newTestBcrypt(t)
	a := newTestArgon2(t)
	m := &Multi{Preferred: b, Bcrypt: b, Argon2: a}

	legacy, err := a.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("argon2 Hash failed: %v", err)
	}
	current, err := m.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("multi Hash failed: %v", err)
	}

	for _, digest := range []string{legacy, current} {
		ok, err := m.Verify("correct horse battery", digest)
		if err != nil || !ok {
			t.Fatalf("expected %q to verify, ok=%v err=%v", digest, ok, err)
		}
	}

	upgrade, err := m.NeedsUpgrade(legacy)
	if err != nil || !upgrade {
		t.Fatalf("expected argon2 digest to need migration, upgrade=%v err=%v", upgrade, err)
	}
	upgrade, err = m.NeedsUpgrade(current)
	if err != nil || upgrade {
		t.Fatalf("expected preferred digest not to need upgrade, upgrade=%v err=%v", upgrade, err)
	}

	if _, err := m.Verify("correct horse battery", "md5:abc"); !errors.Is(err, ErrUnsupportedDigest) {
		t.Fatalf("expected ErrUnsupportedDigest, got %v", err)
	}
}

func TestConcurrentVerify(t *testing.T) {
	h := newTestBcrypt(t)
	digest, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := h.Verify("correct horse battery", digest); err != nil || !ok {
				t.Errorf("concurrent verify failed, ok=%v err=%v", ok, err)
			}
		}()
	}
	wg.Wait()
}
