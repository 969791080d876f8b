package adminauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPasswordResetTwice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("first RequestPasswordReset failed: %v", err)
	}
	first := f.mailer.lastToken(t)
	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second RequestPasswordReset failed: %v", err)
	}
	second := f.mailer.lastToken(t)
	if first == second {
		t.Fatal("expected distinct tokens")
	}
	if !strings.Contains(f.mailer.sent[1].HTML, "/auth/reset-password?token="+second) {
		t.Fatalf("expected reset link in body: %s", f.mailer.sent[1].HTML)
	}

	if err := f.engine.ConfirmPasswordReset(ctx, first, "brand-new-pass"); !errors.Is(err, ErrTokenNotFoundOrAlreadyUsed) {
		t.Fatalf("expected superseded token rejected, got %v", err)
	}
	if err := f.engine.ConfirmPasswordReset(ctx, second, "brand-new-pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if err := f.engine.ConfirmPasswordReset(ctx, second, "another-pass-1"); !errors.Is(err, ErrTokenNotFoundOrAlreadyUsed) {
		t.Fatalf("expected replay rejected, got %v", err)
	}

	if _, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "correct-horse-1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "brand-new-pass"}); err != nil {
		t.Fatalf("expected new password accepted, got %v", err)
	}
}

func TestPasswordResetClearsLoginLimiter(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-password"})
	}
	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := f.engine.ConfirmPasswordReset(ctx, f.mailer.lastToken(t), "brand-new-pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "brand-new-pass"}); err != nil {
		t.Fatalf("expected login allowed after reset, got %v", err)
	}
}

func TestPasswordResetIsEnumerationSafe(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if err := f.engine.RequestPasswordReset(ctx, ""); err != nil {
		t.Fatalf("expected nil for empty email, got %v", err)
	}
	if f.mailer.count() != 0 {
		t.Fatal("no mail may be sent for unknown emails")
	}

	f.mailer.fail = true
	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("expected delivery failure hidden, got %v", err)
	}
	if f.engine.metrics.Value(MetricMailDeliveryFailure) != 1 {
		t.Fatal("expected mail failure metric")
	}
}

func TestPasswordResetRateLimited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}
	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := f.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("other identifiers are unaffected, got %v", err)
	}
}

func TestPasswordResetPolicyKeepsToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := f.mailer.lastToken(t)

	if err := f.engine.ConfirmPasswordReset(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := f.engine.ConfirmPasswordReset(ctx, token, "long-enough-now"); err != nil {
		t.Fatalf("expected token still usable, got %v", err)
	}
}

func TestPasswordResetRejectsOverlongPassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := f.mailer.lastToken(t)

	if err := f.engine.ConfirmPasswordReset(ctx, token, strings.Repeat("a", 100)); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := f.engine.HashPassword(strings.Repeat("a", 100)); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy from HashPassword, got %v", err)
	}
	if err := f.engine.ConfirmPasswordReset(ctx, token, "long-enough-now"); err != nil {
		t.Fatalf("expected token still usable, got %v", err)
	}
}

func TestPasswordResetExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := f.mailer.lastToken(t)

	f.clock.Advance(30 * time.Minute)
	if err := f.engine.ConfirmPasswordReset(ctx, token, "brand-new-pass"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if f.engine.metrics.Value(MetricPasswordResetConfirmFailure) != 1 {
		t.Fatal("expected failure metric")
	}
}

func TestPasswordResetOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, func(b *Builder) { b.WithRedis(rdb) })
	ctx := context.Background()

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("first RequestPasswordReset failed: %v", err)
	}
	first := f.mailer.lastToken(t)
	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second RequestPasswordReset failed: %v", err)
	}
	second := f.mailer.lastToken(t)

	if err := f.engine.ConfirmPasswordReset(ctx, first, "brand-new-pass"); !errors.Is(err, ErrTokenNotFoundOrAlreadyUsed) {
		t.Fatalf("expected superseded token rejected, got %v", err)
	}
	if err := f.engine.ConfirmPasswordReset(ctx, second, "brand-new-pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if len(mr.Keys()) == 0 {
		t.Fatal("expected limiter keys in redis")
	}

	mr.Close()
	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable with redis down, got %v", err)
	}
}
