package adminauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEmailVerificationFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestEmailVerification(ctx, "u1"); err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	msg := f.mailer.sent[0]
	if msg.To != "alice@example.com" {
		t.Fatalf("mail sent to %q", msg.To)
	}
	if !strings.Contains(msg.HTML, "http://localhost:8080/auth/verify-email?token=") {
		t.Fatalf("expected verify link in body: %s", msg.HTML)
	}
	token := f.mailer.lastToken(t)
	if len(token) != 64 {
		t.Fatalf("expected a 256-bit hex token, got %d chars", len(token))
	}

	userID, err := f.engine.ConfirmEmailVerification(ctx, token)
	if err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}
	if userID != "u1" || !f.users.get("u1").Verified {
		t.Fatal("expected u1 verified")
	}

	if _, err := f.engine.ConfirmEmailVerification(ctx, token); !errors.Is(err, ErrTokenNotFoundOrAlreadyUsed) {
		t.Fatalf("expected consumed token rejected, got %v", err)
	}
	if err := f.engine.RequestEmailVerification(ctx, "u1"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
}

func TestEmailVerificationExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestEmailVerification(ctx, "u1"); err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	token := f.mailer.lastToken(t)

	f.clock.Advance(24 * time.Hour)
	if _, err := f.engine.ConfirmEmailVerification(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if f.users.get("u1").Verified {
		t.Fatal("expired token must not verify")
	}
}

func TestEmailVerificationTokenForVerifiedUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestEmailVerification(ctx, "u1"); err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	token := f.mailer.lastToken(t)
	_ = f.users.update("u1", func(u *User) { u.Verified = true })

	if _, err := f.engine.ConfirmEmailVerification(ctx, token); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
	if _, err := f.engine.ConfirmEmailVerification(ctx, token); !errors.Is(err, ErrTokenNotFoundOrAlreadyUsed) {
		t.Fatalf("expected token deleted, got %v", err)
	}
}

func TestEmailVerificationMailFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.mailer.fail = true

	err := f.engine.RequestEmailVerification(context.Background(), "u1")
	if !errors.Is(err, ErrMailDeliveryFailed) {
		t.Fatalf("expected ErrMailDeliveryFailed, got %v", err)
	}
	if f.engine.metrics.Value(MetricMailDeliveryFailure) != 1 {
		t.Fatal("expected mail failure metric")
	}
}

func TestEmailVerificationRequestErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestEmailVerification(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.engine.RequestEmailVerification(ctx, "u1"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}
	if err := f.engine.RequestEmailVerification(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := f.engine.ConfirmEmailVerification(ctx, "not-a-token"); !errors.Is(err, ErrTokenNotFoundOrAlreadyUsed) {
		t.Fatalf("expected ErrTokenNotFoundOrAlreadyUsed, got %v", err)
	}
}

func TestEmailVerificationTokensCoexist(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.RequestEmailVerification(ctx, "u1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	first := f.mailer.lastToken(t)
	if err := f.engine.RequestEmailVerification(ctx, "u1"); err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	if _, err := f.engine.ConfirmEmailVerification(ctx, first); err != nil {
		t.Fatalf("expected earlier verification token still valid, got %v", err)
	}
}
