package adminauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 16
	return cfg
}

func nextEvent(t *testing.T, events <-chan AuditEvent) AuditEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func TestAuditLoginFailureCarriesRequestContext(t *testing.T) {
	sink := NewChannelAuditSink(16)
	f := newFixture(t, func(b *Builder) {
		b.WithConfig(auditConfig()).WithAuditSink(sink)
	})

	ctx := WithRequestID(WithClientIP(context.Background(), "203.0.113.7"), "req-42")
	_, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "nope-nope"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	ev := nextEvent(t, sink.Events())
	if ev.EventType != "login_failure" || ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.RequestID != "req-42" || ev.IP != "203.0.113.7" {
		t.Fatalf("request context not recorded: %+v", ev)
	}
	if ev.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected error code %q", ev.Error)
	}
	if !ev.Timestamp.Equal(f.clock.Now().UTC()) {
		t.Fatalf("expected engine clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditGeneratesRequestID(t *testing.T) {
	sink := NewChannelAuditSink(16)
	f := newFixture(t, func(b *Builder) {
		b.WithConfig(auditConfig()).WithAuditSink(sink)
	})

	if _, err := f.engine.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "correct-horse-1"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	ev := nextEvent(t, sink.Events())
	if ev.EventType != "login_success" || !ev.Success || ev.UserID != "u1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.RequestID) != 36 {
		t.Fatalf("expected a generated uuid, got %q", ev.RequestID)
	}
}

func TestAuditRateLimitEvent(t *testing.T) {
	sink := NewChannelAuditSink(64)
	f := newFixture(t, func(b *Builder) {
		b.WithConfig(auditConfig()).WithAuditSink(sink)
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "nope-nope"})
	}

	for {
		ev := nextEvent(t, sink.Events())
		if ev.EventType != "rate_limit_triggered" {
			continue
		}
		if ev.Metadata["scope"] != "login" || ev.Error != string(auditErrRateLimited) {
			t.Fatalf("unexpected rate limit event %+v", ev)
		}
		return
	}
}

func TestAuditJSONSinkFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, func(b *Builder) {
		b.WithConfig(auditConfig()).WithAuditSink(NewJSONAuditSink(&buf))
	})

	if err := f.engine.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	f.engine.Close()

	line := strings.TrimSpace(buf.String())
	var ev AuditEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("expected one JSON event, got %q: %v", line, err)
	}
	if ev.EventType != "password_reset_request" || ev.UserID != "u1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := NewChannelAuditSink(4)
	f := newFixture(t, func(b *Builder) { b.WithAuditSink(sink) })

	_, _ = f.engine.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "nope-nope"})
	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event with audit disabled: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
