package adminauth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/mfa"
	"github.com/MrEthical07/adminauth/password"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]User
	err   error
}

func newMemUsers(users ...User) *memUsers {
	s := &memUsers{users: make(map[string]User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memUsers) get(id string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memUsers) update(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	s.users[id] = u
	return nil
}

func (s *memUsers) FindUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *memUsers) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, u := range s.users {
		if normalizeEmail(u.Email) == normalizeEmail(email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *memUsers) MarkVerified(_ context.Context, id string) error {
	return s.update(id, func(u *User) { u.Verified = true })
}

func (s *memUsers) SetMFAEnabled(_ context.Context, id string, enabled bool) error {
	return s.update(id, func(u *User) { u.MFAEnabled = enabled })
}

func (s *memUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(u *User) { u.PasswordHash = hash })
}

type memMFA struct {
	mu     sync.Mutex
	states map[string]MFAState
}

func newMemMFA() *memMFA {
	return &memMFA{states: make(map[string]MFAState)}
}

func (s *memMFA) GetMFAState(_ context.Context, userID string) (*MFAState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	st.BackupCodeHashes = append([]string(nil), st.BackupCodeHashes...)
	return &st, nil
}

func (s *memMFA) SaveMFAState(_ context.Context, userID string, state MFAState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.BackupCodeHashes = append([]string(nil), state.BackupCodeHashes...)
	s.states[userID] = state
	return nil
}

func (s *memMFA) DeleteMFAState(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

// atomicMFA implements BackupCodeConsumer on top of memMFA.
type atomicMFA struct {
	*memMFA
	consumeCalls int
}

func (s *atomicMFA) ConsumeBackupCode(_ context.Context, userID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumeCalls++
	st, ok := s.states[userID]
	if !ok {
		return false, nil
	}
	idx := mfa.MatchBackupCode(code, st.BackupCodeHashes)
	if idx < 0 {
		return false, nil
	}
	st.BackupCodeHashes = append(st.BackupCodeHashes[:idx:idx], st.BackupCodeHashes[idx+1:]...)
	s.states[userID] = st
	return true, nil
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	fail bool
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	m.sent = append(m.sent, mail.Message{To: to, Subject: subject, HTML: body})
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var tokenInLink = regexp.MustCompile(`\?token=([0-9a-f]+)`)

func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	match := tokenInLink.FindStringSubmatch(m.sent[len(m.sent)-1].HTML)
	if match == nil {
		t.Fatalf("no token link in mail body: %s", m.sent[len(m.sent)-1].HTML)
	}
	return match[1]
}

type fixture struct {
	engine *Engine
	users  *memUsers
	mfa    MFAStore
	mailer *captureMailer
	clock  *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.Secret = testSecret
	cfg.Password.BcryptCost = 4
	cfg.MFA.QRCodeSize = 0
	return cfg
}

func hashPassword(t *testing.T, plain string) string {
	t.Helper()
	h, err := password.NewBcrypt(password.BcryptConfig{Cost: 4})
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	digest, err := h.Hash(plain)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return digest
}

func testUser(t *testing.T, id, email, plain string) User {
	return User{
		ID:           id,
		Email:        email,
		Role:         "admin",
		BusinessID:   "biz-1",
		PasswordHash: hashPassword(t, plain),
		Active:       true,
	}
}

// newFixture builds an engine over in-memory stores with alice
// (alice@example.com / correct-horse-1) registered. mutate may adjust the
// builder before Build.
func newFixture(t *testing.T, mutate func(*Builder)) *fixture {
	t.Helper()

	f := &fixture{
		users:  newMemUsers(testUser(t, "u1", "alice@example.com", "correct-horse-1")),
		mfa:    newMemMFA(),
		mailer: &captureMailer{},
		clock:  newTestClock(),
	}

	b := New().
		WithConfig(testConfig()).
		WithUserStore(f.users).
		WithMailer(f.mailer).
		WithClock(f.clock.Now)
	if mutate != nil {
		mutate(b)
	}
	if b.mfaStore == nil {
		b.WithMFAStore(f.mfa)
	}
	f.mfa = b.mfaStore

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	f.engine = engine
	return f
}

// enableMFA runs the two-step setup for userID and returns the backup codes
// and the raw secret.
func (f *fixture) enableMFA(t *testing.T, userID string) ([]string, []byte) {
	t.Helper()
	ctx := context.Background()

	setup, err := f.engine.BeginMFASetup(ctx, userID)
	if err != nil {
		t.Fatalf("BeginMFASetup failed: %v", err)
	}
	secret, err := mfa.DecodeSecret(setup.Secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	codes, err := f.engine.ConfirmMFASetup(ctx, userID, f.code(t, secret))
	if err != nil {
		t.Fatalf("ConfirmMFASetup failed: %v", err)
	}
	return codes, secret
}

func (f *fixture) code(t *testing.T, secret []byte) string {
	t.Helper()
	code, err := f.engine.totp.Code(secret, f.clock.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	return code
}
