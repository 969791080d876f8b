package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/adminauth/session"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type accountTable struct {
	mu       sync.Mutex
	accounts map[string]*Account
	lookups  atomic.Int64
	err      error
}

func (t *accountTable) LookupAccount(_ context.Context, id string) (*Account, error) {
	t.lookups.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	a, ok := t.accounts[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (t *accountTable) set(a *Account) {
	t.mu.Lock()
	t.accounts[a.ID] = a
	t.mu.Unlock()
}

func (t *accountTable) remove(id string) {
	t.mu.Lock()
	delete(t.accounts, id)
	t.mu.Unlock()
}

func newFixture(t *testing.T) (*Gateway, *session.Codec, *accountTable, *time.Time) {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	codec, err := session.NewCodec(session.Config{
		Secret: testSecret,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)

	accounts := &accountTable{accounts: map[string]*Account{
		"u1": {ID: "u1", Email: "alice@example.com", Role: "ADMIN", BusinessID: "b1", Active: true},
	}}
	return New(codec, accounts, Config{}), codec, accounts, &now
}

func mint(t *testing.T, c *session.Codec, userID string) string {
	t.Helper()
	token, _, err := c.Mint(session.ClaimInput{UserID: userID, Email: "stale@example.com", Role: "STAFF"})
	require.NoError(t, err)
	return token
}

func TestAuthenticateBearerAndCookie(t *testing.T) {
	g, codec, accounts, _ := newFixture(t)
	token := mint(t, codec, "u1")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	p, err := g.Authenticate(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserID)
	require.Equal(t, "ADMIN", p.Role, "role comes from the store, not the token")
	require.Equal(t, "alice@example.com", p.Email)
	require.Equal(t, "b1", p.BusinessID)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	_, err = g.Authenticate(context.Background(), r)
	require.NoError(t, err)

	require.Equal(t, int64(2), accounts.lookups.Load(), "user is re-read on every request")
}

func TestAuthenticateRejects(t *testing.T) {
	g, codec, accounts, now := newFixture(t)
	token := mint(t, codec, "u1")

	_, err := g.AuthenticateToken(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = g.AuthenticateToken(context.Background(), token+"x")
	require.ErrorIs(t, err, ErrUnauthenticated)

	accounts.set(&Account{ID: "u1", Active: false})
	_, err = g.AuthenticateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrUnauthenticated)

	accounts.remove("u1")
	_, err = g.AuthenticateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrUnauthenticated)

	accounts.set(&Account{ID: "u1", Active: true})
	_, err = g.AuthenticateToken(context.Background(), token)
	require.NoError(t, err)

	*now = now.Add(24 * time.Hour)
	_, err = g.AuthenticateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateLookupFailure(t *testing.T) {
	g, codec, accounts, _ := newFixture(t)
	token := mint(t, codec, "u1")
	accounts.err = errors.New("db down")

	_, err := g.AuthenticateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrLookupFailed)
	require.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddleware(t *testing.T) {
	g, codec, _, _ := newFixture(t)
	token := mint(t, codec, "u1")

	var seen *Principal
	h := Middleware(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, seen)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "u1", seen.UserID)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g, codec, accounts, _ := newFixture(t)
	token := mint(t, codec, "u1")

	router := gin.New()
	authed := router.Group("/", GinMiddleware(g))
	authed.GET("/me", func(c *gin.Context) {
		p, ok := GinPrincipal(c)
		require.True(t, ok)
		fromCtx, ok := PrincipalFromContext(c.Request.Context())
		require.True(t, ok)
		require.Same(t, p, fromCtx)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID})
	})
	authed.GET("/owners", RequireRole("OWNER"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"unauthenticated"}`, rec.Body.String())

	rec = do("/me")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user_id":"u1"}`, rec.Body.String())

	require.Equal(t, http.StatusForbidden, do("/owners").Code)

	accounts.err = errors.New("db down")
	require.Equal(t, http.StatusServiceUnavailable, do("/me").Code)
}
