package session

import (
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName names the session cookie when CookieConfig.Name is empty.
const DefaultCookieName = "session"

// CookieConfig describes the session cookie. HttpOnly, SameSite=Lax and
// Path=/ are always applied; Secure must be enabled in production.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

// Cookie returns the cookie carrying token.
func (c CookieConfig) Cookie(token string, now time.Time) *http.Cookie {
	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultTTL
	}
	return &http.Cookie{
		Name:     c.name(),
		Value:    token,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(maxAge / time.Second),
		Expires:  now.Add(maxAge),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Expired returns a cookie that clears the session on the client.
func (c CookieConfig) Expired(now time.Time) *http.Cookie {
	out := c.Cookie("", now)
	out.MaxAge = -1
	out.Expires = now.Add(-time.Hour)
	return out
}

// TokenFromRequest returns the session token carried by r. A bearer
// Authorization header wins over the cookie named cookieName.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if token := TokenFromHeader(r); token != "" {
		return token
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// TokenFromHeader extracts a bearer token from the Authorization header.
func TokenFromHeader(r *http.Request) string {
	const bearer = "bearer "

	value := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(value) <= len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(value[len(bearer):])
}
