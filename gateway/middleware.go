package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the *Principal.
const PrincipalKey = "adminauth.principal"

// Authenticator resolves the principal of a request. *Gateway implements
// it; so does the engine, which also records metrics.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)
}

func statusFor(err error) int {
	if errors.Is(err, ErrLookupFailed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

// Middleware rejects unauthenticated requests with 401 and stores the
// principal in the request context of the rest.
func Middleware(g Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := g.Authenticate(r.Context(), r)
			if err != nil {
				status := statusFor(err)
				http.Error(w, http.StatusText(status), status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// GinMiddleware is Middleware for gin routers. The principal is stored both
// in the request context and under PrincipalKey.
func GinMiddleware(g Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := g.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			status := statusFor(err)
			msg := "unauthenticated"
			if status != http.StatusUnauthorized {
				msg = "authentication unavailable"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

// GinPrincipal returns the principal stored by GinMiddleware.
func GinPrincipal(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok && p != nil
}

// RequireRole wraps handlers that only principals with one of roles may
// reach. It must run after GinMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		p, ok := GinPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if _, ok := allowed[p.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
