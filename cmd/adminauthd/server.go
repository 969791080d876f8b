package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/gateway"
	"github.com/MrEthical07/adminauth/metrics/export/prometheus"
)

const (
	headerRequestID = "X-Request-Id"
	roleAdmin       = "admin"
)

type server struct {
	engine *adminauth.Engine
}

func newRouter(engine *adminauth.Engine, log zerolog.Logger) *gin.Engine {
	s := &server{engine: engine}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestContext(log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(prometheus.NewPrometheusExporter(engine).Handler()))

	auth := r.Group("/auth")
	auth.POST("/login", s.login)
	auth.POST("/logout", s.logout)
	auth.GET("/verify-email", s.confirmEmail)
	auth.POST("/password-reset", s.requestPasswordReset)
	auth.POST("/reset-password", s.confirmPasswordReset)

	authed := auth.Group("/", gateway.GinMiddleware(engine))
	authed.GET("/me", s.me)
	authed.POST("/verify-email/request", s.requestEmailVerification)
	authed.POST("/mfa/setup", s.beginMFASetup)
	authed.POST("/mfa/confirm", s.confirmMFASetup)
	authed.POST("/mfa/disable", s.disableMFA)
	authed.POST("/mfa/backup-codes", s.regenerateBackupCodes)

	admin := r.Group("/admin", gateway.GinMiddleware(engine), gateway.RequireRole(roleAdmin))
	admin.GET("/ping", func(c *gin.Context) {
		p, _ := gateway.GinPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"pong": true, "user_id": p.UserID})
	})

	return r
}

// requestContext stamps a request id and the client IP onto the request
// context so audit events can be correlated, then logs a summary line.
func requestContext(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLog := log.With().Str("request_id", rid).Logger()
		ctx := adminauth.WithRequestID(c.Request.Context(), rid)
		ctx = adminauth.WithClientIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(reqLog.WithContext(ctx))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		ev := reqLog.Info()
		if len(c.Errors) > 0 {
			ev = reqLog.Error().Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

type loginBody struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	TOTPCode   string `json:"totp_code"`
	BackupCode string `json:"backup_code"`
}

func (s *server) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	res, err := s.engine.Login(c.Request.Context(), adminauth.LoginRequest{
		Email:      body.Email,
		Password:   body.Password,
		TOTPCode:   body.TOTPCode,
		BackupCode: body.BackupCode,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.engine.SetSessionCookie(c.Writer, res.Token)
	c.JSON(http.StatusOK, gin.H{
		"token":            res.Token,
		"expires_at":       res.ExpiresAt,
		"user_id":          res.Claim.UserID,
		"role":             res.Claim.Role,
		"used_backup_code": res.UsedBackupCode,
	})
}

func (s *server) logout(c *gin.Context) {
	s.engine.ClearSessionCookie(c.Writer)
	c.Status(http.StatusNoContent)
}

func (s *server) me(c *gin.Context) {
	p, _ := gateway.GinPrincipal(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id":     p.UserID,
		"email":       p.Email,
		"role":        p.Role,
		"business_id": p.BusinessID,
		"expires_at":  p.ExpiresAt,
	})
}

func (s *server) requestEmailVerification(c *gin.Context) {
	p, _ := gateway.GinPrincipal(c)
	if err := s.engine.RequestEmailVerification(c.Request.Context(), p.UserID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *server) confirmEmail(c *gin.Context) {
	userID, err := s.engine.ConfirmEmailVerification(c.Request.Context(), c.Query("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "verified": true})
}

type emailBody struct {
	Email string `json:"email" binding:"required"`
}

func (s *server) requestPasswordReset(c *gin.Context) {
	var body emailBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := s.engine.RequestPasswordReset(c.Request.Context(), body.Email); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type resetBody struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *server) confirmPasswordReset(c *gin.Context) {
	var body resetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := s.engine.ConfirmPasswordReset(c.Request.Context(), body.Token, body.Password); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type codeBody struct {
	Code string `json:"code" binding:"required"`
}

func (s *server) beginMFASetup(c *gin.Context) {
	p, _ := gateway.GinPrincipal(c)
	setup, err := s.engine.BeginMFASetup(c.Request.Context(), p.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":        setup.Secret,
		"provision_uri": setup.ProvisionURI,
		"qr_code_png":   setup.QRCodePNG,
		"expires_at":    setup.ExpiresAt,
	})
}

func (s *server) confirmMFASetup(c *gin.Context) {
	p, _ := gateway.GinPrincipal(c)
	var body codeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	codes, err := s.engine.ConfirmMFASetup(c.Request.Context(), p.UserID, body.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backup_codes": codes})
}

// disableMFA turns the second factor off for the signed-in user. The
// session is the only proof required.
func (s *server) disableMFA(c *gin.Context) {
	p, _ := gateway.GinPrincipal(c)
	if err := s.engine.DisableMFA(c.Request.Context(), p.UserID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) regenerateBackupCodes(c *gin.Context) {
	p, _ := gateway.GinPrincipal(c)
	var body codeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	codes, err := s.engine.RegenerateBackupCodes(c.Request.Context(), p.UserID, body.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backup_codes": codes})
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{adminauth.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{adminauth.ErrMFARequired, http.StatusUnauthorized, "mfa_required"},
	{adminauth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{adminauth.ErrInvalidMFACode, http.StatusUnauthorized, "invalid_mfa_code"},
	{adminauth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{adminauth.ErrTokenExpired, http.StatusBadRequest, "token_expired"},
	{adminauth.ErrTokenNotFoundOrAlreadyUsed, http.StatusBadRequest, "token_invalid"},
	{adminauth.ErrPasswordPolicy, http.StatusBadRequest, "password_policy"},
	{adminauth.ErrMFANotPending, http.StatusBadRequest, "mfa_not_pending"},
	{adminauth.ErrMFANotEnabled, http.StatusBadRequest, "mfa_not_enabled"},
	{adminauth.ErrAlreadyVerified, http.StatusConflict, "already_verified"},
	{adminauth.ErrMFAAlreadyEnabled, http.StatusConflict, "mfa_already_enabled"},
	{adminauth.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{adminauth.ErrMailDeliveryFailed, http.StatusBadGateway, "mail_delivery_failed"},
	{adminauth.ErrBackendUnavailable, http.StatusServiceUnavailable, "unavailable"},
}

func (s *server) fail(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, gin.H{"error": m.code})
			return
		}
	}
	_ = c.Error(err)
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("unhandled auth error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
