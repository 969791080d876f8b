// Package mail renders verification and password reset messages and hands
// them to a Mailer. Delivery itself is the Mailer's concern.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrDeliveryFailed is returned when a Mailer reports failure.
var ErrDeliveryFailed = errors.New("mail delivery failed")

// Mailer delivers one rendered message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, to, subject, htmlBody string) error

func (f MailerFunc) Send(ctx context.Context, to, subject, htmlBody string) error {
	return f(ctx, to, subject, htmlBody)
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Deliver sends msg through m, wrapping any failure in ErrDeliveryFailed.
func Deliver(ctx context.Context, m Mailer, msg Message) error {
	if m == nil {
		return fmt.Errorf("%w: no mailer configured", ErrDeliveryFailed)
	}
	if err := m.Send(ctx, msg.To, msg.Subject, msg.HTML); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Config controls link construction and message copy.
type Config struct {
	ProductName string `yaml:"product_name"`
	// BaseURL is the externally visible origin, e.g. https://admin.example.com.
	BaseURL    string `yaml:"base_url"`
	VerifyPath string `yaml:"verify_path"`
	ResetPath  string `yaml:"reset_path"`
}

// DefaultConfig returns the paths used by the bundled server.
func DefaultConfig() Config {
	return Config{
		ProductName: "Admin",
		BaseURL:     "http://localhost:8080",
		VerifyPath:  "/auth/verify-email",
		ResetPath:   "/auth/reset-password",
	}
}

var (
	verifyTemplate = template.Must(template.New("verify").Parse(`<!doctype html>
<html><body>
<p>Welcome to {{.Product}}.</p>
<p>Confirm your email address by opening the link below. It expires in {{.ValidFor}}.</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>If you did not create an account, ignore this message.</p>
</body></html>`))

	resetTemplate = template.Must(template.New("reset").Parse(`<!doctype html>
<html><body>
<p>A password reset was requested for your {{.Product}} account.</p>
<p>Choose a new password using the link below. It expires in {{.ValidFor}} and can be used once.</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>If you did not request this, your password is unchanged and you can ignore this message.</p>
</body></html>`))
)

type templateData struct {
	Product  string
	Link     string
	ValidFor string
}

// Renderer builds verification and reset messages.
type Renderer struct {
	cfg Config
}

// NewRenderer validates cfg and returns a renderer.
func NewRenderer(cfg Config) (*Renderer, error) {
	def := DefaultConfig()
	if cfg.ProductName == "" {
		cfg.ProductName = def.ProductName
	}
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = def.VerifyPath
	}
	if cfg.ResetPath == "" {
		cfg.ResetPath = def.ResetPath
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid mail base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Renderer{cfg: cfg}, nil
}

// Link returns BaseURL+path with the token as a query parameter.
func (r *Renderer) Link(path, token string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return r.cfg.BaseURL + path + "?token=" + url.QueryEscape(token)
}

// Verification renders the email verification message for to.
func (r *Renderer) Verification(to, token string, validFor time.Duration) (Message, error) {
	return r.render(verifyTemplate, to, "Verify your email address", r.Link(r.cfg.VerifyPath, token), validFor)
}

// PasswordReset renders the password reset message for to.
func (r *Renderer) PasswordReset(to, token string, validFor time.Duration) (Message, error) {
	return r.render(resetTemplate, to, "Reset your password", r.Link(r.cfg.ResetPath, token), validFor)
}

func (r *Renderer) render(t *template.Template, to, subject, link string, validFor time.Duration) (Message, error) {
	var buf bytes.Buffer
	err := t.Execute(&buf, templateData{
		Product:  r.cfg.ProductName,
		Link:     link,
		ValidFor: humanDuration(validFor),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return Message{To: to, Subject: r.cfg.ProductName + ": " + subject, HTML: buf.String()}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	default:
		return d.String()
	}
}

// LogMailer writes messages to a zerolog logger instead of sending them.
// It is meant for development servers.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log.With().Str("component", "mail").Logger()}
}

func (m *LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.log.Info().Str("to", to).Str("subject", subject).Str("body", htmlBody).Msg("mail not sent (log mailer)")
	return nil
}
