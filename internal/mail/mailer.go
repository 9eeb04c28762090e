// Package mail sends contact-form notifications over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when no SMTP password is set. The contact
// endpoint surfaces it as a configuration error rather than failing silently.
var ErrNotConfigured = errors.New("smtp is not configured")

// Config holds the SMTP connection settings. Port 587 with STARTTLS is the
// expected transport; smtp.SendMail negotiates it automatically.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Mailer delivers contact-form requests to the configured recipient.
type Mailer struct {
	config Config
	logger zerolog.Logger

	// sendMail is swapped out in tests.
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func New(config Config, logger zerolog.Logger) *Mailer {
	return &Mailer{
		config:   config,
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

// Configured reports whether the mailer has credentials to send with.
func (m *Mailer) Configured() bool {
	return m.config.Password != ""
}

// ValidEmail applies the same loose check the contact form uses client side.
func ValidEmail(email string) bool {
	return strings.Contains(email, "@")
}

// SendAuditRequest emails the fixed recipient about a new audit request from
// the given address. The context bounds the whole SMTP exchange.
func (m *Mailer) SendAuditRequest(ctx context.Context, email string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}

	addr := net.JoinHostPort(m.config.Host, fmt.Sprint(m.config.Port))
	auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)

	var body strings.Builder
	fmt.Fprintf(&body, "From: %v\r\n", m.config.From)
	fmt.Fprintf(&body, "To: %v\r\n", m.config.To)
	fmt.Fprintf(&body, "Subject: Nouvelle demande d'audit gratuit - Zonia\r\n")
	fmt.Fprintf(&body, "Reply-To: %v\r\n", email)
	fmt.Fprintf(&body, "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&body, "Nouvelle demande d'audit gratuit\r\n\r\n")
	fmt.Fprintf(&body, "Email du client: %v\r\n", email)
	fmt.Fprintf(&body, "Date: %v\r\n\r\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&body, "Cette demande provient du formulaire de contact.\r\n")

	done := make(chan error, 1)
	go func() {
		done <- m.sendMail(addr, auth, m.config.From, []string{m.config.To}, []byte(body.String()))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to send contact email")
			return fmt.Errorf("failed to send contact email: %w", err)
		}
	}

	m.logger.Info().Str("email", email).Msg("contact request sent")
	return nil
}
