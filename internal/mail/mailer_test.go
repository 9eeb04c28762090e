package mail

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("someone@example.com"))
	assert.False(t, ValidEmail("not-an-email"))
	assert.False(t, ValidEmail(""))
}

func TestSendAuditRequest(t *testing.T) {
	config := Config{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "portal@example.com",
		Password: "app-password",
		From:     "portal@example.com",
		To:       "team@example.com",
	}

	t.Run("sends to the configured recipient", func(t *testing.T) {
		mailer := New(config, zerolog.Nop())

		var gotAddr, gotFrom string
		var gotTo []string
		var gotMsg []byte
		mailer.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			return nil
		}

		err := mailer.SendAuditRequest(context.Background(), "client@example.com")
		assert.NoError(t, err)
		assert.Equal(t, "smtp.example.com:587", gotAddr)
		assert.Equal(t, "portal@example.com", gotFrom)
		assert.Equal(t, []string{"team@example.com"}, gotTo)
		assert.True(t, strings.Contains(string(gotMsg), "client@example.com"))
		assert.True(t, strings.Contains(string(gotMsg), "Reply-To: client@example.com"))
	})

	t.Run("unconfigured mailer refuses to send", func(t *testing.T) {
		unconfigured := config
		unconfigured.Password = ""
		mailer := New(unconfigured, zerolog.Nop())
		err := mailer.SendAuditRequest(context.Background(), "client@example.com")
		assert.Equal(t, ErrNotConfigured, err)
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		mailer := New(config, zerolog.Nop())
		block := make(chan struct{})
		t.Cleanup(func() { close(block) })
		mailer.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
			<-block
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := mailer.SendAuditRequest(ctx, "client@example.com")
		assert.Equal(t, context.Canceled, err)
	})
}
