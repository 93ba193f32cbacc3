package email_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/email"
)

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	valid := email.SendEmailParams{SendTo: "admin@firm.com.br", Subject: "Pagamento", BodyHTML: "<p>ok</p>"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(p *email.SendEmailParams)
	}{
		{"bad recipient", func(p *email.SendEmailParams) { p.SendTo = "not-an-email" }},
		{"empty subject", func(p *email.SendEmailParams) { p.Subject = "" }},
		{"empty body", func(p *email.SendEmailParams) { p.BodyHTML = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
		})
	}
}

func TestNewPostmarkSender(t *testing.T) {
	t.Parallel()

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		s, err := email.NewPostmarkSender(email.Config{
			PostmarkServerToken: "server-token",
			SenderEmail:         "billing@firm.com.br",
			SupportEmail:        "support@firm.com.br",
		})
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("missing server token", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewPostmarkSender(email.Config{SenderEmail: "billing@firm.com.br"})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})

	t.Run("invalid sender", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewPostmarkSender(email.Config{PostmarkServerToken: "t", SenderEmail: "nope"})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})

	t.Run("enabled flag", func(t *testing.T) {
		t.Parallel()
		assert.False(t, email.Config{}.PostmarkEnabled())
		assert.True(t, email.Config{PostmarkServerToken: "t"}.PostmarkEnabled())
	})
}

func TestLogSender(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	s := email.NewLogSender(slog.New(slog.NewTextHandler(buf, nil)))

	err := s.SendEmail(context.Background(), email.SendEmailParams{
		SendTo:   "admin@firm.com.br",
		Subject:  "Assinatura Cancelada",
		BodyHTML: "<p>body</p>",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "admin@firm.com.br")
	assert.NotContains(t, buf.String(), "<p>body</p>")

	err = s.SendEmail(context.Background(), email.SendEmailParams{})
	assert.ErrorIs(t, err, email.ErrInvalidParams)
}
