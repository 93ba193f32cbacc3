package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
)

var (
	ErrFailedToSendEmail = errors.New("email: failed to send")
	ErrInvalidConfig     = errors.New("email: invalid config")
	ErrInvalidParams     = errors.New("email: invalid params")
)

// Config holds outbound email settings. Postmark tokens are optional: without
// them the process falls back to a sender that only logs.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@lexbilling.local"`
	SupportEmail         string `env:"SUPPORT_EMAIL"`
}

// PostmarkEnabled reports whether Postmark credentials are configured.
func (c Config) PostmarkEnabled() bool {
	return c.PostmarkServerToken != ""
}

// Sender delivers a single HTML email.
type Sender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

type SendEmailParams struct {
	SendTo   string
	Subject  string
	BodyHTML string
	Tag      string
}

func (p SendEmailParams) Validate() error {
	if _, err := mail.ParseAddress(p.SendTo); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", ErrInvalidParams, p.SendTo, err)
	}
	if p.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidParams)
	}
	if p.BodyHTML == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidParams)
	}
	return nil
}
