package email

import (
	"context"
	"errors"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// mailer is the part of the go-mail client the channel uses.
type mailer interface {
	DialWithContext(ctx context.Context) error
	Close() error
	DialAndSendWithContext(ctx context.Context, msgs ...*gomail.Msg) error
}

func newSMTPClient(cfg *Config) (mailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithTLSPolicy(tlsModes[cfg.TLS]),
		gomail.WithTimeout(cfg.RequestTimeout),
	}
	if cfg.TLS == "ssl" {
		opts = append(opts, gomail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	c, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("email: smtp client: %w", err)
	}
	return c, nil
}

// isRejected reports a permanent refusal of the recipient or the
// content. Temporary failures and connection errors are transport errors.
func isRejected(err error) bool {
	var se *gomail.SendError
	if !errors.As(err, &se) || se.IsTemp() {
		return false
	}
	switch se.Reason {
	case gomail.ErrSMTPRcptTo, gomail.ErrSMTPData, gomail.ErrGetRcpts:
		return true
	}
	return false
}
