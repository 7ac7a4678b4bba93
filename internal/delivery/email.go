package delivery

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"verify-service/internal/config"
)

// EmailSender delivers codes over SMTP.
type EmailSender struct {
	addr    string
	auth    smtp.Auth
	from    string
	subject string
}

func NewEmailSender(cfg config.EmailConfig) (*EmailSender, error) {
	if cfg.SMTPHost == "" || cfg.SMTPPort == 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email sender address is required")
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}

	return &EmailSender{
		addr:    fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth:    auth,
		from:    cfg.From,
		subject: cfg.Subject,
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, to, code string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := fmt.Sprintf(
		"Your verification code is %s.\r\n\r\nIt expires in %d minutes. If you did not request a code, you can ignore this message.",
		code, int(ttl.Minutes()),
	)

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", s.subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	raw := strings.Join(headers, "\r\n") + "\r\n\r\n" + body

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
