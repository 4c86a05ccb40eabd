package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/castwrite/castwrite/internal/config"
)

// SMTPNotifier sends plain-text notification emails over SMTP.
type SMTPNotifier struct {
	cfg config.SMTPConfig
}

func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) Success(ctx context.Context, email, name, title string) error {
	body := fmt.Sprintf("Hi %s,\n\nYour post %q is ready. Log in to review and publish it.\n", name, title)
	return n.send(ctx, email, "Your blog post is ready", body)
}

func (n *SMTPNotifier) Failure(ctx context.Context, email, name string) error {
	body := fmt.Sprintf("Hi %s,\n\nWe could not turn your recording into a post. Your quota was not used; please try again.\n", name)
	return n.send(ctx, email, "We couldn't process your recording", body)
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

var _ Notifier = (*SMTPNotifier)(nil)
