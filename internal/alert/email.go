package alert

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// EmailNotifier delivers alerts over plain SMTP with auth.
type EmailNotifier struct {
	host     string
	port     int
	from     string
	to       string
	password string
}

func NewEmailNotifier(host string, port int, from, to, password string) *EmailNotifier {
	return &EmailNotifier{
		host:     host,
		port:     port,
		from:     from,
		to:       to,
		password: password,
	}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	if e == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	auth := smtp.PlainAuth("", e.from, e.password, e.host)
	msg := strings.Join([]string{
		"From: " + e.from,
		"To: " + e.to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(addr, auth, e.from, []string{e.to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
