package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"time"
)

// ErrNotConfigured is returned by a sender without an SMTP host
var ErrNotConfigured = errors.New("smtp not configured")

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (SendResult, error)
}

type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// NewSMTPSender creates a sender; from defaults to the username
func NewSMTPSender(host, port, username, password, from string) *SMTPSender {
	if from == "" {
		from = username
	}
	return &SMTPSender{host: host, port: port, username: username, password: password, from: from}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) (SendResult, error) {
	if s.host == "" {
		return SendResult{}, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	msg := []byte(
		"From: " + s.from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, msg); err != nil {
		return SendResult{}, fmt.Errorf("smtp send failed: %w", err)
	}

	return SendResult{
		MessageID: fmt.Sprintf("smtp-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
