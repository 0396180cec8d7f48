package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// ErrNotDelivered is returned by senders that record a notice without
// delivering it. The order status then does not claim an email was sent.
var ErrNotDelivered = errors.New("notice logged, not delivered")

// LogSender writes notices to the structured log instead of delivering them.
// Used in development and when no mail relay is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the message at info level and returns ErrNotDelivered.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "special order notice",
		slog.String("recipient", msg.Recipient),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)),
	)
	return ErrNotDelivered
}

// SMTPConfig holds relay settings for SMTPSender.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

// SMTPSender delivers notices through an SMTP relay using PLAIN auth when
// credentials are set.
type SMTPSender struct {
	cfg SMTPConfig

	// sendMail is smtp.SendMail; replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// NewSMTPSender creates a sender for the given relay.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("smtp address is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

// Send delivers msg. A message without a recipient is an error so the
// caller records the notice as composed but not sent.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("notification recipient is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		host := s.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}

	if err := s.sendMail(s.cfg.Addr, auth, s.cfg.From, []string{msg.Recipient}, s.render(msg)); err != nil {
		return fmt.Errorf("sending notice to %s: %w", msg.Recipient, err)
	}
	return nil
}

// render builds an RFC 5322 plain-text message with CRLF line endings.
func (s *SMTPSender) render(msg Message) []byte {
	var b strings.Builder
	header := func(k, v string) {
		// Header values must not carry line breaks.
		v = strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
		b.WriteString(k + ": " + v + "\r\n")
	}

	header("From", s.cfg.From)
	header("To", msg.Recipient)
	header("Subject", msg.Subject)
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	return []byte(b.String())
}
