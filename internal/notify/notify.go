// Package notify delivers operator notifications by email or to the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
)

// SubjectPrefix starts the subject of every notification.
const SubjectPrefix = "[omega-logger]"

const sendTimeout = 30 * time.Second

var ErrInvalidSMTP = errors.New("invalid smtp settings")

// Notifier sends one message. Callers log a failed send and carry on.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Subject prefixes s with SubjectPrefix.
func Subject(s string) string {
	return SubjectPrefix + " " + s
}

// New returns a Mailer when smtp settings are configured and a LogNotifier
// otherwise.
func New(smtp *config.SMTP, logger *slog.Logger) (Notifier, error) {
	if smtp == nil {
		return NewLogNotifier(logger), nil
	}
	return NewMailer(smtp, logger)
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, subject, body string) error {
	n.logger.Warn("notification", "subject", subject, "body", body)
	return nil
}

// Mailer sends plain-text email through an SMTP server.
type Mailer struct {
	settings config.SMTP
	logger   *slog.Logger
}

func NewMailer(smtp *config.SMTP, logger *slog.Logger) (*Mailer, error) {
	if smtp == nil {
		return nil, fmt.Errorf("%w: missing", ErrInvalidSMTP)
	}
	if strings.TrimSpace(smtp.Host) == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidSMTP)
	}
	if strings.TrimSpace(smtp.From) == "" {
		return nil, fmt.Errorf("%w: from is required", ErrInvalidSMTP)
	}
	if len(smtp.To) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidSMTP)
	}
	if _, err := tlsPolicy(smtp.TLS); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{settings: *smtp, logger: logger}, nil
}

func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	msg, err := m.message(subject, body)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(m.settings.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", strings.Join(m.settings.To, ","), err)
	}
	m.logger.Info("email sent", "subject", subject, "to", m.settings.To)
	return nil
}

func (m *Mailer) message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.settings.From); err != nil {
		return nil, fmt.Errorf("%w: from %q: %w", ErrInvalidSMTP, m.settings.From, err)
	}
	if err := msg.To(m.settings.To...); err != nil {
		return nil, fmt.Errorf("%w: to: %w", ErrInvalidSMTP, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (m *Mailer) clientOptions() []mail.Option {
	policy, _ := tlsPolicy(m.settings.TLS)
	opts := []mail.Option{
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(sendTimeout),
	}
	if m.settings.Port > 0 {
		opts = append(opts, mail.WithPort(m.settings.Port))
	}
	if m.settings.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.settings.Username),
			mail.WithPassword(m.settings.Password),
		)
	}
	return opts
}

func tlsPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "opportunistic":
		return mail.TLSOpportunistic, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, fmt.Errorf("%w: tls must be opportunistic, mandatory or none, got %q", ErrInvalidSMTP, s)
	}
}
