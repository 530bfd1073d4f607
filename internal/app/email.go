package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/notify"
)

var ErrNoSMTP = errors.New(`there is no "smtp" element in the config file, cannot send email`)

// TestSubject is the subject of the test email.
var TestSubject = notify.Subject("Test")

// SendTestEmail sends a short email with the configured smtp settings.
func SendTestEmail(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	file, err := config.LoadFile(cfg.ConfigPath)
	if err != nil {
		return err
	}
	return sendTestEmail(ctx, file.SMTP, logger)
}

func sendTestEmail(ctx context.Context, smtp *config.SMTP, logger *slog.Logger) error {
	if smtp == nil {
		return ErrNoSMTP
	}
	mailer, err := notify.NewMailer(smtp, logger)
	if err != nil {
		return err
	}
	if err := mailer.Send(ctx, TestSubject, "Test"); err != nil {
		return err
	}
	logger.Info("test email sent", "to", smtp.To)
	return nil
}
