// Package mailer sends requester-facing email over plain SMTP: the completed
// report and decline notices. Callers treat every send as best-effort.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/internal/config"
)

// Mailer is a thin SMTP client. It implements schemas.Notifier.
type Mailer struct {
	cfg  config.MailerConfig
	log  *zap.Logger
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// New returns a mailer, or nil (with a warning) when SMTP is not configured
// so callers can skip notification wiring entirely.
func New(cfg config.MailerConfig, logger *zap.Logger) *Mailer {
	log := logger.Named("mailer")
	if cfg.Host == "" || cfg.From == "" {
		log.Warn("SMTP not configured, notifications disabled")
		return nil
	}
	return &Mailer{cfg: cfg, log: log, send: smtp.SendMail}
}

// SendReport mails the completion notice for a finished assessment.
func (m *Mailer) SendReport(ctx context.Context, recipient, jobID, target, reportPath string) error {
	subject := "Security assessment completed: " + target
	body := fmt.Sprintf(
		"The security assessment of %s has completed.\n\n"+
			"Job: %s\nReport: %s\n\n"+
			"The report is available for download from the assessment portal.\n",
		target, jobID, reportPath)
	return m.deliver(ctx, recipient, subject, body)
}

// SendDecline mails the rejection notice for a declined request.
func (m *Mailer) SendDecline(ctx context.Context, recipient, target, reason string) error {
	subject := "Security assessment request declined: " + target
	body := fmt.Sprintf(
		"Your assessment request for %s was declined.\n\nReason: %s\n\n"+
			"You may submit a new request after addressing the reason above.\n",
		target, reason)
	return m.deliver(ctx, recipient, subject, body)
}

func (m *Mailer) deliver(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + recipient,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", recipient, err)
	}
	m.log.Info("Mail sent", zap.String("to", recipient), zap.String("subject", subject))
	return nil
}
