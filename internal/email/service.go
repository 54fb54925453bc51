package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/mwielgosz/userhub/internal/logging"
)

// Service sends account emails over SMTP. Sending is best-effort from
// the caller's point of view: failures are reported to the caller for
// logging but never change the outcome of the flow that triggered them.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
}

func NewService(smtpHost, smtpPort, smtpUser, smtpPassword, fromEmail string) *Service {
	return &Service{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    fromEmail,
	}
}

// SendConfirmationEmail sends the registration confirmation link.
// Designed to be called in a goroutine.
func (s *Service) SendConfirmationEmail(ctx context.Context, toEmail, link string) error {
	logger := logging.GetLoggerFromContext(ctx)

	body, err := renderLinkEmail(confirmationTemplate, link)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, "Confirm your registration", body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("confirmation email sent", "email", toEmail)
	return nil
}

// SendPasswordResetEmail sends the password reset link.
// Designed to be called in a goroutine.
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, link string) error {
	logger := logging.GetLoggerFromContext(ctx)

	body, err := renderLinkEmail(resetTemplate, link)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, "Reset your password", body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("password reset email sent", "email", toEmail)
	return nil
}

func (s *Service) sendEmail(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromEmail, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return smtp.SendMail(addr, auth, s.fromEmail, []string{to}, msg)
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <h2>Confirm your registration</h2>
    <p>Thank you for signing up! Click the link below to confirm your account.</p>
    <p><a href="{{.Link}}">Confirm account</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all;">{{.Link}}</p>
    <p>If you didn't create an account, you can safely ignore this email.</p>
</body>
</html>
`))

var resetTemplate = template.Must(template.New("reset").Parse(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <h2>Reset your password</h2>
    <p>You requested to reset your password. Click the link below to choose a new one.</p>
    <p><a href="{{.Link}}">Reset password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all;">{{.Link}}</p>
    <p>If you didn't request a password reset, you can safely ignore this email.</p>
</body>
</html>
`))

func renderLinkEmail(tmpl *template.Template, link string) (string, error) {
	var buf bytes.Buffer
	data := struct{ Link string }{Link: link}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
