package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"nudgely/internal/config"
)

type emailData struct {
	RecipientName string
	NudgeName     string
	Description   string
	CompleteURL   string
	ExpiresAt     string
	Year          int
}

// EmailSender delivers reminders over SMTP with an HTML body rendered from
// the on-disk template.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
	tmpl   *template.Template
	log    zerolog.Logger
}

// LoadEmailTemplate loads and parses the reminder email template.
func LoadEmailTemplate() (*template.Template, error) {
	templatePath := filepath.Join(".", "nudge-email-template.html")
	if _, err := os.Stat(templatePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("template file not found at %s", templatePath)
	}
	tmpl, err := template.ParseFiles(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}
	return tmpl, nil
}

func NewEmailSender(cfg config.SMTPConfig, log zerolog.Logger) (*EmailSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP_HOST not configured")
	}
	tmpl, err := LoadEmailTemplate()
	if err != nil {
		return nil, err
	}
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		tmpl:   tmpl,
		log:    log,
	}, nil
}

func (e *EmailSender) Send(ctx context.Context, m Message) error {
	name := m.ToName
	if name == "" {
		name = "there"
	}

	var buf bytes.Buffer
	data := emailData{
		RecipientName: name,
		NudgeName:     m.NudgeName,
		Description:   m.Description,
		CompleteURL:   m.CompleteURL,
		ExpiresAt:     m.ExpiresAt.Format("January 2, 2006"),
		Year:          time.Now().Year(),
	}
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", e.from)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", fmt.Sprintf("Reminder: %s", m.NudgeName))
	msg.SetBody("text/html", buf.String())

	if err := e.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", m.To, err)
	}
	e.log.Debug().Str("to", m.To).Str("nudge", m.NudgeName).Msg("reminder email sent")
	return nil
}
