package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"

	"github.com/atiamdev/cms-backend-sub002/internal/config"
)

// SMTPSender delivers email messages through an SMTP relay.
type SMTPSender struct {
	cfg  *config.Config
	auth smtp.Auth
	addr string
}

// NewSMTPSender returns a LoggingSender when no SMTP host is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		log.Println("SMTP host not configured, using logging notification sender for email.")
		return &LoggingSender{}
	}
	auth := smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost)
	return &SMTPSender{
		cfg:  cfg,
		auth: auth,
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.Channel != ChannelEmail {
		return fmt.Errorf("%w: smtp sender cannot deliver %s messages", ErrUnsupportedChannel, msg.Channel)
	}
	raw := buildRawEmail(s.cfg.SmtpFromAddress, msg)
	if err := smtp.SendMail(s.addr, s.auth, s.cfg.SmtpFromAddress, []string{msg.To}, raw); err != nil {
		log.Printf("Failed to send email via SMTP to %s: %v", msg.To, err)
		return fmt.Errorf("smtp error: %w", err)
	}
	log.Printf("Email sent via SMTP to %s (Subject: %s)", msg.To, msg.Subject)
	return nil
}

func buildRawEmail(from string, msg Message) []byte {
	if from == "" {
		from = "noreply@example.com"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", from))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// LoggingSender only logs. It stands in for transports that are not configured.
type LoggingSender struct{}

func (s *LoggingSender) Send(ctx context.Context, msg Message) error {
	log.Printf("--- Notification (logged) channel=%s to=%s student=%s ---", msg.Channel, msg.To, msg.StudentID)
	log.Printf("Subject: %s", msg.Subject)
	log.Println(msg.Body)
	return nil
}
