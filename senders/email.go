package senders

import (
	"context"
	"fmt"
	"html"
	"strings"

	"RoyRemind/config"
	"RoyRemind/models"
	"RoyRemind/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const defaultEmailSubject = "Appointment reminder"

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers the email channel over SMTP.
type EmailSender struct {
	dialer mailDialer
	from   string
	logger *zap.Logger
}

func NewEmailSender(cfg config.SMTPConfig, logger *zap.Logger) *EmailSender {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   from,
		logger: logger,
	}
}

func (s *EmailSender) Send(ctx context.Context, channel models.Channel, recipient services.RecipientInfo, message services.RenderedMessage) (services.SendResult, error) {
	if channel != models.ChannelEmail {
		return services.SendResult{Error: fmt.Sprintf("email transport cannot send %s", channel)}, nil
	}

	externalID := uuid.NewString()
	m := s.buildMessage(externalID, recipient, message)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return services.SendResult{}, ctx.Err()
	case err := <-done:
		if err != nil {
			s.logger.Warn("smtp delivery failed",
				zap.String("patient_id", recipient.PatientID),
				zap.Error(err))
			return services.SendResult{Error: err.Error()}, nil
		}
	}
	return services.SendResult{Accepted: true, ExternalID: externalID}, nil
}

func (s *EmailSender) buildMessage(externalID string, recipient services.RecipientInfo, message services.RenderedMessage) *gomail.Message {
	subject := message.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	if recipient.Name != "" {
		m.SetAddressHeader("To", recipient.Address, recipient.Name)
	} else {
		m.SetHeader("To", recipient.Address)
	}
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", "<"+externalID+"@roy-remind>")
	m.SetBody("text/plain", message.Body)
	m.AddAlternative("text/html", htmlBody(subject, message.Body))
	return m
}

func htmlBody(subject, body string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><title>`)
	b.WriteString(html.EscapeString(subject))
	b.WriteString(`</title></head><body style="font-family: Arial, sans-serif;">`)
	for _, para := range strings.Split(body, "\n\n") {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	b.WriteString(`</body></html>`)
	return b.String()
}
