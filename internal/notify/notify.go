// Package notify delivers rendered student notifications over push, WhatsApp
// and email transports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

type Channel string

// ErrUnsupportedChannel is returned by senders asked to deliver on a
// channel they do not handle.
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

const (
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	return c == ChannelPush || c == ChannelWhatsApp || c == ChannelEmail
}

// Message is a rendered notification ready for a transport. To holds the
// channel address: an email address, a phone number, or the student id for push.
type Message struct {
	Channel   Channel
	To        string
	StudentID string
	Subject   string
	Body      string
}

// Sender hands a message to a transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryRequest asks for the template TemplateID to be rendered with Data
// and sent on Channel.
type DeliveryRequest struct {
	Channel    Channel           `json:"channel"`
	TemplateID string            `json:"template_id"`
	To         string            `json:"to"`
	StudentID  string            `json:"student_id"`
	FeeID      string            `json:"fee_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// Dispatcher accepts delivery requests. Implementations either deliver
// inline or queue the request for a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DeliveryRequest) error
}

// TemplateSource resolves the template for an event on a channel.
type TemplateSource interface {
	GetTemplate(ctx context.Context, templateID, channel string) (*models.NotificationTemplate, error)
}

// Render replaces {{.key}} placeholders in subject and body.
func Render(tmpl *models.NotificationTemplate, data map[string]string) (subject, body string) {
	subject, body = tmpl.Subject, tmpl.Body
	for key, val := range data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		subject = strings.ReplaceAll(subject, placeholder, val)
		body = strings.ReplaceAll(body, placeholder, val)
	}
	return subject, body
}

// Deliver renders req with the template from templates and sends it.
func Deliver(ctx context.Context, templates TemplateSource, sender Sender, req DeliveryRequest) error {
	tmpl, err := templates.GetTemplate(ctx, req.TemplateID, string(req.Channel))
	if err != nil {
		return fmt.Errorf("template %s/%s: %w", req.TemplateID, req.Channel, err)
	}
	subject, body := Render(tmpl, req.Data)
	return sender.Send(ctx, Message{
		Channel:   req.Channel,
		To:        req.To,
		StudentID: req.StudentID,
		Subject:   subject,
		Body:      body,
	})
}

// InlineDispatcher delivers each request immediately. The backfill CLI uses
// it since no worker runs alongside it.
type InlineDispatcher struct {
	templates TemplateSource
	sender    Sender
}

func NewInlineDispatcher(templates TemplateSource, sender Sender) *InlineDispatcher {
	return &InlineDispatcher{templates: templates, sender: sender}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, req DeliveryRequest) error {
	return Deliver(ctx, d.templates, d.sender, req)
}

// NoopDispatcher drops every request.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(ctx context.Context, req DeliveryRequest) error {
	log.Printf("Notification dropped (no dispatcher): channel=%s to=%s template=%s", req.Channel, req.To, req.TemplateID)
	return nil
}
