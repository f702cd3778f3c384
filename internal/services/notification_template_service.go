package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atiamdev/cms-backend-sub002/internal/db"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// Template ids used by billing.
const (
	TemplateInvoiceCreated = "invoice_created"
	TemplateInvoiceOverdue = "invoice_overdue"
)

// Built-in templates used when the collection has no override.
var defaultNotificationTemplates = map[string]models.NotificationTemplate{
	TemplateInvoiceCreated + "#push": {
		TemplateID: TemplateInvoiceCreated,
		Channel:    "push",
		Subject:    "New invoice for {{.period}}",
		Body:       "Invoice {{.invoice_number}} of {{.amount}} is due on {{.due_date}}.",
	},
	TemplateInvoiceCreated + "#whatsapp": {
		TemplateID: TemplateInvoiceCreated,
		Channel:    "whatsapp",
		Subject:    "New invoice",
		Body:       "Hello {{.student_name}}, your invoice {{.invoice_number}} for {{.period}} of {{.amount}} is due on {{.due_date}}.",
	},
	TemplateInvoiceCreated + "#email": {
		TemplateID: TemplateInvoiceCreated,
		Channel:    "email",
		Subject:    "Your invoice for {{.period}}",
		Body:       "Dear {{.student_name}},\n\nInvoice {{.invoice_number}} for {{.period}} has been issued.\nAmount due: {{.amount}}\nDue date: {{.due_date}}\n\nThank you.",
	},
	TemplateInvoiceOverdue + "#push": {
		TemplateID: TemplateInvoiceOverdue,
		Channel:    "push",
		Subject:    "Invoice overdue",
		Body:       "Invoice {{.invoice_number}} for {{.period}} is overdue. Outstanding: {{.amount}}.",
	},
	TemplateInvoiceOverdue + "#email": {
		TemplateID: TemplateInvoiceOverdue,
		Channel:    "email",
		Subject:    "Invoice {{.invoice_number}} is overdue",
		Body:       "Dear {{.student_name}},\n\nInvoice {{.invoice_number}} for {{.period}} was due on {{.due_date}}.\nOutstanding: {{.amount}}\n\nPlease settle it at your earliest convenience.",
	},
}

// INotificationTemplateService resolves message templates per event and channel.
type INotificationTemplateService interface {
	GetTemplate(ctx context.Context, templateID, channel string) (*models.NotificationTemplate, error)
	SaveTemplate(ctx context.Context, template *models.NotificationTemplate) error
	DeleteTemplate(ctx context.Context, templateID, channel string) error
}

type NotificationTemplateService struct {
	db *mongo.Database
}

func NewNotificationTemplateService(db *mongo.Database) *NotificationTemplateService {
	return &NotificationTemplateService{db: db}
}

// GetTemplate prefers a stored template and falls back to the built-in one.
func (s *NotificationTemplateService) GetTemplate(ctx context.Context, templateID, channel string) (*models.NotificationTemplate, error) {
	filter := bson.M{"templateId": templateID, "channel": channel}

	var template models.NotificationTemplate
	err := s.db.Collection(db.NotificationTemplatesCollection).FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if def, ok := DefaultNotificationTemplate(templateID, channel); ok {
				return def, nil
			}
			return nil, fmt.Errorf("%w: %s (channel: %s)", ErrTemplateNotFound, templateID, channel)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}
	return &template, nil
}

// DefaultNotificationTemplate returns a copy of the built-in template.
func DefaultNotificationTemplate(templateID, channel string) (*models.NotificationTemplate, bool) {
	t, ok := defaultNotificationTemplates[templateID+"#"+channel]
	if !ok {
		return nil, false
	}
	return &t, true
}

func (s *NotificationTemplateService) SaveTemplate(ctx context.Context, template *models.NotificationTemplate) error {
	filter := bson.M{"templateId": template.TemplateID, "channel": template.Channel}
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"templateId": template.TemplateID,
			"channel":    template.Channel,
			"subject":    template.Subject,
			"body":       template.Body,
			"updatedAt":  now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	// Concurrent upserts of a new template collide on the unique index.
	err := db.WithRetries(func() error {
		_, err := s.db.Collection(db.NotificationTemplatesCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		return err
	}, db.DefaultMaxRetries, func(err error) bool {
		return db.IsDuplicateOnIndex(err, db.IndexTemplateChannel)
	})
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

func (s *NotificationTemplateService) DeleteTemplate(ctx context.Context, templateID, channel string) error {
	filter := bson.M{"templateId": templateID, "channel": channel}
	if _, err := s.db.Collection(db.NotificationTemplatesCollection).DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}
