package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/notify"
)

// InvoiceNotification describes one invoice a student should hear about.
type InvoiceNotification struct {
	StudentID     primitive.ObjectID `json:"studentId"`
	FeeID         primitive.ObjectID `json:"feeId"`
	BranchID      primitive.ObjectID `json:"branchId"`
	InvoiceNumber string             `json:"invoiceNumber"`
	Amount        float64            `json:"amount"`
	DueDate       time.Time          `json:"dueDate"`
	Period        string             `json:"period"`
}

// NotificationSummary counts per-invoice outcomes of a notification batch.
type NotificationSummary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// IInvoiceNotificationService tells students about newly issued invoices.
type IInvoiceNotificationService interface {
	NotifyStudentsOfInvoices(ctx context.Context, batch []InvoiceNotification) (*NotificationSummary, error)
	NotifyOverdue(ctx context.Context, fee *models.Fee) error
}

type invoiceNotificationService struct {
	cfg        *config.Config
	settings   IConfigService
	students   IStudentService
	notices    INoticeService
	dispatcher notify.Dispatcher
}

func NewInvoiceNotificationService(cfg *config.Config, settings IConfigService, students IStudentService, notices INoticeService, dispatcher notify.Dispatcher) IInvoiceNotificationService {
	if dispatcher == nil {
		dispatcher = notify.NoopDispatcher{}
	}
	return &invoiceNotificationService{
		cfg:        cfg,
		settings:   settings,
		students:   students,
		notices:    notices,
		dispatcher: dispatcher,
	}
}

// NotifyStudentsOfInvoices posts an in-app fee notice for every invoice and
// dispatches push, WhatsApp and email messages. One failing invoice never
// stops the rest of the batch; only context cancellation is returned.
func (s *invoiceNotificationService) NotifyStudentsOfInvoices(ctx context.Context, batch []InvoiceNotification) (*NotificationSummary, error) {
	summary := &NotificationSummary{Total: len(batch)}
	whatsApp := s.settings.GetBool(ctx, SettingWhatsAppNotificationsEnabled, s.cfg.WhatsAppNotificationsEnabled)

	for _, n := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.notifyOne(ctx, n, whatsApp); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("fee %s: %v", n.FeeID.Hex(), err))
			log.Printf("Invoice notification for fee %s failed: %v", n.FeeID.Hex(), err)
			continue
		}
		summary.Successful++
	}

	log.Printf("Invoice notifications: %d total, %d successful, %d failed", summary.Total, summary.Successful, summary.Failed)
	return summary, nil
}

func (s *invoiceNotificationService) notifyOne(ctx context.Context, n InvoiceNotification, whatsApp bool) error {
	student, err := s.students.FindByID(ctx, n.StudentID)
	if err != nil {
		return err
	}

	feeID := n.FeeID
	notice := &models.Notice{
		BranchID:         n.BranchID,
		Title:            fmt.Sprintf("New invoice for %s", n.Period),
		Content:          fmt.Sprintf("Invoice %s of %s has been issued and is due on %s.", n.InvoiceNumber, formatAmount(n.Amount), n.DueDate.Format("2 Jan 2006")),
		Type:             models.NoticeTypeFee,
		Priority:         "high",
		TargetAudience:   models.AudienceStudents,
		TargetStudentIDs: []primitive.ObjectID{n.StudentID},
		Metadata:         models.NoticeMetadata{FeeID: &feeID},
	}
	if err := s.notices.Create(ctx, notice); err != nil {
		return fmt.Errorf("notice: %w", err)
	}

	data := map[string]string{
		"student_name":   student.FullName(),
		"invoice_number": n.InvoiceNumber,
		"amount":         formatAmount(n.Amount),
		"due_date":       n.DueDate.Format("2 Jan 2006"),
		"period":         n.Period,
	}
	return s.dispatchAll(ctx, student, TemplateInvoiceCreated, n.FeeID, data, whatsApp)
}

// NotifyOverdue posts an overdue notice and sends reminders for one fee.
func (s *invoiceNotificationService) NotifyOverdue(ctx context.Context, fee *models.Fee) error {
	student, err := s.students.FindByID(ctx, fee.StudentID)
	if err != nil {
		return err
	}

	feeID := fee.ID
	notice := &models.Notice{
		BranchID:         fee.BranchID,
		Title:            fmt.Sprintf("Invoice %s is overdue", fee.InvoiceNumber),
		Content:          fmt.Sprintf("Invoice %s for %s was due on %s. Outstanding: %s.", fee.InvoiceNumber, fee.PeriodLabel(), fee.DueDate.Format("2 Jan 2006"), formatAmount(fee.Outstanding())),
		Type:             models.NoticeTypeFee,
		Priority:         "high",
		TargetAudience:   models.AudienceStudents,
		TargetStudentIDs: []primitive.ObjectID{fee.StudentID},
		Metadata:         models.NoticeMetadata{FeeID: &feeID},
	}
	if err := s.notices.Create(ctx, notice); err != nil {
		return fmt.Errorf("notice: %w", err)
	}

	data := map[string]string{
		"student_name":   student.FullName(),
		"invoice_number": fee.InvoiceNumber,
		"amount":         formatAmount(fee.Outstanding()),
		"due_date":       fee.DueDate.Format("2 Jan 2006"),
		"period":         fee.PeriodLabel(),
	}
	whatsApp := s.settings.GetBool(ctx, SettingWhatsAppNotificationsEnabled, s.cfg.WhatsAppNotificationsEnabled)
	return s.dispatchAll(ctx, student, TemplateInvoiceOverdue, fee.ID, data, whatsApp)
}

func (s *invoiceNotificationService) dispatchAll(ctx context.Context, student *models.Student, templateID string, feeID primitive.ObjectID, data map[string]string, whatsApp bool) error {
	requests := []notify.DeliveryRequest{{
		Channel: notify.ChannelPush,
		To:      student.ID.Hex(),
	}}
	if whatsApp && student.Phone != "" {
		requests = append(requests, notify.DeliveryRequest{Channel: notify.ChannelWhatsApp, To: student.Phone})
	}
	if student.Email != "" {
		requests = append(requests, notify.DeliveryRequest{Channel: notify.ChannelEmail, To: student.Email})
	}

	var firstErr error
	for _, req := range requests {
		req.TemplateID = templateID
		req.StudentID = student.ID.Hex()
		req.FeeID = feeID.Hex()
		req.Data = data
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			log.Printf("Dispatch of %s %s for fee %s failed: %v", req.Channel, templateID, feeID.Hex(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", req.Channel, err)
			}
		}
	}
	return firstErr
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
