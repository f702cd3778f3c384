package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/notify"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
	"github.com/atiamdev/cms-backend-sub002/internal/storage"
)

// TaskType defines the type of a background task.
const (
	TypeInvoiceGenerateMonthly   = "billing:invoice:generate_monthly"
	TypeInvoiceGenerateFrequency = "billing:invoice:generate_frequency"
	TypeInvoiceCheckOverdue      = "billing:invoice:check_overdue"
	TypeNotificationDeliver      = "notification:deliver"
)

// Queue names. Generation runs are few and heavy; notifications are many.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// --- Task Client (Enqueuing tasks) ---

// RedisOpt derives asynq connection options from an existing Redis client.
func RedisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(RedisOpt(rdb))
}

// Enqueuer is implemented by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// MonthlyInvoicePayload asks for a monthly run. A zero year or month means
// the current month at processing time, which is what scheduled runs use.
type MonthlyInvoicePayload struct {
	PeriodYear  int    `json:"period_year,omitempty"`
	PeriodMonth int    `json:"period_month,omitempty"`
	BranchID    string `json:"branch_id,omitempty"`
	StudentID   string `json:"student_id,omitempty"`
	InitiatedBy string `json:"initiated_by,omitempty"`
	Consolidate *bool  `json:"consolidate,omitempty"`
}

// FrequencyInvoicePayload asks for a run of one billing frequency. Date is
// YYYY-MM-DD; empty means the processing time.
type FrequencyInvoicePayload struct {
	Frequency   models.BillingFrequency `json:"frequency"`
	Date        string                  `json:"date,omitempty"`
	BranchID    string                  `json:"branch_id,omitempty"`
	InitiatedBy string                  `json:"initiated_by,omitempty"`
	Consolidate *bool                   `json:"consolidate,omitempty"`
}

func NewMonthlyInvoiceTask(payload MonthlyInvoicePayload) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal monthly invoice payload: %w", err)
	}
	return asynq.NewTask(TypeInvoiceGenerateMonthly, b, asynq.Queue(QueueCritical), asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}

func NewFrequencyInvoiceTask(payload FrequencyInvoicePayload) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frequency invoice payload: %w", err)
	}
	return asynq.NewTask(TypeInvoiceGenerateFrequency, b, asynq.Queue(QueueCritical), asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}

func NewCheckOverdueTask() *asynq.Task {
	return asynq.NewTask(TypeInvoiceCheckOverdue, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg       *config.Config
	settings  services.IConfigService
	invoices  services.IInvoiceService
	fees      services.IFeeService
	notifier  services.IInvoiceNotificationService
	templates notify.TemplateSource
	sender    notify.Sender
	archive   storage.IReportArchive
	now       func() time.Time
}

func NewTaskProcessor(
	cfg *config.Config,
	settings services.IConfigService,
	invoices services.IInvoiceService,
	fees services.IFeeService,
	notifier services.IInvoiceNotificationService,
	templates notify.TemplateSource,
	sender notify.Sender,
	archive storage.IReportArchive,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:       cfg,
		settings:  settings,
		invoices:  invoices,
		fees:      fees,
		notifier:  notifier,
		templates: templates,
		sender:    sender,
		archive:   archive,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetupServer configures an Asynq server. Handlers are registered on the mux
// returned by NewServeMux; the caller runs the server.
func SetupServer(redisOpt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)
}

// NewServeMux registers every background handler of p.
func NewServeMux(p *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeInvoiceGenerateMonthly, p.HandleMonthlyInvoiceTask)
	mux.HandleFunc(TypeInvoiceGenerateFrequency, p.HandleFrequencyInvoiceTask)
	mux.HandleFunc(TypeInvoiceCheckOverdue, p.HandleCheckOverdueTask)
	mux.HandleFunc(TypeNotificationDeliver, p.HandleNotificationDeliveryTask)
	log.Println("Registered background task handlers (invoices, overdue, notifications).")
	return mux
}

// --- Task Handlers ---

func (p *TaskProcessor) HandleMonthlyInvoiceTask(ctx context.Context, t *asynq.Task) error {
	var payload MonthlyInvoicePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal monthly invoice payload: %v: %w", err, asynq.SkipRetry)
	}

	req := services.MonthlyInvoiceRequest{
		PeriodYear:  payload.PeriodYear,
		PeriodMonth: payload.PeriodMonth,
		Consolidate: payload.Consolidate,
	}
	if req.PeriodYear == 0 || req.PeriodMonth == 0 {
		now := p.now()
		req.PeriodYear, req.PeriodMonth = now.Year(), int(now.Month())
	}
	var err error
	if req.BranchID, err = parseOptionalID(payload.BranchID); err != nil {
		return err
	}
	if req.StudentID, err = parseOptionalID(payload.StudentID); err != nil {
		return err
	}
	if req.InitiatedBy, err = parseOptionalID(payload.InitiatedBy); err != nil {
		return err
	}

	log.Printf("Starting monthly invoice task for %04d-%02d", req.PeriodYear, req.PeriodMonth)
	result, err := p.invoices.GenerateMonthlyInvoices(ctx, req)
	p.archiveResult(ctx, result)
	if err != nil {
		return generationError(err)
	}
	return nil
}

func (p *TaskProcessor) HandleFrequencyInvoiceTask(ctx context.Context, t *asynq.Task) error {
	var payload FrequencyInvoicePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal frequency invoice payload: %v: %w", err, asynq.SkipRetry)
	}

	req := services.FrequencyInvoiceRequest{
		Frequency:   payload.Frequency,
		Consolidate: payload.Consolidate,
	}
	if payload.Date != "" {
		date, err := time.Parse("2006-01-02", payload.Date)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", payload.Date, asynq.SkipRetry)
		}
		req.Date = date
	} else {
		req.Date = p.now()
	}
	var err error
	if req.BranchID, err = parseOptionalID(payload.BranchID); err != nil {
		return err
	}
	if req.InitiatedBy, err = parseOptionalID(payload.InitiatedBy); err != nil {
		return err
	}

	log.Printf("Starting %s invoice task for %s", req.Frequency, req.Date.Format("2006-01-02"))
	result, err := p.invoices.GenerateInvoicesForFrequency(ctx, req)
	p.archiveResult(ctx, result)
	if err != nil {
		return generationError(err)
	}
	return nil
}

// generationError keeps store failures retryable. Generation is idempotent
// per period so a retry only fills in what is missing.
func generationError(err error) error {
	if errors.Is(err, services.ErrInvalidPeriod) || errors.Is(err, services.ErrInvalidFrequency) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (p *TaskProcessor) archiveResult(ctx context.Context, result *services.GenerationResult) {
	if p.archive == nil || result == nil {
		return
	}
	if _, err := p.archive.Archive(ctx, storage.RunReportKey(result.RunID), result); err != nil {
		log.Printf("WARNING: failed to archive report of invoice run %s: %v", result.RunID, err)
	}
}

// HandleCheckOverdueTask flags open fees past their due date (plus the
// configured grace period) and reminds the students.
func (p *TaskProcessor) HandleCheckOverdueTask(ctx context.Context, t *asynq.Task) error {
	log.Println("Starting overdue invoice check...")

	grace := time.Duration(0)
	if p.settings != nil {
		grace = p.settings.GetDuration(ctx, services.SettingOverdueGracePeriod, 0)
	}
	cutoff := p.now().Add(-grace)

	fees, err := p.fees.FindOverdueFees(ctx, cutoff)
	if err != nil {
		log.Printf("Error finding overdue fees: %v", err)
		return err
	}

	marked, notified := 0, 0
	for i := range fees {
		fee := &fees[i]
		if err := p.fees.MarkFeeOverdue(ctx, fee.ID); err != nil {
			if !errors.Is(err, services.ErrFeeNotFound) {
				log.Printf("Error marking fee %s overdue: %v", fee.ID.Hex(), err)
			}
			continue
		}
		marked++
		fee.Status = models.FeeStatusOverdue
		if p.notifier == nil {
			continue
		}
		if err := p.notifier.NotifyOverdue(ctx, fee); err != nil {
			log.Printf("Overdue notification for fee %s failed: %v", fee.ID.Hex(), err)
			continue
		}
		notified++
	}

	log.Printf("Overdue check finished. %d of %d fees marked overdue, %d students notified.", marked, len(fees), notified)
	return nil
}

// HandleNotificationDeliveryTask renders and sends one queued notification.
func (p *TaskProcessor) HandleNotificationDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var req notify.DeliveryRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("failed to unmarshal notification payload: %v: %w", err, asynq.SkipRetry)
	}
	if req.To == "" {
		return fmt.Errorf("notification for fee %s has no recipient: %w", req.FeeID, asynq.SkipRetry)
	}

	err := notify.Deliver(ctx, p.templates, p.sender, req)
	if errors.Is(err, services.ErrTemplateNotFound) {
		log.Printf("Notification template %s/%s missing: %v", req.TemplateID, req.Channel, err)
		return fmt.Errorf("notification template not found: %w", asynq.SkipRetry)
	}
	if errors.Is(err, notify.ErrUnsupportedChannel) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		log.Printf("Notification sending failed (will retry): %v", err)
		return err
	}

	log.Printf("Notification delivered: channel=%s to=%s template=%s", req.Channel, req.To, req.TemplateID)
	return nil
}

func parseOptionalID(hex string) (*primitive.ObjectID, error) {
	if hex == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid object id %q: %w", hex, asynq.SkipRetry)
	}
	return &id, nil
}
