package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/billing"
	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// Values recorded in metadata.generatedBy.
const (
	GeneratedByMonthly    = "monthly_generator"
	GeneratedByFrequency  = "frequency_generator"
	GeneratedByEnrollment = "enrollment"
)

// Skip reasons reported in generation results.
const (
	SkipReasonHasInvoice           = "has_invoice"
	SkipReasonZeroAmount           = "zero_amount"
	SkipReasonNotEnabled           = "not_enabled"
	SkipReasonTermBilling          = "term_billing"
	SkipReasonInactiveFeeStructure = "inactive_fee_structure"
	SkipReasonNotEnrolled          = "not_enrolled"
)

// IInvoiceService generates periodic invoices for course enrollments.
type IInvoiceService interface {
	// The generators return their partial result along with the error when
	// the store fails mid-run.
	GenerateMonthlyInvoices(ctx context.Context, req MonthlyInvoiceRequest) (*GenerationResult, error)
	GenerateInvoicesForFrequency(ctx context.Context, req FrequencyInvoiceRequest) (*GenerationResult, error)
	CreateInvoiceForEnrollment(ctx context.Context, req EnrollmentInvoiceRequest) (*EnrollmentInvoiceResult, error)
}

// MonthlyInvoiceRequest bills monthly courses for one calendar month. A nil
// Consolidate uses the configured default.
type MonthlyInvoiceRequest struct {
	PeriodYear  int
	PeriodMonth int
	BranchID    *primitive.ObjectID
	StudentID   *primitive.ObjectID
	InitiatedBy *primitive.ObjectID
	Consolidate *bool
}

// FrequencyInvoiceRequest bills courses of one frequency for the period
// containing Date (now when zero).
type FrequencyInvoiceRequest struct {
	Frequency   models.BillingFrequency
	Date        time.Time
	BranchID    *primitive.ObjectID
	InitiatedBy *primitive.ObjectID
	Consolidate *bool
}

// EnrollmentInvoiceRequest bills a single new enrollment. Course may be
// given directly; otherwise it is loaded by CourseID.
type EnrollmentInvoiceRequest struct {
	StudentID   primitive.ObjectID
	CourseID    primitive.ObjectID
	Course      *models.Course
	Date        time.Time
	InitiatedBy *primitive.ObjectID
}

type EnrollmentInvoiceResult struct {
	Created int    `json:"created"`
	Reason  string `json:"reason,omitempty"`
	FeeID   string `json:"feeId,omitempty"`
}

type CreatedInvoice struct {
	FeeID             string    `json:"feeId"`
	InvoiceNumber     string    `json:"invoiceNumber"`
	StudentID         string    `json:"studentId"`
	CourseIDs         []string  `json:"courseIds"`
	Amount            float64   `json:"amount"`
	ScholarshipAmount float64   `json:"scholarshipAmount"`
	DueDate           time.Time `json:"dueDate"`
}

type SkippedInvoice struct {
	StudentID string `json:"studentId"`
	CourseID  string `json:"courseId,omitempty"`
	Reason    string `json:"reason"`
}

type InvoiceError struct {
	StudentID string `json:"studentId,omitempty"`
	CourseID  string `json:"courseId,omitempty"`
	Error     string `json:"error"`
}

type GenerationDetails struct {
	Created []CreatedInvoice `json:"created"`
	Skipped []SkippedInvoice `json:"skipped"`
	Errors  []InvoiceError   `json:"errors"`
}

// GenerationResult summarises one generation run.
type GenerationResult struct {
	RunID             string                  `json:"runId"`
	Frequency         models.BillingFrequency `json:"frequency"`
	PeriodStart       time.Time               `json:"periodStart"`
	PeriodYear        int                     `json:"periodYear"`
	PeriodMonth       int                     `json:"periodMonth"`
	Consolidated      bool                    `json:"consolidated"`
	Created           int                     `json:"created"`
	Skipped           int                     `json:"skipped"`
	NotificationsSent int                     `json:"notificationsSent"`
	CreditApplied     float64                 `json:"creditApplied"`
	Details           GenerationDetails       `json:"details"`
}

func (r *GenerationResult) addCreated(f *models.Fee) {
	r.Created++
	r.Details.Created = append(r.Details.Created, CreatedInvoice{
		FeeID:             f.ID.Hex(),
		InvoiceNumber:     f.InvoiceNumber,
		StudentID:         f.StudentID.Hex(),
		CourseIDs:         lo.Map(feeCourseIDs(f), func(id primitive.ObjectID, _ int) string { return id.Hex() }),
		Amount:            f.TotalAmountDue,
		ScholarshipAmount: f.ScholarshipAmount,
		DueDate:           f.DueDate,
	})
}

func (r *GenerationResult) addSkip(studentID, courseID, reason string) {
	r.Skipped++
	r.Details.Skipped = append(r.Details.Skipped, SkippedInvoice{StudentID: studentID, CourseID: courseID, Reason: reason})
}

func (r *GenerationResult) addError(studentID, courseID string, err error) {
	r.Details.Errors = append(r.Details.Errors, InvoiceError{StudentID: studentID, CourseID: courseID, Error: err.Error()})
}

func feeCourseIDs(f *models.Fee) []primitive.ObjectID {
	if len(f.Metadata.CourseIDs) > 0 {
		return f.Metadata.CourseIDs
	}
	if f.CourseID != nil {
		return []primitive.ObjectID{*f.CourseID}
	}
	return nil
}

type invoiceService struct {
	cfg      *config.Config
	settings IConfigService
	courses  ICourseService
	students IStudentService
	fees     IFeeService
	credits  IPaymentReconciliationService
	notifier IInvoiceNotificationService
	now      func() time.Time
}

// NewInvoiceService wires the generator. credits and notifier may be nil,
// in which case the matching post-processing step is skipped.
func NewInvoiceService(
	cfg *config.Config,
	settings IConfigService,
	courses ICourseService,
	students IStudentService,
	fees IFeeService,
	credits IPaymentReconciliationService,
	notifier IInvoiceNotificationService,
) IInvoiceService {
	return &invoiceService{
		cfg:      cfg,
		settings: settings,
		courses:  courses,
		students: students,
		fees:     fees,
		credits:  credits,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// invoiceRun is the resolved input of one generation run.
type invoiceRun struct {
	id          string
	frequency   models.BillingFrequency
	periodStart time.Time
	periodYear  int
	periodMonth int
	branchID    *primitive.ObjectID
	studentID   *primitive.ObjectID
	initiatedBy *primitive.ObjectID
	consolidate bool
	generatedBy string
}

func (r invoiceRun) logf(format string, args ...interface{}) {
	log.Printf("Invoice run %s [%s %s]: %s", r.id, r.frequency, r.periodStart.Format("2006-01-02"), fmt.Sprintf(format, args...))
}

func (s *invoiceService) setting(ctx context.Context, key string, defaultValue bool) bool {
	if s.settings == nil {
		return defaultValue
	}
	return s.settings.GetBool(ctx, key, defaultValue)
}

func (s *invoiceService) consolidate(ctx context.Context, requested *bool) bool {
	if requested != nil {
		return *requested
	}
	return s.setting(ctx, SettingInvoiceConsolidateDefault, s.cfg.InvoiceConsolidateDefault)
}

func (s *invoiceService) GenerateMonthlyInvoices(ctx context.Context, req MonthlyInvoiceRequest) (*GenerationResult, error) {
	if req.PeriodYear < 1970 || req.PeriodYear > 9999 {
		return nil, fmt.Errorf("%w: year %d", ErrInvalidPeriod, req.PeriodYear)
	}
	if req.PeriodMonth < 1 || req.PeriodMonth > 12 {
		return nil, fmt.Errorf("%w: month %d", ErrInvalidPeriod, req.PeriodMonth)
	}

	return s.run(ctx, invoiceRun{
		id:          uuid.NewString(),
		frequency:   models.FrequencyMonthly,
		periodStart: billing.MonthStart(req.PeriodYear, req.PeriodMonth),
		periodYear:  req.PeriodYear,
		periodMonth: req.PeriodMonth,
		branchID:    req.BranchID,
		studentID:   req.StudentID,
		initiatedBy: req.InitiatedBy,
		consolidate: s.consolidate(ctx, req.Consolidate),
		generatedBy: GeneratedByMonthly,
	})
}

func (s *invoiceService) GenerateInvoicesForFrequency(ctx context.Context, req FrequencyInvoiceRequest) (*GenerationResult, error) {
	if !req.Frequency.IsPeriodic() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, req.Frequency)
	}
	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	periodStart := billing.PeriodStart(req.Frequency, date.UTC())

	return s.run(ctx, invoiceRun{
		id:          uuid.NewString(),
		frequency:   req.Frequency,
		periodStart: periodStart,
		periodYear:  periodStart.Year(),
		periodMonth: int(periodStart.Month()),
		branchID:    req.BranchID,
		initiatedBy: req.InitiatedBy,
		consolidate: s.consolidate(ctx, req.Consolidate),
		generatedBy: GeneratedByFrequency,
	})
}

// pendingInvoice collects one student's courses for a consolidated invoice.
type pendingInvoice struct {
	student    models.Student
	courseIDs  []primitive.ObjectID
	components []models.FeeComponent
	amount     float64
}

// run executes scanning, computing, inserting and post-processing for one
// period. Failures tied to one course or student are recorded in the result;
// failures of the store as a whole abort the run. An aborted run still
// post-processes the invoices it stored and returns its partial result with
// the error.
func (s *invoiceService) run(ctx context.Context, r invoiceRun) (*GenerationResult, error) {
	result := &GenerationResult{
		RunID:        r.id,
		Frequency:    r.frequency,
		PeriodStart:  r.periodStart,
		PeriodYear:   r.periodYear,
		PeriodMonth:  r.periodMonth,
		Consolidated: r.consolidate,
		Details: GenerationDetails{
			Created: []CreatedInvoice{},
			Skipped: []SkippedInvoice{},
			Errors:  []InvoiceError{},
		},
	}

	r.logf("scanning (consolidate=%t)", r.consolidate)
	courses, err := s.courses.FindBillableCourses(ctx, r.frequency, r.branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan billable courses: %w", err)
	}

	var invoiced map[primitive.ObjectID]bool
	if r.consolidate {
		ids, err := s.fees.FindInvoicedStudentsForPeriod(ctx, r.frequency, r.periodStart, r.branchID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan existing invoices: %w", err)
		}
		invoiced = idSet(ids)
	}

	var created []*models.Fee
	pending := map[primitive.ObjectID]*pendingInvoice{}
	var order []primitive.ObjectID
	skippedStudents := map[primitive.ObjectID]bool{}

	r.logf("computing over %d courses", len(courses))
	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return s.abort(ctx, r, result, created, err)
		}

		students, err := s.students.FindEligibleStudents(ctx, course.ID, r.branchID, r.studentID)
		if err != nil {
			log.Printf("Invoice run %s: course %s skipped: %v", r.id, course.ID.Hex(), err)
			result.addError("", course.ID.Hex(), err)
			continue
		}
		if len(students) == 0 {
			continue
		}
		amount := billing.Amount(course.FeeStructure)
		components := billing.Components(course.Name, course.FeeStructure)

		if r.consolidate {
			for _, student := range students {
				if !student.IsBillable() {
					continue
				}
				if invoiced[student.ID] {
					// counted once per student, however many courses they take
					if !skippedStudents[student.ID] {
						skippedStudents[student.ID] = true
						result.addSkip(student.ID.Hex(), "", SkipReasonHasInvoice)
					}
					continue
				}
				if amount <= 0 {
					result.addSkip(student.ID.Hex(), course.ID.Hex(), SkipReasonZeroAmount)
					continue
				}
				p, ok := pending[student.ID]
				if !ok {
					p = &pendingInvoice{student: student}
					pending[student.ID] = p
					order = append(order, student.ID)
				}
				p.courseIDs = append(p.courseIDs, course.ID)
				p.components = append(p.components, components...)
				p.amount += amount
			}
			continue
		}

		existing, err := s.fees.FindInvoicedStudentsForCourse(ctx, course.ID, r.periodYear, r.periodMonth, r.periodStart)
		if err != nil {
			log.Printf("Invoice run %s: course %s skipped: %v", r.id, course.ID.Hex(), err)
			result.addError("", course.ID.Hex(), err)
			continue
		}
		hasInvoice := idSet(existing)

		var batch []*models.Fee
		for _, student := range students {
			if !student.IsBillable() {
				continue
			}
			if hasInvoice[student.ID] {
				result.addSkip(student.ID.Hex(), course.ID.Hex(), SkipReasonHasInvoice)
				continue
			}
			if amount <= 0 {
				result.addSkip(student.ID.Hex(), course.ID.Hex(), SkipReasonZeroAmount)
				continue
			}
			batch = append(batch, s.buildFee(r, student, []primitive.ObjectID{course.ID}, components, amount, course.Name))
		}

		inserted, err := s.insert(ctx, r, result, batch)
		created = append(created, inserted...)
		if err != nil {
			return s.abort(ctx, r, result, created, err)
		}
	}

	if r.consolidate && len(order) > 0 {
		batch := make([]*models.Fee, 0, len(order))
		for _, id := range order {
			p := pending[id]
			batch = append(batch, s.buildFee(r, p.student, p.courseIDs, p.components, p.amount, ""))
		}
		inserted, err := s.insert(ctx, r, result, batch)
		created = append(created, inserted...)
		if err != nil {
			return s.abort(ctx, r, result, created, err)
		}
	}

	s.postProcess(ctx, r, result, created)
	r.logf("done: created=%d skipped=%d errors=%d notifications=%d",
		result.Created, result.Skipped, len(result.Details.Errors), result.NotificationsSent)
	return result, nil
}

func (s *invoiceService) postProcess(ctx context.Context, r invoiceRun, result *GenerationResult, created []*models.Fee) {
	r.logf("post-processing %d new invoices", len(created))
	result.CreditApplied = s.applyCredits(ctx, created)
	result.NotificationsSent = s.notifyCreated(ctx, created)
}

// abort finishes a run that cannot continue. Invoices already stored would
// be skipped as has_invoice by a retry, so they are reconciled and announced
// now, outside the caller's cancellation.
func (s *invoiceService) abort(ctx context.Context, r invoiceRun, result *GenerationResult, created []*models.Fee, cause error) (*GenerationResult, error) {
	r.logf("aborted after %d invoices: %v", len(created), cause)
	s.postProcess(context.WithoutCancel(ctx), r, result, created)
	return result, cause
}

// insert stores one batch. Documents that lost a natural-key race are
// reported as skipped; everything else that failed individually is an error.
func (s *invoiceService) insert(ctx context.Context, r invoiceRun, result *GenerationResult, batch []*models.Fee) ([]*models.Fee, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	r.logf("inserting %d invoices", len(batch))
	res, err := s.fees.InsertFees(ctx, batch)
	if err != nil {
		var stored []*models.Fee
		if res != nil {
			// earlier invoice-number retries may have stored part of the batch
			for _, f := range res.Inserted {
				result.addCreated(f)
			}
			stored = res.Inserted
		}
		return stored, fmt.Errorf("failed to insert invoices: %w", err)
	}

	for _, f := range res.Inserted {
		result.addCreated(f)
	}
	for _, f := range res.Duplicates {
		result.addSkip(f.StudentID.Hex(), skipCourseRef(f), SkipReasonHasInvoice)
	}
	for _, failure := range res.Failed {
		result.addError(failure.Fee.StudentID.Hex(), skipCourseRef(failure.Fee), failure.Err)
	}
	if len(res.Duplicates) > 0 {
		r.logf("%d invoices already existed at insert time", len(res.Duplicates))
	}
	return res.Inserted, nil
}

func skipCourseRef(f *models.Fee) string {
	if f.IsConsolidated || f.CourseID == nil {
		return ""
	}
	return f.CourseID.Hex()
}

func (s *invoiceService) buildFee(r invoiceRun, student models.Student, courseIDs []primitive.ObjectID, components []models.FeeComponent, amount float64, courseName string) *models.Fee {
	primary := courseIDs[0]
	label := models.PeriodLabel(r.frequency, r.periodStart)
	description := fmt.Sprintf("%s fees for %s", courseName, label)
	if r.consolidate {
		description = fmt.Sprintf("Consolidated fees for %s", label)
	}

	fee := &models.Fee{
		StudentID:         student.ID,
		BranchID:          student.BranchID,
		CourseID:          &primary,
		PeriodYear:        r.periodYear,
		PeriodMonth:       r.periodMonth,
		PeriodStart:       r.periodStart,
		InvoiceType:       r.frequency,
		IsConsolidated:    r.consolidate,
		FeeComponents:     components,
		TotalAmountDue:    amount,
		ScholarshipAmount: billing.ScholarshipAmount(amount, student.ScholarshipPercentage),
		Status:            models.FeeStatusPending,
		DueDate:           billing.DueDate(r.frequency, r.periodStart, student.EnrollmentDate),
		Description:       description,
		Metadata: models.FeeMetadata{
			GeneratedBy: r.generatedBy,
			InitiatedBy: r.initiatedBy,
			RunID:       r.id,
		},
	}
	if r.consolidate {
		fee.Metadata.CourseIDs = courseIDs
	}
	return fee
}

// applyCredits runs credit reconciliation for each new invoice. Failures
// are logged and never undo the invoice.
func (s *invoiceService) applyCredits(ctx context.Context, fees []*models.Fee) float64 {
	if s.credits == nil {
		return 0
	}
	total := 0.0
	for _, fee := range fees {
		applied, err := s.credits.ApplyCreditToNewInvoice(ctx, fee.StudentID, fee.ID)
		if err != nil {
			log.Printf("Credit reconciliation for fee %s (student %s) failed: %v", fee.ID.Hex(), fee.StudentID.Hex(), err)
			continue
		}
		total += applied
	}
	return total
}

// notifyCreated sends one batch for all new invoices and returns how many
// students were notified.
func (s *invoiceService) notifyCreated(ctx context.Context, fees []*models.Fee) int {
	if len(fees) == 0 || s.notifier == nil {
		return 0
	}
	if !s.setting(ctx, SettingInvoiceNotificationsEnabled, s.cfg.InvoiceNotificationsEnabled) {
		log.Printf("Invoice notifications disabled, %d invoices not announced", len(fees))
		return 0
	}

	batch := lo.Map(fees, func(f *models.Fee, _ int) InvoiceNotification {
		return InvoiceNotification{
			StudentID:     f.StudentID,
			FeeID:         f.ID,
			BranchID:      f.BranchID,
			InvoiceNumber: f.InvoiceNumber,
			Amount:        f.TotalAmountDue,
			DueDate:       f.DueDate,
			Period:        f.PeriodLabel(),
		}
	})
	summary, err := s.notifier.NotifyStudentsOfInvoices(ctx, batch)
	if err != nil {
		log.Printf("Invoice notification batch failed: %v", err)
	}
	if summary == nil {
		return 0
	}
	return summary.Successful
}

func (s *invoiceService) CreateInvoiceForEnrollment(ctx context.Context, req EnrollmentInvoiceRequest) (*EnrollmentInvoiceResult, error) {
	course := req.Course
	if course == nil {
		var err error
		if course, err = s.courses.FindByID(ctx, req.CourseID); err != nil {
			return nil, err
		}
	}

	fs := course.FeeStructure
	switch {
	case fs == nil || !fs.CreateInvoiceOnEnrollment:
		return &EnrollmentInvoiceResult{Reason: SkipReasonNotEnabled}, nil
	case fs.BillingFrequency == models.FrequencyTerm:
		return &EnrollmentInvoiceResult{Reason: SkipReasonTermBilling}, nil
	case !fs.BillingFrequency.IsPeriodic():
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, fs.BillingFrequency)
	case !fs.IsActive:
		return &EnrollmentInvoiceResult{Reason: SkipReasonInactiveFeeStructure}, nil
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if !student.ActiveIn(course.ID) {
		return &EnrollmentInvoiceResult{Reason: SkipReasonNotEnrolled}, nil
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	periodStart := billing.PeriodStart(fs.BillingFrequency, date.UTC())
	r := invoiceRun{
		id:          uuid.NewString(),
		frequency:   fs.BillingFrequency,
		periodStart: periodStart,
		periodYear:  periodStart.Year(),
		periodMonth: int(periodStart.Month()),
		initiatedBy: req.InitiatedBy,
		generatedBy: GeneratedByEnrollment,
	}

	existing, err := s.fees.FindInvoicedStudentsForCourse(ctx, course.ID, r.periodYear, r.periodMonth, r.periodStart)
	if err != nil {
		return nil, err
	}
	if lo.Contains(existing, student.ID) {
		return &EnrollmentInvoiceResult{Reason: SkipReasonHasInvoice}, nil
	}

	amount := billing.Amount(fs)
	if amount <= 0 {
		return &EnrollmentInvoiceResult{Reason: SkipReasonZeroAmount}, nil
	}

	fee := s.buildFee(r, *student, []primitive.ObjectID{course.ID}, billing.Components(course.Name, fs), amount, course.Name)
	res, err := s.fees.InsertFees(ctx, []*models.Fee{fee})
	if err != nil {
		return nil, fmt.Errorf("failed to insert enrollment invoice: %w", err)
	}
	if len(res.Duplicates) > 0 {
		return &EnrollmentInvoiceResult{Reason: SkipReasonHasInvoice}, nil
	}
	if len(res.Failed) > 0 {
		return nil, res.Failed[0].Err
	}

	r.logf("enrollment invoice %s created for student %s", fee.InvoiceNumber, student.ID.Hex())
	s.applyCredits(ctx, res.Inserted)
	s.notifyCreated(ctx, res.Inserted)
	return &EnrollmentInvoiceResult{Created: 1, FeeID: fee.ID.Hex()}, nil
}

func idSet(ids []primitive.ObjectID) map[primitive.ObjectID]bool {
	return lo.Associate(ids, func(id primitive.ObjectID) (primitive.ObjectID, bool) { return id, true })
}
