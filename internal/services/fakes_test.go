package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/notify"
	"github.com/atiamdev/cms-backend-sub002/internal/utils"
)

// memCourses mirrors the course query of courseService.
type memCourses struct {
	mu      sync.Mutex
	courses []models.Course
	err     error
	calls   int
}

func (m *memCourses) FindBillableCourses(ctx context.Context, frequency models.BillingFrequency, branchID *primitive.ObjectID) ([]models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Course
	for _, c := range m.courses {
		fs := c.FeeStructure
		if fs == nil || fs.BillingFrequency != frequency || !fs.IsActive {
			continue
		}
		if branchID != nil && c.BranchID != *branchID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memCourses) FindByID(ctx context.Context, courseID primitive.ObjectID) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.courses {
		if c.ID == courseID {
			c := c
			return &c, nil
		}
	}
	return nil, ErrCourseNotFound
}

func (m *memCourses) Create(ctx context.Context, course *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	course.GenIDIfEmpty()
	m.courses = append(m.courses, *course)
	return nil
}

// memStudents mirrors the eligibility query of studentService.
type memStudents struct {
	mu        sync.Mutex
	students  []*models.Student
	failFor   map[primitive.ObjectID]error
	creditErr error
}

func (m *memStudents) FindEligibleStudents(ctx context.Context, courseID primitive.ObjectID, branchID, studentID *primitive.ObjectID) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[courseID]; ok {
		return nil, err
	}
	var out []models.Student
	for _, s := range m.students {
		if !s.ActiveIn(courseID) || !s.IsBillable() {
			continue
		}
		if branchID != nil && s.BranchID != *branchID {
			continue
		}
		if studentID != nil && s.ID != *studentID {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStudents) FindByID(ctx context.Context, studentID primitive.ObjectID) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.ID == studentID {
			c := *s
			return &c, nil
		}
	}
	return nil, ErrStudentNotFound
}

func (m *memStudents) Create(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	student.GenIDIfEmpty()
	m.students = append(m.students, student)
	return nil
}

func (m *memStudents) AdjustCredit(ctx context.Context, studentID primitive.ObjectID, delta float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creditErr != nil {
		return false, m.creditErr
	}
	for _, s := range m.students {
		if s.ID == studentID {
			if delta < 0 && s.CreditBalance < -delta {
				return false, nil
			}
			s.CreditBalance += delta
			return true, nil
		}
	}
	return false, nil
}

func (m *memStudents) credit(id primitive.ObjectID) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.ID == id {
			return s.CreditBalance
		}
	}
	return 0
}

// memFees enforces the same unique keys as the fees indexes, atomically per
// InsertFees call.
type memFees struct {
	mu      sync.Mutex
	fees    []*models.Fee
	scanned func()
	// afterScan runs once, after the first period scan, to let a test slip
	// a competing invoice in between scanning and inserting.
	afterScan  func(m *memFees)
	paymentErr error
	// failInsertOn makes the n-th InsertFees call fail as a lost connection.
	failInsertOn int
	insertCalls  int
}

func feeNaturalKey(f *models.Fee) string {
	if f.IsConsolidated {
		return fmt.Sprintf("c|%s|%s|%d", f.StudentID.Hex(), f.InvoiceType, f.PeriodStart.Unix())
	}
	course := ""
	if f.CourseID != nil {
		course = f.CourseID.Hex()
	}
	return fmt.Sprintf("n|%s|%s|%s|%d", f.StudentID.Hex(), course, f.InvoiceType, f.PeriodStart.Unix())
}

func (m *memFees) put(f *models.Fee) bool {
	key := feeNaturalKey(f)
	for _, existing := range m.fees {
		if feeNaturalKey(existing) == key {
			return false
		}
	}
	c := *f
	m.fees = append(m.fees, &c)
	return true
}

func (m *memFees) FindInvoicedStudentsForPeriod(ctx context.Context, invoiceType models.BillingFrequency, periodStart time.Time, branchID *primitive.ObjectID) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	var ids []primitive.ObjectID
	for _, f := range m.fees {
		if f.InvoiceType != invoiceType || !f.PeriodStart.Equal(periodStart) || f.FeeStructureID != nil {
			continue
		}
		if branchID != nil && f.BranchID != *branchID {
			continue
		}
		ids = append(ids, f.StudentID)
	}
	hook := m.afterScan
	m.afterScan = nil
	m.mu.Unlock()

	if m.scanned != nil {
		m.scanned()
	}
	if hook != nil {
		hook(m)
	}
	return ids, nil
}

func (m *memFees) FindInvoicedStudentsForCourse(ctx context.Context, courseID primitive.ObjectID, periodYear, periodMonth int, periodStart time.Time) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	var ids []primitive.ObjectID
	for _, f := range m.fees {
		covers := (f.CourseID != nil && *f.CourseID == courseID) || lo.Contains(f.Metadata.CourseIDs, courseID)
		if !covers {
			continue
		}
		if f.PeriodYear == periodYear && f.PeriodMonth == periodMonth && f.PeriodStart.Equal(periodStart) {
			ids = append(ids, f.StudentID)
		}
	}
	hook := m.afterScan
	m.afterScan = nil
	m.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return ids, nil
}

func (m *memFees) InsertFees(ctx context.Context, fees []*models.Fee) (*FeeInsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertCalls == m.failInsertOn {
		return nil, errors.New("connection reset by peer")
	}
	result := &FeeInsertResult{}
	for _, f := range fees {
		f.GenIDIfEmpty()
		if f.InvoiceNumber == "" {
			f.InvoiceNumber = utils.InvoiceNumber(f.PeriodStart)
		}
		if m.put(f) {
			result.Inserted = append(result.Inserted, f)
		} else {
			result.Duplicates = append(result.Duplicates, f)
		}
	}
	return result, nil
}

// insertExisting stores a fee as if another process had created it.
func (m *memFees) insertExisting(f *models.Fee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.GenIDIfEmpty()
	m.put(f)
}

func (m *memFees) FindByID(ctx context.Context, feeID primitive.ObjectID) (*models.Fee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fees {
		if f.ID == feeID {
			c := *f
			return &c, nil
		}
	}
	return nil, ErrFeeNotFound
}

func (m *memFees) FindByInvoiceNumber(ctx context.Context, number string) (*models.Fee, error) {
	normalized, err := utils.NormalizeInvoiceNumber(number)
	if err != nil {
		return nil, ErrInvalidInvoiceNumber
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fees {
		if f.InvoiceNumber == normalized {
			c := *f
			return &c, nil
		}
	}
	return nil, ErrFeeNotFound
}

func (m *memFees) ListByStudent(ctx context.Context, studentID primitive.ObjectID, filter FeeListFilter) ([]models.Fee, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Fee{}
	for _, f := range m.fees {
		if f.StudentID == studentID {
			out = append(out, *f)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memFees) RecordPayment(ctx context.Context, feeID primitive.ObjectID, payment models.FeePayment) (*models.Fee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paymentErr != nil {
		return nil, m.paymentErr
	}
	for _, f := range m.fees {
		if f.ID == feeID {
			f.AmountPaid += payment.Amount
			f.Payments = append(f.Payments, payment)
			f.Status = models.FeeStatusPartiallyPaid
			if f.Outstanding() <= 0 {
				f.Status = models.FeeStatusPaid
			}
			c := *f
			return &c, nil
		}
	}
	return nil, ErrFeeNotFound
}

func (m *memFees) FindOverdueFees(ctx context.Context, now time.Time) ([]models.Fee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Fee
	for _, f := range m.fees {
		open := f.Status == models.FeeStatusPending || f.Status == models.FeeStatusPartiallyPaid
		if open && f.DueDate.Before(now) && !f.OverdueNotified {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memFees) MarkFeeOverdue(ctx context.Context, feeID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fees {
		if f.ID == feeID {
			f.Status = models.FeeStatusOverdue
			f.OverdueNotified = true
			return nil
		}
	}
	return ErrFeeNotFound
}

func (m *memFees) all() []*models.Fee {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Fee(nil), m.fees...)
}

// stubSettings is an IConfigService backed by a map.
type stubSettings struct {
	values map[string]interface{}
}

func (s *stubSettings) get(key string) (interface{}, bool) {
	if s == nil || s.values == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

func (s *stubSettings) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	return s.values, nil
}
func (s *stubSettings) Get(ctx context.Context, key string) (interface{}, error) {
	if v, ok := s.get(key); ok {
		return v, nil
	}
	return nil, fmt.Errorf("config key '%s' not found", key)
}
func (s *stubSettings) GetInt(ctx context.Context, key string, defaultValue int) int {
	if v, ok := s.get(key); ok {
		if i, ok := v.(int); ok {
			return i
		}
	}
	return defaultValue
}
func (s *stubSettings) GetString(ctx context.Context, key string, defaultValue string) string {
	if v, ok := s.get(key); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return defaultValue
}
func (s *stubSettings) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	if v, ok := s.get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}
func (s *stubSettings) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	if v, ok := s.get(key); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return defaultValue
}
func (s *stubSettings) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	return defaultValue
}
func (s *stubSettings) Load(ctx context.Context) error               { return nil }
func (s *stubSettings) SubscribeToChanges(ctx context.Context) error { return nil }
func (s *stubSettings) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	if s.values == nil {
		s.values = map[string]interface{}{}
	}
	s.values[key] = value
	return nil
}

// recordingNotifier records every batch it is given.
type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]InvoiceNotification
	overdue []primitive.ObjectID
	err     error
}

func (n *recordingNotifier) NotifyStudentsOfInvoices(ctx context.Context, batch []InvoiceNotification) (*NotificationSummary, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, batch)
	if n.err != nil {
		return nil, n.err
	}
	return &NotificationSummary{Total: len(batch), Successful: len(batch)}, nil
}

func (n *recordingNotifier) NotifyOverdue(ctx context.Context, fee *models.Fee) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overdue = append(n.overdue, fee.ID)
	return n.err
}

type mockCredits struct {
	mock.Mock
}

func (m *mockCredits) ApplyCreditToNewInvoice(ctx context.Context, studentID, feeID primitive.ObjectID) (float64, error) {
	args := m.Called(ctx, studentID, feeID)
	return args.Get(0).(float64), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req notify.DeliveryRequest) error {
	return m.Called(ctx, req).Error(0)
}

// memNotices stores notices in a slice.
type memNotices struct {
	mu      sync.Mutex
	notices []models.Notice
	err     error
}

func (m *memNotices) Create(ctx context.Context, notice *models.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	notice.GenIDIfEmpty()
	m.notices = append(m.notices, *notice)
	return nil
}

func (m *memNotices) List(ctx context.Context, filter NoticeFilter) ([]models.Notice, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notices, int64(len(m.notices)), nil
}

func (m *memNotices) Delete(ctx context.Context, noticeID primitive.ObjectID, branchID *primitive.ObjectID) error {
	return nil
}
