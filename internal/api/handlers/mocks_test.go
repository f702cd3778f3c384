package handlers_test

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
)

// --- Mocks ---

type MockConfigService struct {
	mock.Mock
}

func (m *MockConfigService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}
func (m *MockConfigService) Get(ctx context.Context, key string) (interface{}, error) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Error(1)
}
func (m *MockConfigService) GetInt(ctx context.Context, key string, defaultValue int) int {
	return defaultValue
}
func (m *MockConfigService) GetString(ctx context.Context, key string, defaultValue string) string {
	return defaultValue
}
func (m *MockConfigService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	return defaultValue
}
func (m *MockConfigService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	return defaultValue
}
func (m *MockConfigService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	return defaultValue
}
func (m *MockConfigService) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockConfigService) SubscribeToChanges(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockConfigService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	args := m.Called(ctx, key, value, isPublic)
	return args.Error(0)
}

type MockInvoiceService struct {
	mock.Mock
}

func (m *MockInvoiceService) GenerateMonthlyInvoices(ctx context.Context, req services.MonthlyInvoiceRequest) (*services.GenerationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.GenerationResult), args.Error(1)
}
func (m *MockInvoiceService) GenerateInvoicesForFrequency(ctx context.Context, req services.FrequencyInvoiceRequest) (*services.GenerationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.GenerationResult), args.Error(1)
}
func (m *MockInvoiceService) CreateInvoiceForEnrollment(ctx context.Context, req services.EnrollmentInvoiceRequest) (*services.EnrollmentInvoiceResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.EnrollmentInvoiceResult), args.Error(1)
}

// MockFeeService mocks the lookups the fee handler uses.
type MockFeeService struct {
	services.IFeeService
	mock.Mock
}

func (m *MockFeeService) FindByID(ctx context.Context, feeID primitive.ObjectID) (*models.Fee, error) {
	args := m.Called(ctx, feeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fee), args.Error(1)
}
func (m *MockFeeService) FindByInvoiceNumber(ctx context.Context, number string) (*models.Fee, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fee), args.Error(1)
}
func (m *MockFeeService) ListByStudent(ctx context.Context, studentID primitive.ObjectID, filter services.FeeListFilter) ([]models.Fee, int64, error) {
	args := m.Called(ctx, studentID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Fee), args.Get(1).(int64), args.Error(2)
}

type MockNoticeService struct {
	mock.Mock
}

func (m *MockNoticeService) Create(ctx context.Context, notice *models.Notice) error {
	return m.Called(ctx, notice).Error(0)
}
func (m *MockNoticeService) List(ctx context.Context, filter services.NoticeFilter) ([]models.Notice, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Notice), args.Get(1).(int64), args.Error(2)
}
func (m *MockNoticeService) Delete(ctx context.Context, noticeID primitive.ObjectID, branchID *primitive.ObjectID) error {
	return m.Called(ctx, noticeID, branchID).Error(0)
}

// MockEnqueuer mocks the asynq client.
type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Archive(ctx context.Context, key string, report interface{}) (string, error) {
	args := m.Called(ctx, key, report)
	return args.String(0), args.Error(1)
}
func (m *MockArchive) PresignGet(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}
func (m *MockArchive) Enabled() bool {
	return m.Called().Bool(0)
}

type MockTemplateService struct {
	mock.Mock
}

func (m *MockTemplateService) GetTemplate(ctx context.Context, templateID, channel string) (*models.NotificationTemplate, error) {
	args := m.Called(ctx, templateID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.NotificationTemplate), args.Error(1)
}
func (m *MockTemplateService) SaveTemplate(ctx context.Context, template *models.NotificationTemplate) error {
	return m.Called(ctx, template).Error(0)
}
func (m *MockTemplateService) DeleteTemplate(ctx context.Context, templateID, channel string) error {
	return m.Called(ctx, templateID, channel).Error(0)
}
