package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/db"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/utils"
)

// IFeeService stores invoices ("fees") and answers the period lookups the
// generator uses to avoid billing a student twice.
type IFeeService interface {
	// FindInvoicedStudentsForPeriod lists students that already hold any
	// course-based invoice (feeStructureId null) starting at periodStart.
	FindInvoicedStudentsForPeriod(ctx context.Context, invoiceType models.BillingFrequency, periodStart time.Time, branchID *primitive.ObjectID) ([]primitive.ObjectID, error)
	// FindInvoicedStudentsForCourse lists students already billed for
	// courseID in the given period, by a per-course invoice or by a
	// consolidated invoice that covers the course.
	FindInvoicedStudentsForCourse(ctx context.Context, courseID primitive.ObjectID, periodYear, periodMonth int, periodStart time.Time) ([]primitive.ObjectID, error)
	InsertFees(ctx context.Context, fees []*models.Fee) (*FeeInsertResult, error)
	FindByID(ctx context.Context, feeID primitive.ObjectID) (*models.Fee, error)
	// FindByInvoiceNumber accepts the number as a person typed it.
	FindByInvoiceNumber(ctx context.Context, number string) (*models.Fee, error)
	ListByStudent(ctx context.Context, studentID primitive.ObjectID, filter FeeListFilter) ([]models.Fee, int64, error)
	RecordPayment(ctx context.Context, feeID primitive.ObjectID, payment models.FeePayment) (*models.Fee, error)
	FindOverdueFees(ctx context.Context, now time.Time) ([]models.Fee, error)
	MarkFeeOverdue(ctx context.Context, feeID primitive.ObjectID) error
}

// FeeInsertResult splits a batch into stored invoices, invoices that lost a
// natural-key race to an existing record, and invoices that failed.
type FeeInsertResult struct {
	Inserted   []*models.Fee
	Duplicates []*models.Fee
	Failed     []FeeInsertFailure
}

type FeeInsertFailure struct {
	Fee *models.Fee
	Err error
}

// FeeListFilter narrows ListByStudent. Zero values mean no restriction.
type FeeListFilter struct {
	PeriodYear  int
	PeriodMonth int
	BranchID    *primitive.ObjectID
	Page        int
	Limit       int
}

const (
	maxInvoiceNumberAttempts = 5
	defaultFeePageLimit      = 20
	maxFeePageLimit          = 100
)

var openFeeStatuses = []models.FeeStatus{models.FeeStatusPending, models.FeeStatusPartiallyPaid}

type feeService struct {
	db  *mongo.Database
	cfg *config.Config
}

func NewFeeService(db *mongo.Database, cfg *config.Config) IFeeService {
	return &feeService{db: db, cfg: cfg}
}

func (s *feeService) collection() *mongo.Collection {
	return s.db.Collection(db.FeesCollection)
}

func (s *feeService) distinctStudents(ctx context.Context, filter bson.M) ([]primitive.ObjectID, error) {
	values, err := s.collection().Distinct(ctx, "studentId", filter)
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(values))
	for _, v := range values {
		if id, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *feeService) FindInvoicedStudentsForPeriod(ctx context.Context, invoiceType models.BillingFrequency, periodStart time.Time, branchID *primitive.ObjectID) ([]primitive.ObjectID, error) {
	filter := bson.M{
		"periodStart":    periodStart,
		"invoiceType":    invoiceType,
		"feeStructureId": nil,
	}
	if branchID != nil {
		filter["branchId"] = *branchID
	}
	ids, err := s.distinctStudents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices for period %s: %w", periodStart.Format("2006-01-02"), err)
	}
	return ids, nil
}

func (s *feeService) FindInvoicedStudentsForCourse(ctx context.Context, courseID primitive.ObjectID, periodYear, periodMonth int, periodStart time.Time) ([]primitive.ObjectID, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"courseId": courseID},
			bson.M{"metadata.courseIds": courseID},
		},
		"periodYear":  periodYear,
		"periodMonth": periodMonth,
		"periodStart": periodStart,
	}
	ids, err := s.distinctStudents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices of course %s: %w", courseID.Hex(), err)
	}
	return ids, nil
}

// InsertFees stores fees with one unordered bulk insert. Natural-key
// violations are reported as duplicates. Invoice-number collisions get a
// fresh number and are retried a bounded number of times.
func (s *feeService) InsertFees(ctx context.Context, fees []*models.Fee) (*FeeInsertResult, error) {
	result := &FeeInsertResult{}
	now := time.Now().UTC()
	for _, f := range fees {
		f.GenIDIfEmpty()
		f.Touch(now)
		if f.InvoiceNumber == "" {
			f.InvoiceNumber = utils.InvoiceNumber(f.PeriodStart)
		}
	}

	pending := fees
	for attempt := 1; len(pending) > 0; attempt++ {
		docs := lo.Map(pending, func(f *models.Fee, _ int) interface{} { return f })
		outcome, err := db.InsertManyTolerant(ctx, s.collection(), docs)
		if err != nil {
			return result, err
		}

		for _, i := range outcome.Inserted {
			result.Inserted = append(result.Inserted, pending[i])
		}
		for i, ferr := range outcome.Failed {
			result.Failed = append(result.Failed, FeeInsertFailure{Fee: pending[i], Err: ferr})
		}

		collisions := outcome.DuplicatesOnIndex(db.IndexInvoiceNumber)
		for _, i := range lo.Without(outcome.Duplicates, collisions...) {
			result.Duplicates = append(result.Duplicates, pending[i])
		}

		var retry []*models.Fee
		for _, i := range collisions {
			f := pending[i]
			if attempt >= maxInvoiceNumberAttempts {
				result.Failed = append(result.Failed, FeeInsertFailure{
					Fee: f,
					Err: fmt.Errorf("invoice number still colliding after %d attempts", attempt),
				})
				continue
			}
			log.Printf("Invoice number %s already taken, regenerating", f.InvoiceNumber)
			f.InvoiceNumber = utils.InvoiceNumber(f.PeriodStart)
			retry = append(retry, f)
		}
		pending = retry
	}
	return result, nil
}

func (s *feeService) FindByID(ctx context.Context, feeID primitive.ObjectID) (*models.Fee, error) {
	var fee models.Fee
	err := s.collection().FindOne(ctx, bson.M{"_id": feeID}).Decode(&fee)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrFeeNotFound
		}
		return nil, fmt.Errorf("failed to find fee %s: %w", feeID.Hex(), err)
	}
	return &fee, nil
}

func (s *feeService) FindByInvoiceNumber(ctx context.Context, number string) (*models.Fee, error) {
	normalized, err := utils.NormalizeInvoiceNumber(number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoiceNumber, err)
	}
	var fee models.Fee
	err = s.collection().FindOne(ctx, bson.M{"invoiceNumber": normalized}).Decode(&fee)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrFeeNotFound
		}
		return nil, fmt.Errorf("failed to find fee %s: %w", normalized, err)
	}
	return &fee, nil
}

func (s *feeService) ListByStudent(ctx context.Context, studentID primitive.ObjectID, filter FeeListFilter) ([]models.Fee, int64, error) {
	query := bson.M{"studentId": studentID}
	if filter.PeriodYear > 0 {
		query["periodYear"] = filter.PeriodYear
	}
	if filter.PeriodMonth > 0 {
		query["periodMonth"] = filter.PeriodMonth
	}
	if filter.BranchID != nil {
		query["branchId"] = *filter.BranchID
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultFeePageLimit
	}
	if limit > maxFeePageLimit {
		limit = maxFeePageLimit
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	total, err := s.collection().CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count fees of student %s: %w", studentID.Hex(), err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "periodStart", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := s.collection().Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query fees of student %s: %w", studentID.Hex(), err)
	}
	defer cursor.Close(ctx)

	fees := []models.Fee{}
	if err := cursor.All(ctx, &fees); err != nil {
		return nil, 0, fmt.Errorf("failed to decode fees: %w", err)
	}
	return fees, total, nil
}

// RecordPayment appends a payment, increases amountPaid and moves the fee to
// paid or partially_paid depending on what is left outstanding.
func (s *feeService) RecordPayment(ctx context.Context, feeID primitive.ObjectID, payment models.FeePayment) (*models.Fee, error) {
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	update := bson.M{
		"$inc":  bson.M{"amountPaid": payment.Amount},
		"$push": bson.M{"payments": payment},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var fee models.Fee
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": feeID}, update, opts).Decode(&fee)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrFeeNotFound
		}
		return nil, fmt.Errorf("failed to record payment on fee %s: %w", feeID.Hex(), err)
	}

	fee.Status = models.FeeStatusPartiallyPaid
	if fee.Outstanding() <= 0 {
		fee.Status = models.FeeStatusPaid
	}
	if _, err := s.collection().UpdateOne(ctx, bson.M{"_id": feeID}, bson.M{"$set": bson.M{"status": fee.Status}}); err != nil {
		return nil, fmt.Errorf("failed to update status of fee %s: %w", feeID.Hex(), err)
	}
	return &fee, nil
}

// FindOverdueFees returns open fees past their due date that have not been
// flagged yet.
func (s *feeService) FindOverdueFees(ctx context.Context, now time.Time) ([]models.Fee, error) {
	filter := bson.M{
		"dueDate":         bson.M{"$lt": now},
		"status":          bson.M{"$in": openFeeStatuses},
		"overdueNotified": false,
	}
	cursor, err := s.collection().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue fees: %w", err)
	}
	defer cursor.Close(ctx)

	var fees []models.Fee
	if err = cursor.All(ctx, &fees); err != nil {
		return nil, fmt.Errorf("failed to decode overdue fees: %w", err)
	}
	return fees, nil
}

// MarkFeeOverdue flags an open fee as overdue. Fees settled in the meantime
// are left untouched and reported as not found.
func (s *feeService) MarkFeeOverdue(ctx context.Context, feeID primitive.ObjectID) error {
	filter := bson.M{"_id": feeID, "status": bson.M{"$in": openFeeStatuses}}
	update := bson.M{"$set": bson.M{
		"status":          models.FeeStatusOverdue,
		"overdueNotified": true,
		"updatedAt":       time.Now().UTC(),
	}}

	result, err := s.collection().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error marking fee %s overdue: %w", feeID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return ErrFeeNotFound
	}
	return nil
}
