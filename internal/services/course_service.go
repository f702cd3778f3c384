package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/atiamdev/cms-backend-sub002/internal/db"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// ICourseService reads courses and their embedded fee structures.
type ICourseService interface {
	FindBillableCourses(ctx context.Context, frequency models.BillingFrequency, branchID *primitive.ObjectID) ([]models.Course, error)
	FindByID(ctx context.Context, courseID primitive.ObjectID) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
}

type courseService struct {
	db *mongo.Database
}

func NewCourseService(db *mongo.Database) ICourseService {
	return &courseService{db: db}
}

// FindBillableCourses returns courses whose active fee structure bills at
// the given frequency, optionally limited to one branch.
func (s *courseService) FindBillableCourses(ctx context.Context, frequency models.BillingFrequency, branchID *primitive.ObjectID) ([]models.Course, error) {
	filter := bson.M{
		"feeStructure.billingFrequency": frequency,
		"feeStructure.isActive":         true,
	}
	if branchID != nil {
		filter["branchId"] = *branchID
	}

	cursor, err := s.db.Collection(db.CoursesCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s courses: %w", frequency, err)
	}
	defer cursor.Close(ctx)

	var courses []models.Course
	if err := cursor.All(ctx, &courses); err != nil {
		return nil, fmt.Errorf("failed to decode courses: %w", err)
	}
	return courses, nil
}

func (s *courseService) FindByID(ctx context.Context, courseID primitive.ObjectID) (*models.Course, error) {
	var course models.Course
	err := s.db.Collection(db.CoursesCollection).FindOne(ctx, bson.M{"_id": courseID}).Decode(&course)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to find course %s: %w", courseID.Hex(), err)
	}
	return &course, nil
}

func (s *courseService) Create(ctx context.Context, course *models.Course) error {
	course.GenIDIfEmpty()
	course.Touch(time.Now().UTC())
	if _, err := s.db.Collection(db.CoursesCollection).InsertOne(ctx, course); err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}
	return nil
}
