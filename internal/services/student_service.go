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

// IStudentService reads students for billing and maintains their credit balance.
type IStudentService interface {
	FindEligibleStudents(ctx context.Context, courseID primitive.ObjectID, branchID, studentID *primitive.ObjectID) ([]models.Student, error)
	FindByID(ctx context.Context, studentID primitive.ObjectID) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	// AdjustCredit adds delta to the credit balance. A negative delta only
	// applies when the balance covers it; ok is false otherwise.
	AdjustCredit(ctx context.Context, studentID primitive.ObjectID, delta float64) (ok bool, err error)
}

type studentService struct {
	db *mongo.Database
}

func NewStudentService(db *mongo.Database) IStudentService {
	return &studentService{db: db}
}

// FindEligibleStudents returns students with an active enrollment in
// courseID whose academic status still allows billing.
func (s *studentService) FindEligibleStudents(ctx context.Context, courseID primitive.ObjectID, branchID, studentID *primitive.ObjectID) ([]models.Student, error) {
	filter := bson.M{
		"courses": bson.M{"$elemMatch": bson.M{
			"courseId": courseID,
			"status":   models.EnrollmentActive,
		}},
		"academicStatus": bson.M{"$in": models.BillableAcademicStatuses},
	}
	if branchID != nil {
		filter["branchId"] = *branchID
	}
	if studentID != nil {
		filter["_id"] = *studentID
	}

	cursor, err := s.db.Collection(db.StudentsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query students of course %s: %w", courseID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var students []models.Student
	if err := cursor.All(ctx, &students); err != nil {
		return nil, fmt.Errorf("failed to decode students: %w", err)
	}
	return students, nil
}

func (s *studentService) FindByID(ctx context.Context, studentID primitive.ObjectID) (*models.Student, error) {
	var student models.Student
	err := s.db.Collection(db.StudentsCollection).FindOne(ctx, bson.M{"_id": studentID}).Decode(&student)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to find student %s: %w", studentID.Hex(), err)
	}
	return &student, nil
}

func (s *studentService) Create(ctx context.Context, student *models.Student) error {
	student.GenIDIfEmpty()
	student.Touch(time.Now().UTC())
	if _, err := s.db.Collection(db.StudentsCollection).InsertOne(ctx, student); err != nil {
		return fmt.Errorf("failed to insert student: %w", err)
	}
	return nil
}

func (s *studentService) AdjustCredit(ctx context.Context, studentID primitive.ObjectID, delta float64) (bool, error) {
	filter := bson.M{"_id": studentID}
	if delta < 0 {
		filter["creditBalance"] = bson.M{"$gte": -delta}
	}
	update := bson.M{
		"$inc": bson.M{"creditBalance": delta},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	res, err := s.db.Collection(db.StudentsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to adjust credit of student %s: %w", studentID.Hex(), err)
	}
	return res.ModifiedCount == 1, nil
}
