package db

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names shared by the stores.
const (
	CoursesCollection               = "courses"
	StudentsCollection              = "students"
	FeesCollection                  = "fees"
	NoticesCollection               = "notices"
	NotificationTemplatesCollection = "notification_templates"
	ConfigCollection                = "configuration"
)

// Index names. The invoice-number index name is matched against duplicate key
// messages to tell a number collision from a natural-key duplicate.
const (
	IndexConsolidatedPeriod = "uniq_consolidated_student_period"
	IndexCoursePeriod       = "uniq_course_student_period"
	IndexInvoiceNumber      = "uniq_invoiceNumber"
	IndexTemplateChannel    = "uniq_template_channel"
)

// feeIndexes are the unique constraints that make duplicate invoices impossible
// regardless of what a generation run saw when it scanned.
func feeIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "studentId", Value: 1}, {Key: "invoiceType", Value: 1}, {Key: "periodStart", Value: 1}},
			Options: options.Index().
				SetName(IndexConsolidatedPeriod).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"isConsolidated": true}),
		},
		{
			Keys: bson.D{{Key: "studentId", Value: 1}, {Key: "courseId", Value: 1}, {Key: "invoiceType", Value: 1}, {Key: "periodStart", Value: 1}},
			Options: options.Index().
				SetName(IndexCoursePeriod).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"isConsolidated": false}),
		},
		{
			Keys:    bson.D{{Key: "invoiceNumber", Value: 1}},
			Options: options.Index().SetName(IndexInvoiceNumber).SetUnique(true),
		},
		{Keys: bson.D{{Key: "branchId", Value: 1}, {Key: "periodStart", Value: 1}}},
		{Keys: bson.D{{Key: "dueDate", Value: 1}, {Key: "status", Value: 1}}},
	}
}

func studentIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "courses.courseId", Value: 1}, {Key: "courses.status", Value: 1}, {Key: "academicStatus", Value: 1}}},
		{Keys: bson.D{{Key: "branchId", Value: 1}}},
	}
}

// EnsureIndexes creates the indexes the billing stores depend on. It is safe
// to call on every start-up.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	sets := map[string][]mongo.IndexModel{
		FeesCollection:     feeIndexes(),
		StudentsCollection: studentIndexes(),
		CoursesCollection: {
			{Keys: bson.D{{Key: "feeStructure.billingFrequency", Value: 1}, {Key: "feeStructure.isActive", Value: 1}}},
		},
		NotificationTemplatesCollection: {
			{
				Keys:    bson.D{{Key: "templateId", Value: 1}, {Key: "channel", Value: 1}},
				Options: options.Index().SetName(IndexTemplateChannel).SetUnique(true),
			},
		},
		NoticesCollection: {
			{Keys: bson.D{{Key: "branchId", Value: 1}, {Key: "publishedAt", Value: -1}}},
			{Keys: bson.D{{Key: "targetStudentIds", Value: 1}}},
		},
	}
	for collection, models := range sets {
		names, err := database.Collection(collection).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
		log.Printf("Ensured %d indexes on %s", len(names), collection)
	}
	return nil
}
