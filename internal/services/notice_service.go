package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atiamdev/cms-backend-sub002/internal/db"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// INoticeService manages in-app notices.
type INoticeService interface {
	Create(ctx context.Context, notice *models.Notice) error
	List(ctx context.Context, filter NoticeFilter) ([]models.Notice, int64, error)
	Delete(ctx context.Context, noticeID primitive.ObjectID, branchID *primitive.ObjectID) error
}

// NoticeFilter selects the notices visible to a reader. A StudentID limits
// targeted notices to the ones addressed to that student.
type NoticeFilter struct {
	BranchID  *primitive.ObjectID
	StudentID *primitive.ObjectID
	Type      models.NoticeType
	Page      int
	Limit     int
}

type noticeService struct {
	db *mongo.Database
}

func NewNoticeService(db *mongo.Database) INoticeService {
	return &noticeService{db: db}
}

func (s *noticeService) Create(ctx context.Context, notice *models.Notice) error {
	now := time.Now().UTC()
	notice.GenIDIfEmpty()
	notice.Touch(now)
	if notice.PublishedAt.IsZero() {
		notice.PublishedAt = now
	}
	if notice.TargetAudience == "" {
		notice.TargetAudience = models.AudienceAll
	}
	if notice.Priority == "" {
		notice.Priority = "medium"
	}
	if _, err := s.db.Collection(db.NoticesCollection).InsertOne(ctx, notice); err != nil {
		return fmt.Errorf("failed to insert notice: %w", err)
	}
	return nil
}

func (s *noticeService) List(ctx context.Context, filter NoticeFilter) ([]models.Notice, int64, error) {
	now := time.Now().UTC()
	query := bson.M{
		"publishedAt": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"expiresAt": nil},
			bson.M{"expiresAt": bson.M{"$gt": now}},
		},
	}
	if filter.BranchID != nil {
		query["branchId"] = *filter.BranchID
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.StudentID != nil {
		query["$and"] = bson.A{bson.M{"$or": bson.A{
			bson.M{"targetStudentIds": bson.M{"$exists": false}},
			bson.M{"targetStudentIds": bson.M{"$size": 0}},
			bson.M{"targetStudentIds": *filter.StudentID},
		}}}
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	collection := s.db.Collection(db.NoticesCollection)
	total, err := collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notices: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "publishedAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notices: %w", err)
	}
	defer cursor.Close(ctx)

	notices := []models.Notice{}
	if err := cursor.All(ctx, &notices); err != nil {
		return nil, 0, fmt.Errorf("failed to decode notices: %w", err)
	}
	return notices, total, nil
}

// Delete removes a notice. A non-nil branchID restricts deletion to notices
// of that branch.
func (s *noticeService) Delete(ctx context.Context, noticeID primitive.ObjectID, branchID *primitive.ObjectID) error {
	filter := bson.M{"_id": noticeID}
	if branchID != nil {
		filter["branchId"] = *branchID
	}
	res, err := s.db.Collection(db.NoticesCollection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete notice %s: %w", noticeID.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return ErrNoticeNotFound
	}
	return nil
}
