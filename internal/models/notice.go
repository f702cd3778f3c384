package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NoticeType string

const (
	NoticeTypeGeneral  NoticeType = "general"
	NoticeTypeFee      NoticeType = "fee"
	NoticeTypeAcademic NoticeType = "academic"
)

type NoticeAudience string

const (
	AudienceAll      NoticeAudience = "all"
	AudienceStudents NoticeAudience = "students"
	AudienceStaff    NoticeAudience = "staff"
)

// NoticeMetadata links a notice to the record that triggered it.
type NoticeMetadata struct {
	FeeID *primitive.ObjectID `bson:"feeId,omitempty" json:"feeId,omitempty"`
}

// Notice is an in-app announcement, either branch-wide or targeted at
// specific students.
type Notice struct {
	Base             `bson:",inline"`
	BranchID         primitive.ObjectID   `bson:"branchId" json:"branchId"`
	Title            string               `bson:"title" json:"title"`
	Content          string               `bson:"content" json:"content"`
	Type             NoticeType           `bson:"type" json:"type"`
	Priority         string               `bson:"priority" json:"priority"` // low, medium, high
	TargetAudience   NoticeAudience       `bson:"targetAudience" json:"targetAudience"`
	TargetStudentIDs []primitive.ObjectID `bson:"targetStudentIds,omitempty" json:"targetStudentIds,omitempty"`
	Metadata         NoticeMetadata       `bson:"metadata" json:"metadata"`
	PublishedAt      time.Time            `bson:"publishedAt" json:"publishedAt"`
	ExpiresAt        *time.Time           `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CreatedBy        *primitive.ObjectID  `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
}

// NotificationTemplate defines the message sent on one channel for one event.
type NotificationTemplate struct {
	Base       `bson:",inline"`
	TemplateID string `bson:"templateId" json:"templateId"` // e.g. "invoice_created"
	Channel    string `bson:"channel" json:"channel"`       // push, whatsapp, email
	Subject    string `bson:"subject" json:"subject"`
	Body       string `bson:"body" json:"body"`
}
