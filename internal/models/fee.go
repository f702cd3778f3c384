package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FeeStatus tracks payment progress of an invoice.
type FeeStatus string

const (
	FeeStatusPending       FeeStatus = "pending"
	FeeStatusPartiallyPaid FeeStatus = "partially_paid"
	FeeStatusPaid          FeeStatus = "paid"
	FeeStatusOverdue       FeeStatus = "overdue"
	FeeStatusCancelled     FeeStatus = "cancelled"
)

// FeePayment is a single amount applied to an invoice.
type FeePayment struct {
	Amount    float64   `bson:"amount" json:"amount"`
	Method    string    `bson:"method" json:"method"` // e.g. "credit", "mpesa", "cash"
	Reference string    `bson:"reference,omitempty" json:"reference,omitempty"`
	PaidAt    time.Time `bson:"paidAt" json:"paidAt"`
}

// FeeMetadata records how an invoice came to exist.
type FeeMetadata struct {
	CourseIDs   []primitive.ObjectID `bson:"courseIds,omitempty" json:"courseIds,omitempty"`
	GeneratedBy string               `bson:"generatedBy,omitempty" json:"generatedBy,omitempty"`
	InitiatedBy *primitive.ObjectID  `bson:"initiatedBy,omitempty" json:"initiatedBy,omitempty"`
	RunID       string               `bson:"runId,omitempty" json:"runId,omitempty"`
}

// Fee is one billing obligation of a student for one period, either for a
// single course or consolidated across all of the student's courses.
type Fee struct {
	Base          `bson:",inline"`
	InvoiceNumber string              `bson:"invoiceNumber" json:"invoiceNumber"`
	StudentID     primitive.ObjectID  `bson:"studentId" json:"studentId"`
	BranchID      primitive.ObjectID  `bson:"branchId" json:"branchId"`
	CourseID      *primitive.ObjectID `bson:"courseId" json:"courseId"`
	// FeeStructureID is always null for course-based periodic invoices; a
	// null value together with isConsolidated marks consolidated records.
	FeeStructureID *primitive.ObjectID `bson:"feeStructureId" json:"feeStructureId"`

	PeriodYear  int              `bson:"periodYear" json:"periodYear"`
	PeriodMonth int              `bson:"periodMonth" json:"periodMonth"`
	PeriodStart time.Time        `bson:"periodStart" json:"periodStart"`
	InvoiceType BillingFrequency `bson:"invoiceType" json:"invoiceType"`

	IsConsolidated bool           `bson:"isConsolidated" json:"isConsolidated"`
	FeeComponents  []FeeComponent `bson:"feeComponents" json:"feeComponents"`

	TotalAmountDue    float64 `bson:"totalAmountDue" json:"totalAmountDue"`
	DiscountAmount    float64 `bson:"discountAmount" json:"discountAmount"`
	ScholarshipAmount float64 `bson:"scholarshipAmount" json:"scholarshipAmount"`
	AmountPaid        float64 `bson:"amountPaid" json:"amountPaid"`

	Status          FeeStatus    `bson:"status" json:"status"`
	DueDate         time.Time    `bson:"dueDate" json:"dueDate"`
	Description     string       `bson:"description,omitempty" json:"description,omitempty"`
	Payments        []FeePayment `bson:"payments,omitempty" json:"payments,omitempty"`
	Metadata        FeeMetadata  `bson:"metadata" json:"metadata"`
	OverdueNotified bool         `bson:"overdueNotified" json:"overdueNotified"`
}

// Outstanding is what the student still owes once discounts, scholarship
// and payments are taken into account. It never goes below zero.
func (f *Fee) Outstanding() float64 {
	v := f.TotalAmountDue - f.DiscountAmount - f.ScholarshipAmount - f.AmountPaid
	if v < 0 {
		return 0
	}
	return v
}

// PeriodLabel is the human readable billing period, e.g. "March 2025".
func (f *Fee) PeriodLabel() string {
	return PeriodLabel(f.InvoiceType, f.PeriodStart)
}

// PeriodLabel formats a period start for messages.
func PeriodLabel(frequency BillingFrequency, periodStart time.Time) string {
	switch frequency {
	case FrequencyWeekly:
		return "week of " + periodStart.Format("2 Jan 2006")
	case FrequencyQuarterly:
		q := (int(periodStart.Month())-1)/3 + 1
		return fmt.Sprintf("%d Q%d", periodStart.Year(), q)
	case FrequencyAnnual:
		return periodStart.Format("2006")
	default:
		return periodStart.Format("January 2006")
	}
}
