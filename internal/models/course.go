package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BillingFrequency is how often a course invoices an enrolled student.
type BillingFrequency string

const (
	FrequencyTerm      BillingFrequency = "term"
	FrequencyWeekly    BillingFrequency = "weekly"
	FrequencyMonthly   BillingFrequency = "monthly"
	FrequencyQuarterly BillingFrequency = "quarterly"
	FrequencyAnnual    BillingFrequency = "annual"
)

// IsPeriodic reports whether invoices for f are produced by the periodic
// generator. Term fees are assigned manually.
func (f BillingFrequency) IsPeriodic() bool {
	switch f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		return true
	}
	return false
}

// FeeComponent is one named line of a fee, e.g. tuition or lab charges.
type FeeComponent struct {
	Name   string  `bson:"name" json:"name"`
	Amount float64 `bson:"amount" json:"amount"`
}

// CourseFeeStructure is the fee definition embedded in a course.
type CourseFeeStructure struct {
	BillingFrequency          BillingFrequency `bson:"billingFrequency" json:"billingFrequency"`
	IsActive                  bool             `bson:"isActive" json:"isActive"`
	Components                []FeeComponent   `bson:"components,omitempty" json:"components,omitempty"`
	TotalAmount               float64          `bson:"totalAmount" json:"totalAmount"`
	PerPeriodAmount           *float64         `bson:"perPeriodAmount,omitempty" json:"perPeriodAmount,omitempty"`
	CreateInvoiceOnEnrollment bool             `bson:"createInvoiceOnEnrollment" json:"createInvoiceOnEnrollment"`
}

// Course is owned by the academic module; billing only reads it.
type Course struct {
	Base         `bson:",inline"`
	BranchID     primitive.ObjectID  `bson:"branchId" json:"branchId"`
	Name         string              `bson:"name" json:"name"`
	Code         string              `bson:"code,omitempty" json:"code,omitempty"`
	FeeStructure *CourseFeeStructure `bson:"feeStructure,omitempty" json:"feeStructure,omitempty"`
}
