package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AcademicStatus of a student record.
type AcademicStatus string

const (
	AcademicStatusActive      AcademicStatus = "active"
	AcademicStatusInactive    AcademicStatus = "inactive"
	AcademicStatusWithdrawn   AcademicStatus = "withdrawn"
	AcademicStatusGraduated   AcademicStatus = "graduated"
	AcademicStatusSuspended   AcademicStatus = "suspended"
	AcademicStatusTransferred AcademicStatus = "transferred"
)

// BillableAcademicStatuses are the statuses that still receive periodic invoices.
var BillableAcademicStatuses = []AcademicStatus{AcademicStatusActive, AcademicStatusInactive}

// EnrollmentStatus of a single course enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentDropped   EnrollmentStatus = "dropped"
)

// CourseEnrollment links a student to a course.
type CourseEnrollment struct {
	CourseID   primitive.ObjectID `bson:"courseId" json:"courseId"`
	Status     EnrollmentStatus   `bson:"status" json:"status"`
	EnrolledAt *time.Time         `bson:"enrolledAt,omitempty" json:"enrolledAt,omitempty"`
}

// Student is owned by the admissions module; billing reads it and adjusts
// the credit balance during reconciliation.
type Student struct {
	Base                  `bson:",inline"`
	BranchID              primitive.ObjectID `bson:"branchId" json:"branchId"`
	AdmissionNumber       string             `bson:"admissionNumber" json:"admissionNumber"`
	FirstName             string             `bson:"firstName" json:"firstName"`
	LastName              string             `bson:"lastName" json:"lastName"`
	Email                 string             `bson:"email,omitempty" json:"email,omitempty"`
	Phone                 string             `bson:"phone,omitempty" json:"phone,omitempty"`
	EnrollmentDate        *time.Time         `bson:"enrollmentDate,omitempty" json:"enrollmentDate,omitempty"`
	ScholarshipPercentage float64            `bson:"scholarshipPercentage" json:"scholarshipPercentage"`
	AcademicStatus        AcademicStatus     `bson:"academicStatus" json:"academicStatus"`
	Courses               []CourseEnrollment `bson:"courses" json:"courses"`
	CreditBalance         float64            `bson:"creditBalance" json:"creditBalance"`
}

// FullName joins first and last names.
func (s *Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// IsBillable reports whether the academic status allows periodic invoicing.
func (s *Student) IsBillable() bool {
	for _, st := range BillableAcademicStatuses {
		if s.AcademicStatus == st {
			return true
		}
	}
	return false
}

// ActiveIn reports whether the student has an active enrollment in courseID.
func (s *Student) ActiveIn(courseID primitive.ObjectID) bool {
	for _, e := range s.Courses {
		if e.CourseID == courseID && e.Status == EnrollmentActive {
			return true
		}
	}
	return false
}
