package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStudent_IsBillable(t *testing.T) {
	cases := map[AcademicStatus]bool{
		AcademicStatusActive:    true,
		AcademicStatusInactive:  true,
		AcademicStatusWithdrawn: false,
		AcademicStatusGraduated: false,
		"":                      false,
	}
	for status, want := range cases {
		s := Student{AcademicStatus: status}
		assert.Equal(t, want, s.IsBillable(), string(status))
	}
}

func TestStudent_ActiveIn(t *testing.T) {
	course := primitive.NewObjectID()
	other := primitive.NewObjectID()
	s := Student{Courses: []CourseEnrollment{
		{CourseID: course, Status: EnrollmentActive},
		{CourseID: other, Status: EnrollmentDropped},
	}}
	assert.True(t, s.ActiveIn(course))
	assert.False(t, s.ActiveIn(other))
	assert.False(t, s.ActiveIn(primitive.NewObjectID()))
}

func TestFee_Outstanding(t *testing.T) {
	f := Fee{TotalAmountDue: 1000, DiscountAmount: 100, ScholarshipAmount: 200, AmountPaid: 300}
	assert.Equal(t, 400.0, f.Outstanding())

	f.AmountPaid = 900
	assert.Equal(t, 0.0, f.Outstanding())
}

func TestPeriodLabel(t *testing.T) {
	start := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "April 2025", PeriodLabel(FrequencyMonthly, start))
	assert.Equal(t, "2025 Q2", PeriodLabel(FrequencyQuarterly, start))
	assert.Equal(t, "2025", PeriodLabel(FrequencyAnnual, start))
	assert.Equal(t, "week of 7 Apr 2025", PeriodLabel(FrequencyWeekly, time.Date(2025, time.April, 7, 0, 0, 0, 0, time.UTC)))
}

func TestBillingFrequency_IsPeriodic(t *testing.T) {
	assert.True(t, FrequencyMonthly.IsPeriodic())
	assert.True(t, FrequencyWeekly.IsPeriodic())
	assert.False(t, FrequencyTerm.IsPeriodic())
	assert.False(t, BillingFrequency("daily").IsPeriodic())
}
