package billing

import (
	"math"
	"time"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// Amount resolves the billable amount of one period from a course fee
// structure: an explicit per-period amount wins, then the sum of the
// components, then the flat total. A missing structure bills nothing.
func Amount(fs *models.CourseFeeStructure) float64 {
	if fs == nil {
		return 0
	}
	if fs.PerPeriodAmount != nil {
		return *fs.PerPeriodAmount
	}
	if len(fs.Components) > 0 {
		sum := 0.0
		for _, c := range fs.Components {
			sum += c.Amount
		}
		return sum
	}
	return fs.TotalAmount
}

// Components returns the line items an invoice for fs should carry. When the
// structure has no components a single line with the resolved amount is used.
func Components(courseName string, fs *models.CourseFeeStructure) []models.FeeComponent {
	if fs != nil && fs.PerPeriodAmount == nil && len(fs.Components) > 0 {
		out := make([]models.FeeComponent, len(fs.Components))
		copy(out, fs.Components)
		return out
	}
	return []models.FeeComponent{{Name: courseName, Amount: Amount(fs)}}
}

// ScholarshipAmount is the deduction a scholarship percentage grants on
// amount, rounded to a whole unit. It is recorded next to the gross amount,
// never subtracted from it.
func ScholarshipAmount(amount, percentage float64) float64 {
	if percentage <= 0 || amount <= 0 {
		return 0
	}
	if percentage > 100 {
		percentage = 100
	}
	return math.Round(amount * percentage / 100)
}

// DefaultDueOffsetDays is how long after the period start an invoice falls
// due when the student's enrollment day is unknown.
func DefaultDueOffsetDays(frequency models.BillingFrequency) int {
	switch frequency {
	case models.FrequencyWeekly:
		return 7
	case models.FrequencyMonthly, models.FrequencyQuarterly:
		return 10
	case models.FrequencyAnnual:
		return 30
	default:
		return 10
	}
}

// DueDate places the due date on the student's enrollment day-of-month
// within the period's month, clamped to the month's length. Without an
// enrollment date, or when that day falls before periodStart (a weekly
// period starting mid-month), the frequency's default offset from
// periodStart is used.
func DueDate(frequency models.BillingFrequency, periodStart time.Time, enrollmentDate *time.Time) time.Time {
	fallback := periodStart.AddDate(0, 0, DefaultDueOffsetDays(frequency))
	if enrollmentDate == nil || enrollmentDate.IsZero() {
		return fallback
	}
	day := enrollmentDate.Day()
	if last := DaysIn(periodStart); day > last {
		day = last
	}
	due := time.Date(periodStart.Year(), periodStart.Month(), day, 0, 0, 0, 0, periodStart.Location())
	if due.Before(periodStart) {
		return fallback
	}
	return due
}
