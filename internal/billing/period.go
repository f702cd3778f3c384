// Package billing holds the pure calculations behind periodic invoicing:
// canonical period starts, billable amounts and due dates.
package billing

import (
	"time"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// PeriodStart returns the canonical first instant of the billing period that
// contains ref, in ref's location. Unknown frequencies behave as monthly.
func PeriodStart(frequency models.BillingFrequency, ref time.Time) time.Time {
	y, m, d := ref.Date()
	loc := ref.Location()

	switch frequency {
	case models.FrequencyWeekly:
		// ISO weeks start on Monday; Sunday is day 7 of the previous week.
		weekday := int(ref.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(y, m, d-(weekday-1), 0, 0, 0, 0, loc)
	case models.FrequencyQuarterly:
		quarter := (int(m) - 1) / 3
		return time.Date(y, time.Month(quarter*3+1), 1, 0, 0, 0, 0, loc)
	case models.FrequencyAnnual:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	}
}

// MonthStart is the period start of a calendar month given as year and
// 1-based month, in UTC.
func MonthStart(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the month of t.
func DaysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
