package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name      string
		frequency models.BillingFrequency
		ref       time.Time
		want      time.Time
	}{
		{"weekly wednesday", models.FrequencyWeekly, time.Date(2025, time.March, 12, 15, 30, 0, 0, time.UTC), date(2025, time.March, 10)},
		{"weekly monday", models.FrequencyWeekly, time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC), date(2025, time.March, 10)},
		{"weekly sunday goes back six days", models.FrequencyWeekly, date(2025, time.March, 16), date(2025, time.March, 10)},
		{"weekly across month boundary", models.FrequencyWeekly, date(2025, time.March, 1), date(2025, time.February, 24)},
		{"weekly across year boundary", models.FrequencyWeekly, date(2025, time.January, 1), date(2024, time.December, 30)},
		{"monthly", models.FrequencyMonthly, time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC), date(2025, time.March, 1)},
		{"quarterly q1", models.FrequencyQuarterly, date(2025, time.February, 14), date(2025, time.January, 1)},
		{"quarterly q2 first month", models.FrequencyQuarterly, date(2025, time.April, 1), date(2025, time.April, 1)},
		{"quarterly q3 last month", models.FrequencyQuarterly, date(2025, time.September, 30), date(2025, time.July, 1)},
		{"quarterly q4", models.FrequencyQuarterly, date(2025, time.December, 31), date(2025, time.October, 1)},
		{"annual", models.FrequencyAnnual, date(2025, time.August, 20), date(2025, time.January, 1)},
		{"unknown defaults to monthly", models.BillingFrequency("fortnightly"), date(2025, time.June, 18), date(2025, time.June, 1)},
		{"term defaults to monthly", models.FrequencyTerm, date(2025, time.June, 18), date(2025, time.June, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodStart(tt.frequency, tt.ref))
		})
	}
}

func TestPeriodStart_KeepsLocation(t *testing.T) {
	nairobi := time.FixedZone("EAT", 3*60*60)
	got := PeriodStart(models.FrequencyMonthly, time.Date(2025, time.May, 20, 1, 0, 0, 0, nairobi))
	assert.Equal(t, time.Date(2025, time.May, 1, 0, 0, 0, 0, nairobi), got)
}

func TestMonthStartAndDaysIn(t *testing.T) {
	assert.Equal(t, date(2025, time.March, 1), MonthStart(2025, 3))
	assert.Equal(t, 28, DaysIn(date(2025, time.February, 1)))
	assert.Equal(t, 29, DaysIn(date(2024, time.February, 10)))
	assert.Equal(t, 31, DaysIn(date(2025, time.December, 1)))
}
