// Package backfill replays monthly invoice generation over a range of months.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/services"
)

var (
	ErrForceRequired = errors.New("refusing to backfill without --force or FORCE_MONTHLY_BACKFILL=true")
	ErrInvalidMonth  = errors.New("month must be YYYY-MM")
	ErrInvalidRange  = errors.New("--from must not be after --to")
	ErrMissingRange  = errors.New("--from and --to are required")
)

const monthLayout = "2006-01"

// Month is a calendar month.
type Month struct {
	Year  int
	Month int
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

func (m Month) next() Month {
	if m.Month == 12 {
		return Month{Year: m.Year + 1, Month: 1}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

func (m Month) after(o Month) bool {
	return m.Year > o.Year || (m.Year == o.Year && m.Month > o.Month)
}

// ParseMonth parses YYYY-MM.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Month: int(t.Month())}, nil
}

// Months lists every month from from to to, both inclusive.
func Months(from, to Month) ([]Month, error) {
	if from.after(to) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from, to)
	}
	var months []Month
	for m := from; !m.after(to); m = m.next() {
		months = append(months, m)
	}
	return months, nil
}

// Options is a parsed backfill invocation.
type Options struct {
	From        Month
	To          Month
	BranchID    *primitive.ObjectID
	Consolidate bool
	DryRun      bool
	Force       bool
	InitiatedBy *primitive.ObjectID
}

// ParseOptions validates raw flag values. forceEnv is FORCE_MONTHLY_BACKFILL.
func ParseOptions(from, to, branchID string, consolidate, dryRun, force, forceEnv bool) (Options, error) {
	if from == "" || to == "" {
		return Options{}, ErrMissingRange
	}
	if !force && !forceEnv {
		return Options{}, ErrForceRequired
	}
	opts := Options{Consolidate: consolidate, DryRun: dryRun, Force: true}
	var err error
	if opts.From, err = ParseMonth(from); err != nil {
		return Options{}, err
	}
	if opts.To, err = ParseMonth(to); err != nil {
		return Options{}, err
	}
	if opts.From.after(opts.To) {
		return Options{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, opts.From, opts.To)
	}
	if branchID != "" {
		id, err := primitive.ObjectIDFromHex(branchID)
		if err != nil {
			return Options{}, fmt.Errorf("invalid --branchId %q: %w", branchID, err)
		}
		opts.BranchID = &id
	}
	return opts, nil
}

// MonthSummary is the outcome of one month.
type MonthSummary struct {
	Month             string `json:"month"`
	RunID             string `json:"runId,omitempty"`
	Created           int    `json:"created"`
	Skipped           int    `json:"skipped"`
	Errors            int    `json:"errors"`
	NotificationsSent int    `json:"notificationsSent"`
	DryRun            bool   `json:"dryRun,omitempty"`
}

// Report is what a backfill prints and archives.
type Report struct {
	RunID        string         `json:"runId"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	BranchID     string         `json:"branchId,omitempty"`
	Consolidate  bool           `json:"consolidate"`
	DryRun       bool           `json:"dryRun"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt"`
	Months       []MonthSummary `json:"months"`
	TotalCreated int            `json:"totalCreated"`
	TotalSkipped int            `json:"totalSkipped"`
	TotalErrors  int            `json:"totalErrors"`
}

// Run calls the monthly generator once per month in order. A dry run walks
// the months without generating anything and accepts a nil generator. The
// first failed month stops the backfill; the report covers the months done
// so far.
func Run(ctx context.Context, invoices services.IInvoiceService, opts Options) (*Report, error) {
	if !opts.Force {
		return nil, ErrForceRequired
	}
	months, err := Months(opts.From, opts.To)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       uuid.NewString(),
		From:        opts.From.String(),
		To:          opts.To.String(),
		Consolidate: opts.Consolidate,
		DryRun:      opts.DryRun,
		StartedAt:   time.Now().UTC(),
		Months:      []MonthSummary{},
	}
	if opts.BranchID != nil {
		report.BranchID = opts.BranchID.Hex()
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	for _, m := range months {
		if opts.DryRun {
			log.Printf("[dry run] would generate monthly invoices for %s", m)
			report.Months = append(report.Months, MonthSummary{Month: m.String(), DryRun: true})
			continue
		}

		consolidate := opts.Consolidate
		result, err := invoices.GenerateMonthlyInvoices(ctx, services.MonthlyInvoiceRequest{
			PeriodYear:  m.Year,
			PeriodMonth: m.Month,
			BranchID:    opts.BranchID,
			InitiatedBy: opts.InitiatedBy,
			Consolidate: &consolidate,
		})
		if err != nil && result == nil {
			return report, fmt.Errorf("backfill of %s failed: %w", m, err)
		}

		summary := MonthSummary{
			Month:             m.String(),
			RunID:             result.RunID,
			Created:           result.Created,
			Skipped:           result.Skipped,
			Errors:            len(result.Details.Errors),
			NotificationsSent: result.NotificationsSent,
		}
		log.Printf("Backfill %s: created=%d skipped=%d errors=%d", m, summary.Created, summary.Skipped, summary.Errors)
		report.Months = append(report.Months, summary)
		report.TotalCreated += summary.Created
		report.TotalSkipped += summary.Skipped
		report.TotalErrors += summary.Errors
		if err != nil {
			// the month's stored invoices stay in the report
			return report, fmt.Errorf("backfill of %s failed: %w", m, err)
		}
	}
	return report, nil
}
