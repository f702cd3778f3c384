// Command backfill generates monthly invoices for every month of a range.
//
//	backfill --from=2025-01 --to=2025-03 [--branchId=ID] [--dryRun] [--consolidate=false] --force
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/atiamdev/cms-backend-sub002/internal/backfill"
	"github.com/atiamdev/cms-backend-sub002/internal/cache"
	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/db"
	"github.com/atiamdev/cms-backend-sub002/internal/notify"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
	"github.com/atiamdev/cms-backend-sub002/internal/storage"
	"github.com/atiamdev/cms-backend-sub002/internal/tasks"
)

var (
	from        = flag.String("from", "", "First month to bill, YYYY-MM")
	to          = flag.String("to", "", "Last month to bill, YYYY-MM (inclusive)")
	branchID    = flag.String("branchId", "", "Restrict to one branch")
	dryRun      = flag.Bool("dryRun", false, "Walk the months without generating invoices")
	consolidate = flag.Bool("consolidate", true, "One invoice per student instead of one per course")
	force       = flag.Bool("force", false, "Required unless FORCE_MONTHLY_BACKFILL=true")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Printf("Backfill failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("cli")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Flag errors and dry runs are handled before touching any store.
	opts, err := backfill.ParseOptions(*from, *to, *branchID, *consolidate, *dryRun, *force, cfg.ForceMonthlyBackfill)
	if err != nil {
		return err
	}
	if opts.DryRun {
		report, err := backfill.Run(context.Background(), nil, opts)
		if report != nil {
			printReport(report)
		}
		return err
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	ctx := context.Background()
	if err := db.EnsureIndexes(ctx, mongoDb); err != nil {
		return err
	}

	templates := services.NewNotificationTemplateService(mongoDb)
	var dispatcher notify.Dispatcher
	redisClient, err := cache.ConnectRedis(cfg)
	if err != nil {
		log.Printf("WARNING: %v. Notifications will be delivered inline.", err)
		dispatcher = notify.NewInlineDispatcher(templates, notify.NewSenderFromConfig(cfg, nil))
	} else {
		defer func() {
			if err := cache.DisconnectRedis(redisClient); err != nil {
				log.Printf("Error disconnecting from Redis: %v", err)
			}
		}()
		taskClient := tasks.NewClient(redisClient)
		defer taskClient.Close()
		dispatcher = tasks.NewTaskDispatcher(taskClient)
	}

	configSvc := services.NewConfigService(mongoDb, cfg, redisClient)
	studentService := services.NewStudentService(mongoDb)
	feeService := services.NewFeeService(mongoDb, cfg)
	noticeService := services.NewNoticeService(mongoDb)
	invoiceService := services.NewInvoiceService(
		cfg,
		configSvc,
		services.NewCourseService(mongoDb),
		studentService,
		feeService,
		services.NewPaymentReconciliationService(studentService, feeService),
		services.NewInvoiceNotificationService(cfg, configSvc, studentService, noticeService, dispatcher),
	)

	report, runErr := backfill.Run(ctx, invoiceService, opts)
	if report != nil {
		printReport(report)
		archiveReport(ctx, cfg, report)
	}
	return runErr
}

func printReport(report *backfill.Report) {
	for _, m := range report.Months {
		if m.DryRun {
			fmt.Printf("%s  dry run\n", m.Month)
			continue
		}
		fmt.Printf("%s  created=%d skipped=%d errors=%d notifications=%d run=%s\n",
			m.Month, m.Created, m.Skipped, m.Errors, m.NotificationsSent, m.RunID)
	}
	fmt.Printf("Total: created=%d skipped=%d errors=%d (backfill %s)\n",
		report.TotalCreated, report.TotalSkipped, report.TotalErrors, report.RunID)
}

func archiveReport(ctx context.Context, cfg *config.Config, report *backfill.Report) {
	archive, err := storage.NewReportArchive(cfg)
	if err != nil {
		log.Printf("WARNING: report archive unavailable: %v", err)
		return
	}
	if !archive.Enabled() {
		return
	}
	location, err := archive.Archive(ctx, storage.BackfillReportKey(report.RunID), report)
	if err != nil {
		log.Printf("WARNING: failed to archive backfill report: %v", err)
		return
	}
	log.Printf("Backfill report archived to %s", location)
}
