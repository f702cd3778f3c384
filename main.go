package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atiamdev/cms-backend-sub002/internal/api"
	"github.com/atiamdev/cms-backend-sub002/internal/cache"
	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/db"
	"github.com/atiamdev/cms-backend-sub002/internal/notify"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
	"github.com/atiamdev/cms-backend-sub002/internal/storage"
	"github.com/atiamdev/cms-backend-sub002/internal/tasks"
)

var (
	runMode     = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default)")
	concurrency = flag.Int("c", 10, "Background worker concurrency")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, mongoDb); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancelIndexes()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	reportArchive, err := storage.NewReportArchive(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize report archive: %v", err)
	}

	// Notifications are queued by the generator and delivered by the worker.
	sender := notify.NewSenderFromConfig(cfg, redisClient)
	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	dispatcher := tasks.NewTaskDispatcher(taskClient)

	// Initialize Services needed by handlers and/or task processor
	configSvc := services.NewConfigService(mongoDb, cfg, redisClient)
	courseService := services.NewCourseService(mongoDb)
	studentService := services.NewStudentService(mongoDb)
	feeService := services.NewFeeService(mongoDb, cfg)
	noticeService := services.NewNoticeService(mongoDb)
	templateService := services.NewNotificationTemplateService(mongoDb)
	creditService := services.NewPaymentReconciliationService(studentService, feeService)
	notificationService := services.NewInvoiceNotificationService(cfg, configSvc, studentService, noticeService, dispatcher)
	invoiceService := services.NewInvoiceService(cfg, configSvc, courseService, studentService, feeService, creditService, notificationService)

	taskProcessor := tasks.NewTaskProcessor(cfg, configSvc, invoiceService, feeService, notificationService, templateService, sender, reportArchive)

	// WaitGroup for managing goroutines
	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	// Start Service API (always runs)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(cfg, redisClient, shutdownChan),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Service API listening on :%s", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		log.Println("Service API server stopped.")
	}()

	// --- Mode-specific servers ---
	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	var scheduler *asynq.Scheduler

	log.Printf("Starting application in '%s' mode...", cfg.RunMode)

	apiMode := func() {
		mainApiRouter := api.SetupRouter(cfg, api.Services{
			Config:    configSvc,
			Invoices:  invoiceService,
			Fees:      feeService,
			Notices:   noticeService,
			Templates: templateService,
			Enqueuer:  taskClient,
			Archive:   reportArchive,
		})
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Main API listening on :%s", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			log.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		redisOpt := tasks.RedisOpt(redisClient)
		backgroundTaskSrv = tasks.SetupServer(redisOpt, *concurrency)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Println("Background task server starting...")
			if err := backgroundTaskSrv.Run(tasks.NewServeMux(taskProcessor)); err != nil {
				log.Fatalf("Background task server error: %v", err)
			}
			log.Println("Background task server stopped.")
		}()

		if !cfg.InvoiceScheduleEnabled {
			log.Println("INVOICE_SCHEDULE_ENABLED is false: periodic invoice runs are not scheduled.")
			return
		}
		scheduler = tasks.NewScheduler(redisOpt)
		if err := tasks.RegisterSchedules(scheduler); err != nil {
			log.Fatalf("Failed to register invoice schedules: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Run(); err != nil {
				log.Printf("Scheduler stopped with error: %v", err)
			}
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatalf("Invalid run mode specified in config: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("Received signal: %s. Shutting down gracefully...", sig)
	case <-shutdownChan:
		log.Println("Shutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}
	if mainApiSrv != nil {
		log.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if scheduler != nil {
		log.Println("Shutting down scheduler...")
		scheduler.Shutdown()
	}
	if backgroundTaskSrv != nil {
		log.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}

	log.Println("Waiting for servers to stop...")
	wg.Wait()

	log.Println("Server gracefully stopped")
}
