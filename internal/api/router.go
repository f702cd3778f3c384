package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/atiamdev/cms-backend-sub002/internal/api/handlers"
	"github.com/atiamdev/cms-backend-sub002/internal/api/middleware"
	"github.com/atiamdev/cms-backend-sub002/internal/auth"
	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/notify"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
	"github.com/atiamdev/cms-backend-sub002/internal/storage"
	"github.com/atiamdev/cms-backend-sub002/internal/tasks"
)

// Services bundles what the API handlers depend on.
type Services struct {
	Config    services.IConfigService
	Invoices  services.IInvoiceService
	Fees      services.IFeeService
	Notices   services.INoticeService
	Templates services.INotificationTemplateService
	Enqueuer  tasks.Enqueuer
	Archive   storage.IReportArchive
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigin))

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, svc.Config)
	authenticate := middleware.AuthMiddleware(cfg.JwtSecret)

	restConfigHandler := handlers.NewRestConfigHandler(svc.Config)
	invoiceHandler := handlers.NewInvoiceHandler(svc.Invoices, svc.Enqueuer, svc.Archive)
	feeHandler := handlers.NewFeeHandler(svc.Fees)
	noticeHandler := handlers.NewNoticeHandler(svc.Notices)
	templateHandler := handlers.NewTemplateHandler(svc.Templates)

	v1 := r.Group("/v1")
	{
		public := v1.Group("", rateLimiter.Limit())
		public.GET("/config", restConfigHandler.GetPublicConfig)
		public.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Limiter runs after auth so authenticated callers are keyed by user.
		authRequired := v1.Group("", authenticate, rateLimiter.Limit())
		{
			authRequired.GET("/fees/:id", feeHandler.GetFee)
			authRequired.GET("/fees/by-number/:invoiceNumber", feeHandler.GetFeeByNumber)
			authRequired.GET("/students/:id/fees", feeHandler.ListStudentFees)
			authRequired.GET("/notices", noticeHandler.List)
		}

		adminRequired := v1.Group("/admin", authenticate, middleware.AdminMiddleware(), rateLimiter.Limit())
		{
			adminRequired.POST("/invoices/monthly", invoiceHandler.GenerateMonthly)
			adminRequired.POST("/invoices/frequency", invoiceHandler.GenerateFrequency)
			adminRequired.POST("/invoices/enrollment", invoiceHandler.CreateForEnrollment)
			adminRequired.GET("/invoice-runs/:runId/report", invoiceHandler.GetRunReport)
			adminRequired.POST("/notices", noticeHandler.Create)
			adminRequired.DELETE("/notices/:id", noticeHandler.Delete)

			orgAdmin := adminRequired.Group("", middleware.RequireRoles(auth.RoleSuperAdmin, auth.RoleAdmin))
			orgAdmin.PUT("/config/:key", restConfigHandler.SetConfigValue)
			orgAdmin.GET("/notification-templates/:templateId/:channel", templateHandler.GetTemplate)
			orgAdmin.PUT("/notification-templates/:templateId/:channel", templateHandler.SaveTemplate)
			orgAdmin.DELETE("/notification-templates/:templateId/:channel", templateHandler.DeleteTemplate)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service API used by end-to-end
// tests: shutdown and reading notifications captured by the mock sender.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				log.Println("Shutdown signal sent successfully.")
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestNotification":
			var args []string // ["channel", "to"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [channel, to]"})
				return
			}
			getTestNotification(c, rdb, notify.MockNotificationKey(notify.Channel(args[0]), args[1]))
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// getTestNotification polls Redis briefly, since delivery happens on the
// worker and may lag the API call that triggered it.
func getTestNotification(c *gin.Context, rdb *redis.Client, redisKey string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var data string
	found := false
	for i := 0; i < 10; i++ {
		v, err := rdb.Get(ctx, redisKey).Result()
		if err == nil {
			data = v
			found = true
			rdb.Del(ctx, redisKey)
			break
		}
		if !errors.Is(err, redis.Nil) {
			log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test notification not found in Redis for key %s", redisKey)})
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		log.Printf("Service API: Error unmarshalling notification from key %s: %v", redisKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored notification"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": payload})
}
