package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/api/middleware"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
	"github.com/atiamdev/cms-backend-sub002/internal/storage"
	"github.com/atiamdev/cms-backend-sub002/internal/tasks"
)

const dateLayout = "2006-01-02"

// InvoiceHandler exposes invoice generation to administrators.
type InvoiceHandler struct {
	invoices services.IInvoiceService
	enqueuer tasks.Enqueuer
	archive  storage.IReportArchive
}

func NewInvoiceHandler(invoices services.IInvoiceService, enqueuer tasks.Enqueuer, archive storage.IReportArchive) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, enqueuer: enqueuer, archive: archive}
}

type MonthlyInvoiceRequest struct {
	PeriodYear  int    `json:"periodYear" binding:"required"`
	PeriodMonth int    `json:"periodMonth" binding:"required"`
	BranchID    string `json:"branchId"`
	StudentID   string `json:"studentId"`
	Consolidate *bool  `json:"consolidate"`
}

type FrequencyInvoiceRequest struct {
	Frequency   models.BillingFrequency `json:"frequency" binding:"required"`
	Date        string                  `json:"date"`
	BranchID    string                  `json:"branchId"`
	Consolidate *bool                   `json:"consolidate"`
}

type EnrollmentInvoiceRequest struct {
	StudentID string `json:"studentId" binding:"required"`
	CourseID  string `json:"courseId" binding:"required"`
	Date      string `json:"date"`
}

// GenerateMonthly handles POST /v1/admin/invoices/monthly.
// With ?async=true the run is queued and 202 returned with the task ID.
func (h *InvoiceHandler) GenerateMonthly(c *gin.Context) {
	var req MonthlyInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.PeriodMonth < 1 || req.PeriodMonth > 12 || req.PeriodYear < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrInvalidPeriod.Error()})
		return
	}
	requestedBranch, err := parseOptionalObjectID(req.BranchID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid branchId"})
		return
	}
	studentID, err := parseOptionalObjectID(req.StudentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid studentId"})
		return
	}
	branchID, err := middleware.ResolveBranch(c, requestedBranch)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	initiatedBy := middleware.InitiatorID(c)

	if c.Query("async") == "true" {
		task, err := tasks.NewMonthlyInvoiceTask(tasks.MonthlyInvoicePayload{
			PeriodYear:  req.PeriodYear,
			PeriodMonth: req.PeriodMonth,
			BranchID:    hexOrEmpty(branchID),
			StudentID:   hexOrEmpty(studentID),
			InitiatedBy: hexOrEmpty(initiatedBy),
			Consolidate: req.Consolidate,
		})
		if err != nil {
			respondError(c, err, "Failed to queue invoice generation")
			return
		}
		h.enqueue(c, task)
		return
	}

	result, err := h.invoices.GenerateMonthlyInvoices(c.Request.Context(), services.MonthlyInvoiceRequest{
		PeriodYear:  req.PeriodYear,
		PeriodMonth: req.PeriodMonth,
		BranchID:    branchID,
		StudentID:   studentID,
		InitiatedBy: initiatedBy,
		Consolidate: req.Consolidate,
	})
	h.archiveResult(c.Request.Context(), result)
	if err != nil {
		respondError(c, err, "Failed to generate invoices")
		return
	}
	c.JSON(http.StatusOK, result)
}

// GenerateFrequency handles POST /v1/admin/invoices/frequency.
func (h *InvoiceHandler) GenerateFrequency(c *gin.Context) {
	var req FrequencyInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if !req.Frequency.IsPeriodic() {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrInvalidFrequency.Error()})
		return
	}
	var date time.Time
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = d
	}
	requestedBranch, err := parseOptionalObjectID(req.BranchID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid branchId"})
		return
	}
	branchID, err := middleware.ResolveBranch(c, requestedBranch)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	initiatedBy := middleware.InitiatorID(c)

	if c.Query("async") == "true" {
		task, err := tasks.NewFrequencyInvoiceTask(tasks.FrequencyInvoicePayload{
			Frequency:   req.Frequency,
			Date:        req.Date,
			BranchID:    hexOrEmpty(branchID),
			InitiatedBy: hexOrEmpty(initiatedBy),
			Consolidate: req.Consolidate,
		})
		if err != nil {
			respondError(c, err, "Failed to queue invoice generation")
			return
		}
		h.enqueue(c, task)
		return
	}

	result, err := h.invoices.GenerateInvoicesForFrequency(c.Request.Context(), services.FrequencyInvoiceRequest{
		Frequency:   req.Frequency,
		Date:        date,
		BranchID:    branchID,
		InitiatedBy: initiatedBy,
		Consolidate: req.Consolidate,
	})
	h.archiveResult(c.Request.Context(), result)
	if err != nil {
		respondError(c, err, "Failed to generate invoices")
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateForEnrollment handles POST /v1/admin/invoices/enrollment.
func (h *InvoiceHandler) CreateForEnrollment(c *gin.Context) {
	var req EnrollmentInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	studentID, err := primitive.ObjectIDFromHex(req.StudentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid studentId"})
		return
	}
	courseID, err := primitive.ObjectIDFromHex(req.CourseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid courseId"})
		return
	}
	var date time.Time
	if req.Date != "" {
		if date, err = time.Parse(dateLayout, req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
	}

	result, err := h.invoices.CreateInvoiceForEnrollment(c.Request.Context(), services.EnrollmentInvoiceRequest{
		StudentID:   studentID,
		CourseID:    courseID,
		Date:        date,
		InitiatedBy: middleware.InitiatorID(c),
	})
	if err != nil {
		respondError(c, err, "Failed to create enrollment invoice")
		return
	}
	status := http.StatusOK
	if result.Created > 0 {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// GetRunReport handles GET /v1/admin/invoice-runs/:runId/report.
func (h *InvoiceHandler) GetRunReport(c *gin.Context) {
	runID := c.Param("runId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
		return
	}
	url, err := h.archive.PresignGet(c.Request.Context(), storage.RunReportKey(runID))
	if err != nil {
		respondError(c, err, "Failed to sign report URL")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": runID, "url": url})
}

func (h *InvoiceHandler) enqueue(c *gin.Context, task *asynq.Task) {
	info, err := h.enqueuer.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		respondError(c, err, "Failed to queue invoice generation")
		return
	}
	log.Printf("Queued %s as task %s", task.Type(), info.ID)
	c.JSON(http.StatusAccepted, gin.H{"taskId": info.ID, "queue": info.Queue})
}

func (h *InvoiceHandler) archiveResult(ctx context.Context, result *services.GenerationResult) {
	if result == nil || !h.archive.Enabled() {
		return
	}
	if _, err := h.archive.Archive(ctx, storage.RunReportKey(result.RunID), result); err != nil {
		log.Printf("Failed to archive report for run %s: %v", result.RunID, err)
	}
}
