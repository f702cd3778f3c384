package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/api/middleware"
	"github.com/atiamdev/cms-backend-sub002/internal/auth"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
)

// NoticeHandler serves in-app notices.
type NoticeHandler struct {
	notices services.INoticeService
}

func NewNoticeHandler(notices services.INoticeService) *NoticeHandler {
	return &NoticeHandler{notices: notices}
}

type CreateNoticeRequest struct {
	BranchID         string                `json:"branchId"`
	Title            string                `json:"title" binding:"required"`
	Content          string                `json:"content" binding:"required"`
	Type             models.NoticeType     `json:"type"`
	Priority         string                `json:"priority"`
	TargetAudience   models.NoticeAudience `json:"targetAudience"`
	TargetStudentIDs []string              `json:"targetStudentIds"`
	ExpiresAt        *time.Time            `json:"expiresAt"`
}

// List handles GET /v1/notices. Students only see notices addressed to the
// whole branch or to them.
func (h *NoticeHandler) List(c *gin.Context) {
	requested, err := parseOptionalObjectID(c.Query("branchId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid branchId"})
		return
	}
	branchID, err := middleware.ResolveBranch(c, requested)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	filter := services.NoticeFilter{
		BranchID: branchID,
		Type:     models.NoticeType(c.Query("type")),
		Page:     queryInt(c, "page"),
		Limit:    queryInt(c, "limit"),
	}
	if claims := middleware.ClaimsFrom(c); claims != nil && claims.Role == auth.RoleStudent {
		filter.StudentID = middleware.InitiatorID(c)
	}

	notices, total, err := h.notices.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to retrieve notices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": notices, "total": total})
}

// Create handles POST /v1/admin/notices.
func (h *NoticeHandler) Create(c *gin.Context) {
	var req CreateNoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	requested, err := parseOptionalObjectID(req.BranchID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid branchId"})
		return
	}
	branchID, err := middleware.ResolveBranch(c, requested)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	if branchID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "branchId is required"})
		return
	}
	targets := make([]primitive.ObjectID, 0, len(req.TargetStudentIDs))
	for _, hex := range req.TargetStudentIDs {
		id, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid targetStudentIds entry: " + hex})
			return
		}
		targets = append(targets, id)
	}
	noticeType := req.Type
	if noticeType == "" {
		noticeType = models.NoticeTypeGeneral
	}

	notice := &models.Notice{
		BranchID:         *branchID,
		Title:            req.Title,
		Content:          req.Content,
		Type:             noticeType,
		Priority:         req.Priority,
		TargetAudience:   req.TargetAudience,
		TargetStudentIDs: targets,
		ExpiresAt:        req.ExpiresAt,
		CreatedBy:        middleware.InitiatorID(c),
	}
	if err := h.notices.Create(c.Request.Context(), notice); err != nil {
		respondError(c, err, "Failed to create notice")
		return
	}
	c.JSON(http.StatusCreated, notice)
}

// Delete handles DELETE /v1/admin/notices/:id.
func (h *NoticeHandler) Delete(c *gin.Context) {
	noticeID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notice id"})
		return
	}
	branchID, err := middleware.ResolveBranch(c, nil)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	if err := h.notices.Delete(c.Request.Context(), noticeID, branchID); err != nil {
		respondError(c, err, "Failed to delete notice")
		return
	}
	c.Status(http.StatusNoContent)
}
