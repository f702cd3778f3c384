package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/api/middleware"
	"github.com/atiamdev/cms-backend-sub002/internal/auth"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
)

// FeeHandler serves invoice lookups.
type FeeHandler struct {
	fees services.IFeeService
}

func NewFeeHandler(fees services.IFeeService) *FeeHandler {
	return &FeeHandler{fees: fees}
}

// GetFee handles GET /v1/fees/:id. Branch-scoped callers only see fees of
// their branch; students only their own.
func (h *FeeHandler) GetFee(c *gin.Context) {
	feeID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fee id"})
		return
	}
	fee, err := h.fees.FindByID(c.Request.Context(), feeID)
	if err != nil {
		respondError(c, err, "Failed to retrieve fee")
		return
	}
	h.respondFee(c, fee)
}

// GetFeeByNumber handles GET /v1/fees/by-number/:invoiceNumber. The number
// may be typed in lower case with separators and confusable letters.
func (h *FeeHandler) GetFeeByNumber(c *gin.Context) {
	fee, err := h.fees.FindByInvoiceNumber(c.Request.Context(), c.Param("invoiceNumber"))
	if err != nil {
		respondError(c, err, "Failed to retrieve fee")
		return
	}
	h.respondFee(c, fee)
}

func (h *FeeHandler) respondFee(c *gin.Context, fee *models.Fee) {
	branchID, err := middleware.ResolveBranch(c, nil)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	if (branchID != nil && fee.BranchID != *branchID) || !mayReadStudent(c, fee.StudentID) {
		respondError(c, services.ErrFeeNotFound, "")
		return
	}
	c.JSON(http.StatusOK, fee)
}

// ListStudentFees handles GET /v1/students/:id/fees.
func (h *FeeHandler) ListStudentFees(c *gin.Context) {
	studentID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid student id"})
		return
	}
	if !mayReadStudent(c, studentID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient privileges"})
		return
	}
	branchID, err := middleware.ResolveBranch(c, nil)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	filter := services.FeeListFilter{
		PeriodYear:  queryInt(c, "periodYear"),
		PeriodMonth: queryInt(c, "periodMonth"),
		Page:        queryInt(c, "page"),
		Limit:       queryInt(c, "limit"),
		BranchID:    branchID,
	}
	fees, total, err := h.fees.ListByStudent(c.Request.Context(), studentID, filter)
	if err != nil {
		respondError(c, err, "Failed to retrieve fees")
		return
	}
	c.JSON(http.StatusOK, gin.H{"fees": fees, "total": total})
}

// mayReadStudent lets students see only their own records.
func mayReadStudent(c *gin.Context, studentID primitive.ObjectID) bool {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.Role != auth.RoleStudent {
		return true
	}
	return claims.UserID == studentID.Hex()
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}
