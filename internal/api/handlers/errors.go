package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/atiamdev/cms-backend-sub002/internal/services"
	"github.com/atiamdev/cms-backend-sub002/internal/storage"
)

// respondError maps service errors onto HTTP statuses. Unknown errors are
// attached to the context and reported as fallback.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrInvalidFrequency), errors.Is(err, services.ErrInvalidPeriod),
		errors.Is(err, services.ErrInvalidInvoiceNumber):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrStudentNotFound),
		errors.Is(err, services.ErrCourseNotFound),
		errors.Is(err, services.ErrFeeNotFound),
		errors.Is(err, services.ErrNoticeNotFound),
		errors.Is(err, services.ErrTemplateNotFound),
		errors.Is(err, storage.ErrArchiveDisabled),
		errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseOptionalObjectID(hex string) (*primitive.ObjectID, error) {
	if hex == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func hexOrEmpty(id *primitive.ObjectID) string {
	if id == nil {
		return ""
	}
	return id.Hex()
}
