package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
	"github.com/atiamdev/cms-backend-sub002/internal/notify"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
)

// TemplateHandler manages notification template overrides.
type TemplateHandler struct {
	templates services.INotificationTemplateService
}

func NewTemplateHandler(templates services.INotificationTemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

type SaveTemplateRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body" binding:"required"`
}

func templateKey(c *gin.Context) (string, notify.Channel, bool) {
	templateID := c.Param("templateId")
	channel := notify.Channel(c.Param("channel"))
	if templateID == "" || !channel.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown template or channel"})
		return "", "", false
	}
	return templateID, channel, true
}

// GetTemplate handles GET /v1/admin/notification-templates/:templateId/:channel
// and returns the template in effect, stored or built-in.
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	templateID, channel, ok := templateKey(c)
	if !ok {
		return
	}
	tmpl, err := h.templates.GetTemplate(c.Request.Context(), templateID, string(channel))
	if err != nil {
		respondError(c, err, "Failed to retrieve template")
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// SaveTemplate handles PUT /v1/admin/notification-templates/:templateId/:channel.
func (h *TemplateHandler) SaveTemplate(c *gin.Context) {
	templateID, channel, ok := templateKey(c)
	if !ok {
		return
	}
	var req SaveTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	tmpl := &models.NotificationTemplate{
		TemplateID: templateID,
		Channel:    string(channel),
		Subject:    req.Subject,
		Body:       req.Body,
	}
	if err := h.templates.SaveTemplate(c.Request.Context(), tmpl); err != nil {
		respondError(c, err, "Failed to save template")
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// DeleteTemplate handles DELETE /v1/admin/notification-templates/:templateId/:channel.
// Built-in templates apply again afterwards.
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	templateID, channel, ok := templateKey(c)
	if !ok {
		return
	}
	if err := h.templates.DeleteTemplate(c.Request.Context(), templateID, string(channel)); err != nil {
		respondError(c, err, "Failed to delete template")
		return
	}
	c.Status(http.StatusNoContent)
}
