package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atiamdev/cms-backend-sub002/internal/services"
)

// RestConfigHandler handles requests for the /config REST endpoints.
type RestConfigHandler struct {
	configService services.IConfigService
}

// NewRestConfigHandler creates a new RestConfigHandler.
func NewRestConfigHandler(configService services.IConfigService) *RestConfigHandler {
	return &RestConfigHandler{configService: configService}
}

// GetPublicConfig returns the publicly accessible configuration parameters.
// Handles GET /v1/config
func (h *RestConfigHandler) GetPublicConfig(c *gin.Context) {
	publicConfig, err := h.configService.GetAllPublic(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve configuration"})
		return
	}
	c.JSON(http.StatusOK, publicConfig)
}

// SetConfigRequest carries a runtime override. A null value removes the
// override so the environment default applies again.
type SetConfigRequest struct {
	Value  interface{} `json:"value"`
	Public bool        `json:"public"`
}

// SetConfigValue handles PUT /v1/admin/config/:key.
func (h *RestConfigHandler) SetConfigValue(c *gin.Context) {
	key := c.Param("key")
	var req SetConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.configService.SetConfigValue(c.Request.Context(), key, req.Value, req.Public); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update configuration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value, "public": req.Public})
}
