// Package configapi mounts the /api/v1/config endpoints for reading and
// replacing the runtime settings document.
package configapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmem/openmem/internal/config"
)

// MountRoutes mounts the config routes.
func MountRoutes(r *gin.Engine, settings *config.SettingsService) {
	g := r.Group("/api/v1/config")
	g.GET("/", func(c *gin.Context) { getConfig(c, settings) })
	g.PUT("/", func(c *gin.Context) { putConfig(c, settings) })
}

func getConfig(c *gin.Context, settings *config.SettingsService) {
	s, err := settings.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// putConfig replaces the whole settings document. Omitted fields reset to
// their zero values.
func putConfig(c *gin.Context, settings *config.SettingsService) {
	var s config.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := settings.Put(c.Request.Context(), &s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, &s)
}
