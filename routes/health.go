package routes

import (
	"net/http"
	"time"

	"emergency-knowledge-service/services"

	"github.com/gin-gonic/gin"
)

// HandleHealth reports basic liveness.
func HandleHealth() gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).Truncate(time.Second).String(),
		})
	}
}

// HandleVectorHealth reports the cached vector-extension diagnostic.
func HandleVectorHealth(monitor *services.StoreHealthMonitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		enabled, checked, err := monitor.Status()

		resp := gin.H{
			"vectorExtensionEnabled": enabled,
			"lastChecked":            checked,
		}
		status := http.StatusOK
		if err != nil {
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
