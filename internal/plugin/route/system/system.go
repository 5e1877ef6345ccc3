// Package system registers the operational endpoints every deployment of the
// memory service gets regardless of configuration: liveness, readiness and
// the Prometheus scrape target. It mounts first so probes work even while the
// management routes are still loading.
package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/openmem/openmem/internal/registry/route"
)

var ready atomic.Bool

// MarkReady flips /ready to 200. StartServer calls it after the stores, the
// engine and the listener are all up.
func MarkReady() {
	ready.Store(true)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order:  0,
		Loader: mountSystemRoutes,
	})
}

func mountSystemRoutes(r *gin.Engine) error {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness stays 503 until initialization finishes, so orchestrators
	// hold traffic during migrations and store warmup.
	r.GET("/ready", func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}
