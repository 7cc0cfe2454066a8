// internal/httpapi/httpapi.go
// Package httpapi exposes a gin-based /healthz and /status surface
// alongside the line-JSON RPC transport, grounded on the teacher's own
// gin router setup and handler style in cmd/driver/hasher-host/main.go
// (gin.New + gin.Recovery, a versioned route group, gin.H JSON bodies).
package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nmradcc/DCC-tester/internal/hoststats"
)

// Status reports the subsystems' running state for /status.
type Status struct {
	CSRunning  func() bool
	DecRunning func() bool
}

// NewRouter builds the gin engine serving /healthz and /status.
func NewRouter(startTime time.Time, status Status) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/status", func(c *gin.Context) {
		snap := hoststats.Read(runtime.NumGoroutine(), runtime.Version())
		c.JSON(http.StatusOK, gin.H{
			"uptime_sec":      time.Since(startTime).Seconds(),
			"cs_running":      status.CSRunning(),
			"decoder_running": status.DecRunning(),
			"cpu_percent":     snap.CPUPercent,
			"mem_used_pct":    snap.MemUsedPct,
			"goroutines":      snap.NumGoroutine,
		})
	})

	return router
}
