package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DependencyChecker reports the health of an external dependency.
type DependencyChecker func() error

// HealthHandler serves the health endpoints.
type HealthHandler struct {
	checkers map[string]DependencyChecker
}

// NewHealthHandler creates a new HealthHandler instance. checkers may be nil.
func NewHealthHandler(checkers map[string]DependencyChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "record-chain",
		"version": "1.0.0",
	})
}

// ReadinessCheck handles GET /health/ready.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	dependencies := gin.H{}
	ready := true

	for name, check := range h.checkers {
		if err := check(); err != nil {
			dependencies[name] = err.Error()
			ready = false
		} else {
			dependencies[name] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": dependencies,
	})
}

// LivenessCheck handles GET /health/live.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
