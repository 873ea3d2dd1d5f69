package handler

import (
	"net/http"

	"github.com/aman-churiwal/chat-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/chat-gateway/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

// BackendReporter is the rate limiter as seen by the status endpoints.
type BackendReporter interface {
	Backend() string
	Breaker() circuitbreaker.Metrics
}

// UpstreamBreaker is the completion client as seen by the status endpoints.
type UpstreamBreaker interface {
	CircuitBreakerMetrics() circuitbreaker.Metrics
}

// Handles system-related endpoints
type SystemHandler struct {
	checker  *healthcheck.Checker
	limiter  BackendReporter
	upstream UpstreamBreaker
}

func NewSystemHandler(checker *healthcheck.Checker, limiter BackendReporter, upstream UpstreamBreaker) *SystemHandler {
	return &SystemHandler{
		checker:  checker,
		limiter:  limiter,
		upstream: upstream,
	}
}

// Health reports dependency status and the active rate limit backend
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()

	code := http.StatusOK
	if overall == healthcheck.Unhealthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":             overall.String(),
		"dependencies":       h.checker.GetAllStatus(),
		"rate_limit_backend": h.limiter.Backend(),
	})
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := gin.H{
		"ratelimit": breakerJSON(h.limiter.Breaker()),
	}
	if h.upstream != nil {
		statuses["upstream"] = breakerJSON(h.upstream.CircuitBreakerMetrics())
	}

	c.JSON(http.StatusOK, statuses)
}

func breakerJSON(m circuitbreaker.Metrics) gin.H {
	return gin.H{
		"state":             m.State.String(),
		"failure_count":     m.FailureCount,
		"success_count":     m.SuccessCount,
		"last_failure_time": m.LastFailureTime,
		"last_state_change": m.LastStateChange,
	}
}
