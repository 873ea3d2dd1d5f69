package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/completion"
	"github.com/aman-churiwal/chat-gateway/internal/middleware"
	"github.com/aman-churiwal/chat-gateway/internal/models"
	"github.com/aman-churiwal/chat-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chat-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultRecordTimeout = 10 * time.Second

// statusClientClosedRequest is nginx's non-standard code for a client that
// disconnected before the response was written.
const statusClientClosedRequest = 499

type ChatConfig struct {
	SystemPrompt string
	// RecordTimeout bounds the deduction after the upstream call. It runs
	// detached from the client's request so a hang-up cannot lose it.
	RecordTimeout time.Duration
}

// Handles the metered chat endpoints
type ChatHandler struct {
	gate          *service.AdmissionGate
	quota         *service.QuotaService
	limiter       ratelimit.Limiter
	completer     completion.Completer
	systemPrompt  string
	recordTimeout time.Duration
}

func NewChatHandler(gate *service.AdmissionGate, quota *service.QuotaService, limiter ratelimit.Limiter, completer completion.Completer, cfg ChatConfig) *ChatHandler {
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}

	return &ChatHandler{
		gate:          gate,
		quota:         quota,
		limiter:       limiter,
		completer:     completer,
		systemPrompt:  cfg.SystemPrompt,
		recordTimeout: cfg.RecordTimeout,
	}
}

type chatMessage struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content" binding:"required"`
}

type CompletionRequest struct {
	Messages  []chatMessage `json:"messages" binding:"required,min=1,dive"`
	MaxTokens *int          `json:"max_tokens"`
}

type completionUsage struct {
	TokensUsedThisRequest int64 `json:"tokens_used_this_request"`
	TokensRemaining       int64 `json:"tokens_remaining"`
	TokensLimit           int64 `json:"tokens_limit"`
}

type CompletionResponse struct {
	Message string          `json:"message"`
	Usage   completionUsage `json:"usage"`
}

// Completions runs behind RequireAuth and Admission: by the time it is called
// the request has passed both the rate limit and the quota precheck.
func (h *ChatHandler) Completions(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if !h.completer.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "upstream_not_configured",
			"message": "Upstream API key not configured",
		})
		return
	}

	messages := make([]completion.Message, 0, len(req.Messages)+1)
	if h.systemPrompt != "" {
		messages = append(messages, completion.Message{Role: "system", Content: h.systemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, completion.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := h.completer.Complete(c.Request.Context(), completion.Request{
		Messages:  messages,
		MaxTokens: h.quota.ClampMaxTokens(req.MaxTokens),
	})
	if err != nil {
		// Nothing is charged for a failed call.
		h.upstreamError(c, id, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.recordTimeout)
	defer cancel()

	consumption, err := h.gate.RecordConsumption(ctx, id, resp.Usage.TotalTokens)
	if err != nil {
		log.Error().
			Err(err).
			Int64("user_id", id.UserID).
			Int64("tokens", resp.Usage.TotalTokens).
			Str("request_id", c.GetString("request_id")).
			Msg("Failed to record token usage")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "usage_recording_failed",
			"message": "The response could not be metered, please retry",
		})
		return
	}

	c.JSON(http.StatusOK, CompletionResponse{
		Message: resp.Message,
		Usage: completionUsage{
			TokensUsedThisRequest: consumption.TokensThisRequest,
			TokensRemaining:       consumption.TokensRemaining,
			TokensLimit:           consumption.TokensLimit,
		},
	})
}

func (h *ChatHandler) upstreamError(c *gin.Context, id models.Identity, err error) {
	logger := log.With().
		Err(err).
		Int64("user_id", id.UserID).
		Str("request_id", c.GetString("request_id")).
		Logger()

	var upErr *completion.UpstreamError
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug().Msg("Client went away during upstream call")
		c.AbortWithStatus(statusClientClosedRequest)
	case errors.Is(err, completion.ErrUpstreamTimeout):
		logger.Warn().Msg("Upstream completion timed out")
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "upstream_timeout",
			"message": "Request to the completion service timed out",
		})
	case errors.Is(err, completion.ErrUpstreamUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "upstream_unavailable",
			"message": "Completion service temporarily unavailable",
		})
	case errors.As(err, &upErr):
		logger.Error().Int("upstream_status", upErr.StatusCode).Msg("Upstream completion failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "upstream_error",
			"message": "Completion service returned an error",
		})
	default:
		logger.Error().Msg("Failed to reach upstream")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "upstream_error",
			"message": "Failed to connect to the completion service",
		})
	}
}

// Usage returns the caller's consumption for the current period
func (h *ChatHandler) Usage(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	stats, err := h.quota.UsageStats(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("user_id", id.UserID).Msg("Failed to load usage stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load usage",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Limits describes the rate limit and quotas; public
func (h *ChatHandler) Limits(c *gin.Context) {
	quotas := make(map[string]int64, len(models.Tiers))
	for _, tier := range models.Tiers {
		quotas[tier.String()] = tier.MonthlyTokenLimit()
	}

	c.JSON(http.StatusOK, gin.H{
		"rate_limit": gin.H{
			"requests":       h.limiter.Limit(),
			"window_seconds": int(h.limiter.Window().Seconds()),
		},
		"max_tokens_per_request": h.quota.MaxTokensPerRequest(),
		"monthly_quotas":         quotas,
	})
}

// Health reports whether the upstream is configured; public
func (h *ChatHandler) Health(c *gin.Context) {
	status := "ok"
	if !h.completer.Configured() {
		status = "not_configured"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"has_api_key": h.completer.Configured(),
	})
}
