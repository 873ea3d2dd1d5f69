package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/chat-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	admissionKey = "admission"

	UpgradeURL = "/pricing"
)

// Runs the rate limit and quota checks for an authenticated caller. The
// X-RateLimit headers are set on every attempt, allowed or not.
func Admission(gate *service.AdmissionGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		result, err := gate.Admit(c.Request.Context(), id)
		if err != nil {
			status, code := http.StatusInternalServerError, "admission_failed"
			var lerr *service.LedgerWriteError
			if errors.As(err, &lerr) {
				status, code = http.StatusServiceUnavailable, "quota_unavailable"
			}

			log.Error().
				Err(err).
				Int64("user_id", id.UserID).
				Str("request_id", c.GetString("request_id")).
				Msg("Admission check failed")
			c.AbortWithStatusJSON(status, gin.H{
				"error":   code,
				"message": "Unable to check usage limits, please retry",
			})
			return
		}

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.RateLimit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.RateRemaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.RateResetUnix, 10))

		switch result.Outcome {
		case service.RateLimited:
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSecs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       result.Outcome.Code(),
				"message":     fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", result.RetryAfterSecs),
				"retry_after": result.RetryAfterSecs,
			})
			return
		case service.QuotaExceeded:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":        result.Outcome.Code(),
				"message":      result.Quota.Error(),
				"tokens_used":  result.Quota.Used,
				"tokens_limit": result.Quota.Limit,
				"resets_at":    result.Quota.ResetDate,
				"upgrade_url":  UpgradeURL,
			})
			return
		}

		c.Set(admissionKey, result)
		c.Next()
	}
}

// GetAdmission returns the result stored by Admission for an allowed request.
func GetAdmission(c *gin.Context) (*service.AdmissionResult, bool) {
	v, ok := c.Get(admissionKey)
	if !ok {
		return nil, false
	}
	r, ok := v.(*service.AdmissionResult)
	return r, ok
}
