package http

import (
	"net/http"
	"strconv"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/logging"

	"github.com/gin-gonic/gin"
)

func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			args = append(args, "err", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error(c.Request.Context(), "http request", args...)
		case status >= http.StatusBadRequest:
			log.Warn(c.Request.Context(), "http request", args...)
		default:
			log.Info(c.Request.Context(), "http request", args...)
		}
	}
}

// throttle charges one action against the vault, claim or recovery in the path, metered per
// client IP and optionally per principal. It writes the 429 itself and reports whether the
// handler may continue.
func (s *Server) throttle(c *gin.Context, action string) bool {
	if s.throttler == nil || s.quota.Limit <= 0 {
		return true
	}
	key := domain.ThrottleKey{Action: action, Subject: c.Param("id"), Caller: c.ClientIP()}
	if s.throttlePerPrincipal {
		if principal, ok := getPrincipal(c); ok && principal.Subject != "" {
			key.Caller += "/" + domain.HashString(principal.Subject)[:16]
		}
	}
	verdict, err := s.throttler.Charge(c.Request.Context(), key, s.quota)
	if err != nil {
		s.log.Warn(c.Request.Context(), "throttle unavailable", "action", action, "subject", key.Subject, "err", err)
		if s.throttleFailClosed {
			writeErrorCode(c, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(verdict.ResetAt.Unix(), 10))
	if !verdict.Allowed {
		c.Header("Retry-After", strconv.Itoa(max(int(verdict.RetryAfter.Seconds()), 1)))
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}
