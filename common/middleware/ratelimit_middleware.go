package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/ratelimit"
	"github.com/labstack/echo/v4"
)

// UserRateLimit caps requests per authenticated user. Runs after
// ExtractUser/RequireUser; anonymous requests are not counted.
func UserRateLimit(counter ratelimit.Counter, limit int64, window time.Duration, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if counter == nil || limit <= 0 {
				return next(c)
			}

			userID := GetUserID(c)
			if userID == "" {
				return next(c)
			}

			result, err := counter.Allow(c.Request().Context(), "rate_limit:user:"+userID, limit, window)
			if err != nil {
				// fail open
				log.Warn("rate limit check failed", "user_id", userID, "error", err)
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "user_rate_limit_exceeded",
					"message": "You have exceeded your request quota. Please wait before trying again.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              window.String(),
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
