// Package middleware holds echo middleware shared across the HTTP
// surface.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowsync/flowsync/common/ratelimit"
)

// GlobalRateLimit caps total requests across all callers. Limit checks
// that error fail open: availability beats strict accounting here.
func GlobalRateLimit(limiter *ratelimit.Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := limiter.CheckGlobal(c.Request().Context(), limit)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return tooManyRequests(c, "global_rate_limit_exceeded", result)
			}
			return next(c)
		}
	}
}

// UserRateLimit caps requests per caller, identified by the X-User-ID
// header. Anonymous requests pass through to the global limit only.
func UserRateLimit(limiter *ratelimit.Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get("X-User-ID")
			if userID == "" {
				return next(c)
			}

			result, err := limiter.CheckUser(c.Request().Context(), userID, limit)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return tooManyRequests(c, "user_rate_limit_exceeded", result)
			}
			return next(c)
		}
	}
}

// TriggerRateLimit caps webhook deliveries per trigger, keyed by the
// :triggerID route parameter
func TriggerRateLimit(limiter *ratelimit.Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			triggerID := c.Param("triggerID")
			if triggerID == "" {
				return next(c)
			}

			result, err := limiter.CheckTrigger(c.Request().Context(), triggerID, limit)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return tooManyRequests(c, "trigger_rate_limit_exceeded", result)
			}
			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, code string, result *ratelimit.Result) error {
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"error": code,
		"details": map[string]any{
			"limit":               result.Limit,
			"current_count":       result.CurrentCount,
			"retry_after_seconds": result.RetryAfterSeconds,
		},
	})
}
