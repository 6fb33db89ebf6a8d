package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// BuildSecretHeader authenticates kyx-api to kyx-builder
const BuildSecretHeader = "X-Build-Secret"

// RequireBuildSecret protects service-to-service endpoints with a shared
// secret. An empty configured secret rejects every request.
func RequireBuildSecret(secret string) echo.MiddlewareFunc {
	expected := []byte(secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(BuildSecretHeader)
			if len(expected) == 0 || got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error":   "unauthorized",
					"message": "invalid or missing " + BuildSecretHeader,
				})
			}
			return next(c)
		}
	}
}
