package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders adds common security headers to every response. Forensic
// artifacts are served as attachments, so framing and sniffing stay off.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
