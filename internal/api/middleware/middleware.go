package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/auth"
)

const (
	ContextKeyOwner = "owner"

	// HeaderAPIKey carries an API key for clients that cannot set a bearer token.
	HeaderAPIKey = "X-API-Key"
)

// Auth accepts either a bearer JWT or a cv_ API key and stores the
// authenticated owner in the context. API keys may arrive as a bearer
// token or in the X-API-Key header.
func Auth(jwtSecret string, keys *auth.Keyring) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			credential := c.Request().Header.Get(HeaderAPIKey)
			if credential == "" {
				authHeader := c.Request().Header.Get("Authorization")
				if authHeader == "" {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
				}
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
				}
				credential = parts[1]
			}

			if _, err := auth.PrefixOf(credential); err == nil {
				owner, err := keys.Authenticate(credential)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
				}
				c.Set(ContextKeyOwner, owner)
				return next(c)
			}

			if jwtSecret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token auth is not configured")
			}
			claims, err := auth.VerifyJWT(jwtSecret, credential)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(ContextKeyOwner, claims.Owner)
			return next(c)
		}
	}
}
