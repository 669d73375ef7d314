package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/api/handlers"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/api/middleware"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/auth"
)

func Register(e *echo.Echo, h *handlers.Handlers, health echo.HandlerFunc, jwtSecret string, keys *auth.Keyring) {
	// Public
	e.GET("/health", health)
	e.GET("/outputs/:name", h.GetOutput)
	e.GET("/api/v1/ledger", h.GetLedger)
	e.GET("/api/v1/ledger/stream", h.StreamLedger)

	// API key or JWT protected
	api := e.Group("/api/v1")
	api.Use(middleware.Auth(jwtSecret, keys))

	api.POST("/auth/token", h.IssueToken)

	api.POST("/media/register", h.RegisterMedia)
	api.POST("/media/verify", h.VerifyMedia)
	api.POST("/media/verify/async", h.VerifyMediaAsync)
	api.POST("/media/reconstruct", h.ReconstructVideo)

	api.POST("/ledger/validate", h.ValidateLedger)

	api.GET("/tasks/:queue/:task_id", h.GetTask)
}
