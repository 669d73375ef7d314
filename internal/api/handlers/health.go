package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health reports the state of the backends in use. pinger is usually
// App.Ping; a nil error in its map means healthy.
func Health(version string, pinger func(ctx context.Context) map[string]error) echo.HandlerFunc {
	type depStatus struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	type healthResponse struct {
		Status  string               `json:"status"`
		Version string               `json:"version"`
		Deps    map[string]depStatus `json:"deps"`
	}
	return func(c echo.Context) error {
		deps := make(map[string]depStatus)
		overall := "ok"
		if pinger != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			for name, err := range pinger(ctx) {
				if err != nil {
					deps[name] = depStatus{Status: "error", Error: err.Error()}
					overall = "degraded"
					continue
				}
				deps[name] = depStatus{Status: "ok"}
			}
		}
		status := http.StatusOK
		if overall != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, healthResponse{Status: overall, Version: version, Deps: deps})
	}
}
