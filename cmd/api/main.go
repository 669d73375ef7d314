package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/api/handlers"
	apimw "github.com/rithikashettigar/ChainVerify-Forensics/internal/api/middleware"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/api/routes"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/app"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/auth"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.Must(cfg.App.Env, "api")

	// 1. Backends and service
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build app", zap.Error(err))
	}
	defer a.Close()

	// 2. Auth
	keys := auth.NewKeyring(cfg.Auth.APIKeys)
	if cfg.Auth.JWTSecret == "" && keys.Len() == 0 {
		log.Fatal("no credentials configured: set CHAINVERIFY_AUTH_JWT_SECRET or auth.api_keys")
	}

	// 3. Queue client and inspector (async verify / reconstruct)
	var (
		q         handlers.Queue
		inspector handlers.TaskInspector
	)
	if cfg.Redis.Addr != "" {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		insp := asynq.NewInspector(redisOpt)
		defer insp.Close()
		q, inspector = client, insp
	}

	// 4. Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(apimw.RequestID())
	e.Use(apimw.SecurityHeaders())
	e.Use(apimw.AccessLog(log))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAccept, apimw.HeaderAPIKey},
		MaxAge:       3600,
	}))
	e.Use(echomw.BodyLimit(strconv.Itoa(cfg.App.MaxUploadMB) + "M"))
	// 20 req/s per IP, burst of 40
	e.Use(apimw.RateLimit(ctx, 20, 40))

	h := handlers.NewHandlers(a.Service, a.Ledger, q, inspector, handlers.Options{
		OutputsDir:     cfg.App.OutputsDir,
		UploadDir:      cfg.App.UploadDir,
		MaxUploadBytes: int64(cfg.App.MaxUploadMB) << 20,
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTExpiration:  cfg.Auth.JWTExpiration,
	}, log)
	routes.Register(e, h, handlers.Health(cfg.App.Version, a.Ping), cfg.Auth.JWTSecret, keys)

	// 5. Start Server
	go func() {
		port := strconv.Itoa(cfg.App.Port)
		log.Info("api listening", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(ctxShutdown); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
}
