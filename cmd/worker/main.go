package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/app"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/queue"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/worker"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.Must(cfg.App.Env, "worker")

	// 1. Backends and service
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build app", zap.Error(err))
	}
	defer a.Close()

	// 2. Init Queue
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	// 3. Init Processors
	verifyProcessor := worker.NewMediaVerifyProcessor(a.Service, log)
	reconstructProcessor := worker.NewVideoReconstructProcessor(a.Service, log)
	auditProcessor := worker.NewLedgerAuditProcessor(a.Service, log)

	// 4. Start Scheduler
	scheduler := worker.NewAuditScheduler(queueClient, log, cfg.Worker.ValidateInterval)
	go scheduler.Run(ctx)

	// 5. Start Worker Server
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			Logger: log.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeMediaVerify, verifyProcessor.ProcessTask)
	mux.HandleFunc(queue.TypeVideoReconstruct, reconstructProcessor.ProcessTask)
	mux.HandleFunc(queue.TypeLedgerAudit, auditProcessor.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Fatal("could not start worker server", zap.Error(err))
	}

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	srv.Shutdown()
}
