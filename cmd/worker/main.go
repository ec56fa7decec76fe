package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"brokercrm-backend/internal/bootstrap"
	"brokercrm-backend/internal/shared/config"
)

const (
	defaultVisibilitySeconds  = 900
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	concurrency := max(1, envInt("WORKER_CONCURRENCY", defaultWorkerConcurrency))
	shutdownTimeout := time.Duration(envInt("WORKER_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	var wg sync.WaitGroup
	switch cfg.QueueBackend {
	case "sqs":
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			log.Fatal("SQS_QUEUE_URL is required")
		}
		err = runSQS(ctx, &wg, sqsOptions{
			region:            cfg.AWSRegion,
			queueURL:          cfg.SQSQueueURL,
			visibilitySeconds: envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds),
			concurrency:       concurrency,
		}, app.ScanBatches)
	case "nats":
		err = runNATS(ctx, &wg, cfg.NATSURL, cfg.NATSSubject, concurrency, app.ScanBatches)
	default:
		log.Fatalf("QUEUE_BACKEND must be sqs or nats for the worker, got %q", cfg.QueueBackend)
	}
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight batches", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight batches")
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
