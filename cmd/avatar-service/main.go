// main package for the avatar-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/avatar-service/internal/app"
	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/httpapi"
	"github.com/book-expert/avatar-service/internal/jobstore"
	"github.com/book-expert/avatar-service/internal/media/opencv"
	"github.com/book-expert/avatar-service/internal/objectstore"
	"github.com/book-expert/avatar-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	bytesPerMB        = 1 << 20
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "avatar-service-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	err = godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to read .env file: %v", err)
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires NATS, the pipeline, the worker and the HTTP boundary, then blocks
// until ctx is cancelled or one of them fails.
func serve(parent context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	for _, dir := range []string{cfg.Paths.ImageDir, cfg.Paths.AudioDir, cfg.Paths.VideoDir, cfg.Paths.WorkDir} {
		err := fileutil.EnsureDir(dir)
		if err != nil {
			return err
		}
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	jobs, err := jobstore.NewNats(jetstreamContext, cfg.NATS.JobsBucket)
	if err != nil {
		return err
	}

	videos, err := objectstore.New(jetstreamContext, cfg.NATS.VideoObjectStoreBucket)
	if err != nil {
		return err
	}

	dispatcher := worker.NewDispatcher(jetstreamContext, cfg.NATS.JobsStreamName, cfg.NATS.JobSubmittedSubject, log)

	err = dispatcher.EnsureStream()
	if err != nil {
		return err
	}

	coordinator, err := app.NewCoordinator(ctx, cfg, jobs, log)
	if err != nil {
		return err
	}

	natsWorker := worker.NewNatsWorker(natsConnection, jetstreamContext, worker.Config{
		Stream:           cfg.NATS.JobsStreamName,
		Consumer:         cfg.NATS.JobsConsumerName,
		Subject:          cfg.NATS.JobSubmittedSubject,
		CompletedSubject: cfg.NATS.JobCompletedSubject,
		AckWait:          config.Seconds(cfg.NATS.AckWaitSeconds),
		Concurrency:      cfg.Pipeline.MaxConcurrentJobs,
	}, jobs, videos, coordinator, log)

	api := httpapi.NewServer(jobs, videos, dispatcher, opencv.NewPortraitWriter(), app.Layout(cfg), httpapi.Config{
		UserHeader:     cfg.HTTP.UserHeader,
		MaxUploadBytes: int64(cfg.HTTP.MaxUploadMB) * bytesPerMB,
		CallbackToken:  cfg.HTTP.CallbackToken,
	}, log)

	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errs := make(chan error, 2)

	go func() {
		errs <- natsWorker.Run(ctx)
	}()

	go func() {
		log.System("Avatar-Service listening on %s, jobs on subject: %s", cfg.HTTP.ListenAddr, cfg.NATS.JobSubmittedSubject)

		serveErr := server.ListenAndServe()
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}

		errs <- serveErr
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case err = <-errs:
		if err != nil {
			log.Error("Service component stopped: %v", err)
		}
	}

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("HTTP shutdown failed: %v", shutdownErr)
	}

	return err
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
