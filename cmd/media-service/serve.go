package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/config"
	"github.com/book-expert/media-service/internal/httpapi"
	"github.com/book-expert/media-service/internal/objectstore"
	"github.com/book-expert/media-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service, the retention sweeper, and the optional NATS intake",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runServe(signalCtx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFileName)
	if err != nil {
		return err
	}
	defer closeLogger(log)

	app, err := buildPipeline(cfg, log)
	if err != nil {
		log.Error("Failed to build job pipeline: %v", err)

		return err
	}

	go app.artifacts.Run(ctx, cfg.Retention.SweepInterval())

	if cfg.NATS.Enabled() {
		stopIntake, intakeErr := startIntake(ctx, cfg.NATS, app, log)
		if intakeErr != nil {
			log.Error("Failed to start NATS intake: %v", intakeErr)

			return intakeErr
		}
		defer stopIntake()
	}

	gin.SetMode(gin.ReleaseMode)

	opts := httpapi.Options{
		Address:        cfg.Server.ServerAddress(),
		ReadTimeout:    cfg.Server.ReadTimeout(),
		WriteTimeout:   cfg.Server.WriteTimeout(),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	if cfg.Server.SweepAfterRequest {
		opts.Sweeper = app.artifacts
	}

	handler := httpapi.NewHandler(app.orchestrator, cfg.Server.ReleaseAfterResponse, log)
	server := httpapi.NewServer(httpapi.NewRouter(handler, opts, log), opts, log)

	err = server.Start()
	if err != nil {
		log.Error("Failed to start HTTP server: %v", err)

		return err
	}

	log.System("media-service started on %s (temp root %s, retention %s)",
		server.Addr(), cfg.Paths.TempRoot, cfg.Retention.Window())

	<-ctx.Done()

	log.Info("Shutdown signal received")

	return server.Stop(context.Background())
}

// startIntake connects to NATS and runs the synthesize worker until ctx ends.
// The returned func waits for the worker to drain and closes the connection.
func startIntake(ctx context.Context, cfg config.NATSConfig, app *pipeline, log *logger.Logger) (func(), error) {
	natsConnection, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	natsWorker := worker.NewNatsWorker(natsConnection, cfg.TextProcessedSubject, textStore, audioStore,
		app.orchestrator, worker.DefaultHandleTimeout, log)

	done := make(chan struct{})

	go func() {
		defer close(done)

		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error("NATS worker stopped: %v", runErr)
		}
	}()

	return func() {
		<-done
		natsConnection.Close()
	}, nil
}
