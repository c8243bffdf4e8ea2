package main

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/artifact"
	"github.com/book-expert/media-service/internal/command"
	"github.com/book-expert/media-service/internal/config"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/job"
	"github.com/book-expert/media-service/internal/process"
	"github.com/book-expert/media-service/internal/transcode"
	"github.com/book-expert/media-service/internal/tts"
	"github.com/book-expert/media-service/internal/whisper"
	"github.com/book-expert/media-service/internal/workspace"
)

// synthesizerCheckTimeout bounds the startup reachability check of a remote
// synthesizer.
const synthesizerCheckTimeout = 5 * time.Second

// healthChecker is implemented by engines that sit behind a network service.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// pipeline is the job machinery shared by the HTTP surface and the NATS
// intake.
type pipeline struct {
	orchestrator *job.Orchestrator
	artifacts    *artifact.Store
}

func buildPipeline(cfg *config.Config, log *logger.Logger) (*pipeline, error) {
	workspaces, err := workspace.NewManager(cfg.Paths.TempRoot, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace manager: %w", err)
	}

	artifacts, err := artifact.NewStore(cfg.Paths.TempRoot, cfg.Retention.Window(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	runner := process.NewRunner(cfg.Transcoder.GracePeriod(), log)

	transcoder, err := buildTranscoder(cfg.Transcoder, runner, log)
	if err != nil {
		return nil, err
	}

	orchestrator := job.NewOrchestrator(job.Dependencies{
		Workspaces:  workspaces,
		Artifacts:   artifacts,
		Transcriber: buildTranscriber(cfg.Transcriber, log),
		Synthesizer: buildSynthesizer(cfg.Synthesizer, runner, log),
		Transcoder:  transcoder,
	}, job.Config{
		AllowedExtensions: cfg.Transcoder.AllowedExtensions,
		OutputExtension:   cfg.Transcoder.OutputExtension,
		RetentionTTL:      cfg.Retention.Window(),
		FailureTTL:        cfg.Retention.FailureTTL(),
	}, log)

	return &pipeline{orchestrator: orchestrator, artifacts: artifacts}, nil
}

func buildTranscoder(cfg config.TranscoderConfig, runner *process.Runner, log *logger.Logger) (*transcode.Transcoder, error) {
	policy, err := command.ParsePolicy(cfg.CommandPolicy)
	if err != nil {
		return nil, fmt.Errorf("invalid transcoder command policy: %w", err)
	}

	if policy == command.PolicyShell {
		log.Warn("Transcoder command policy is %q: templates run through the shell", policy)
	}

	return transcode.NewTranscoder(transcode.Config{
		Binary:  cfg.Binary,
		Policy:  policy,
		Timeout: cfg.Timeout(),
	}, runner, log), nil
}

func buildSynthesizer(cfg config.SynthesizerConfig, runner *process.Runner, log *logger.Logger) core.Synthesizer {
	if cfg.Backend == config.BackendHTTP {
		log.Info("Synthesizer backend: TTS service at %s", cfg.ServiceURL)

		synth := tts.NewHTTPSynthesizer(cfg.ServiceURL, cfg.Timeout())

		ctx, cancel := context.WithTimeout(context.Background(), synthesizerCheckTimeout)
		defer cancel()

		_ = checkSynthesizer(ctx, synth, log)

		return synth
	}

	log.Info("Synthesizer backend: %s (voice %s)", cfg.Binary, cfg.Voice)

	return tts.NewEdgeSynthesizer(tts.EdgeConfig{
		Binary:  cfg.Binary,
		Voice:   cfg.Voice,
		Rate:    cfg.Rate,
		Pitch:   cfg.Pitch,
		Timeout: cfg.Timeout(),
	}, runner, log)
}

// checkSynthesizer reports whether a remote synthesizer answers. A failure is
// logged and returned but never stops startup; the service may come up later.
func checkSynthesizer(ctx context.Context, checker healthChecker, log *logger.Logger) error {
	err := checker.HealthCheck(ctx)
	if err != nil {
		log.Warn("Synthesizer is not reachable yet; synthesize jobs will fail until it is: %v", err)

		return err
	}

	log.Info("Synthesizer health check passed")

	return nil
}

func buildTranscriber(cfg config.TranscriberConfig, log *logger.Logger) core.Transcriber {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		log.Warn("Transcriber API key variable %s is not set; requests are sent unauthenticated", cfg.APIKeyEnv)
	}

	return whisper.NewClient(whisper.Config{
		URL:           cfg.URL,
		APIKey:        apiKey,
		Model:         cfg.Model,
		Language:      cfg.Language,
		Timeout:       cfg.Timeout(),
		MaxConcurrent: cfg.MaxConcurrent,
	}, log)
}
