// Package transcode runs user-supplied transcoding commands (ffmpeg by
// default) against a staged input.
package transcode

import (
	"context"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/command"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/process"
)

// DefaultBinary is the transcoding executable used when none is configured.
const DefaultBinary = "ffmpeg"

// Config configures a Transcoder.
type Config struct {
	Binary  string
	Policy  command.Policy
	Timeout time.Duration
}

// Transcoder implements core.Transcoder.
type Transcoder struct {
	config Config
	runner *process.Runner
	log    *logger.Logger
}

// NewTranscoder creates a Transcoder. An empty binary selects DefaultBinary
// and an empty policy selects command.PolicyStrict.
func NewTranscoder(cfg Config, runner *process.Runner, log *logger.Logger) *Transcoder {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}

	if cfg.Policy == "" {
		cfg.Policy = command.PolicyStrict
	}

	return &Transcoder{config: cfg, runner: runner, log: log}
}

// Policy returns the trust policy applied to templates.
func (t *Transcoder) Policy() command.Policy {
	return t.config.Policy
}

// Transcode resolves template against the two paths and runs the engine. The
// returned result carries the exit status and captured streams; the error is
// reserved for validation, launch, and timeout failures.
func (t *Transcoder) Transcode(ctx context.Context, template, inputPath, outputPath string) (*core.ProcessResult, error) {
	cmd, err := t.buildCommand(template, command.Bindings{Input: inputPath, Output: outputPath})
	if err != nil {
		return nil, err
	}

	t.log.Info("Invoking transcoder: %s", cmd)

	return t.runner.Run(ctx, cmd, t.config.Timeout)
}

func (t *Transcoder) buildCommand(raw string, bindings command.Bindings) (process.Command, error) {
	tmpl, err := command.NewTemplate(raw)
	if err != nil {
		return process.Command{}, err
	}

	if t.config.Policy == command.PolicyShell {
		resolved, resolveErr := tmpl.Resolve(command.Bindings{
			Input:  shellQuote(bindings.Input),
			Output: shellQuote(bindings.Output),
		})
		if resolveErr != nil {
			return process.Command{}, resolveErr
		}

		return process.ShellCommand(t.config.Binary + " " + resolved), nil
	}

	args, err := tmpl.Argv(bindings)
	if err != nil {
		return process.Command{}, err
	}

	return process.Command{Binary: t.config.Binary, Args: args}, nil
}

// shellQuote wraps path in single quotes for /bin/sh.
func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
