// Package tts provides the speech synthesis engines.
package tts

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/process"
)

// Edge engine defaults.
const (
	DefaultEdgeBinary = "edge-tts"
	DefaultVoice      = "en-US-EricNeural"
	DefaultRate       = "+9%"
	DefaultPitch      = "-5Hz"
)

// Error messages.
const (
	errTextRequired         = "text is required"
	errSynthesisFailed      = "speech synthesis failed"
	errSynthesisNoAudio     = "speech synthesis produced no audio"
	errFmtEngineExitStatus  = "%s exited with status %d"
	errFailedToStageText    = "failed to stage text for synthesis"
	errFailedToStatSynthOut = "failed to inspect synthesized audio"
)

// MP3Format is what edge-tts writes.
var MP3Format = core.AudioFormat{Extension: ".mp3", MimeType: "audio/mpeg"}

// EdgeConfig configures the edge-tts executable.
type EdgeConfig struct {
	Binary  string
	Voice   string
	Rate    string
	Pitch   string
	Timeout time.Duration
}

// EdgeSynthesizer implements core.Synthesizer by running the edge-tts
// executable.
type EdgeSynthesizer struct {
	config EdgeConfig
	runner *process.Runner
	log    *logger.Logger
}

// NewEdgeSynthesizer creates an EdgeSynthesizer. Empty config fields take
// the package defaults.
func NewEdgeSynthesizer(cfg EdgeConfig, runner *process.Runner, log *logger.Logger) *EdgeSynthesizer {
	if cfg.Binary == "" {
		cfg.Binary = DefaultEdgeBinary
	}

	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	if cfg.Rate == "" {
		cfg.Rate = DefaultRate
	}

	if cfg.Pitch == "" {
		cfg.Pitch = DefaultPitch
	}

	return &EdgeSynthesizer{config: cfg, runner: runner, log: log}
}

// OutputFormat returns MP3Format.
func (s *EdgeSynthesizer) OutputFormat() core.AudioFormat {
	return MP3Format
}

// Synthesize writes the speech for req.Text to req.OutputPath. The engine
// reads the text from a file rather than argv, so its length and leading
// characters never matter to the flag parser. The staged req.TextPath is used
// when set; otherwise the text is written to a temp file for the call.
func (s *EdgeSynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return core.NewValidationError(errTextRequired)
	}

	textPath := req.TextPath
	if textPath == "" {
		tempPath, err := s.writeTempText(req.Text)
		if err != nil {
			return err
		}

		defer s.removeTempText(tempPath)

		textPath = tempPath
	}

	cmd := process.Command{
		Binary: s.config.Binary,
		Args: []string{
			"--file", textPath,
			"--voice", firstNonEmpty(req.Voice.Voice, s.config.Voice),
			"--rate=" + firstNonEmpty(req.Voice.Rate, s.config.Rate),
			"--pitch=" + firstNonEmpty(req.Voice.Pitch, s.config.Pitch),
			"--write-media", req.OutputPath,
		},
	}

	result, err := s.runner.Run(ctx, cmd, s.config.Timeout)
	if err != nil {
		return asEngineError(err)
	}

	if !result.Succeeded() {
		return core.NewEngineFailure(errSynthesisFailed, string(result.Stderr),
			fmt.Errorf(errFmtEngineExitStatus, s.config.Binary, result.ExitCode))
	}

	return requireAudio(req.OutputPath)
}

func (s *EdgeSynthesizer) writeTempText(text string) (string, error) {
	textFile, err := os.CreateTemp("", "synthesis-*.txt")
	if err != nil {
		return "", core.NewResourceError(errFailedToStageText, err)
	}

	_, writeErr := textFile.WriteString(text)
	closeErr := textFile.Close()

	if writeErr != nil || closeErr != nil {
		s.removeTempText(textFile.Name())

		return "", core.NewResourceError(errFailedToStageText, fmt.Errorf("write: %v, close: %v", writeErr, closeErr))
	}

	return textFile.Name(), nil
}

func (s *EdgeSynthesizer) removeTempText(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		s.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}

func requireAudio(outputPath string) error {
	info, err := os.Stat(outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return core.NewEngineFailure(errSynthesisNoAudio, "", nil)
		}

		return core.NewResourceError(errFailedToStatSynthOut, err)
	}

	if info.Size() == 0 {
		return core.NewEngineFailure(errSynthesisNoAudio, "", nil)
	}

	return nil
}

// asEngineError leaves classified errors alone and maps anything else to an
// engine failure.
func asEngineError(err error) error {
	if _, ok := core.AsJobError(err); ok {
		return err
	}

	return core.NewEngineFailure(errSynthesisFailed, "", err)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}
