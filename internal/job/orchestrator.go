package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/artifact"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/subtitle"
	"github.com/book-expert/media-service/internal/workspace"
)

// Defaults.
const (
	DefaultOutputExtension = ".mp4"
	synthesisInputName     = "input.txt"
	synthesisOutputStem    = "speech"
	synthesisDownloadStem  = "tts_output"
	transcodeOutputPrefix  = "output_"
	transcodeDownloadStem  = "processed_"
)

// Error messages.
const (
	errMsgAudioRequired        = "no audio file provided"
	errMsgAudioEmpty           = "audio file is empty"
	errMsgTextRequired         = "text is required"
	errMsgVideoRequired        = "no video file provided"
	errMsgVideoEmpty           = "video file is empty"
	errMsgCommandRequired      = "command is required"
	errFmtUnsupportedExtension = "unsupported file extension %q"
	errMsgTranscodeFailed      = "transcoding failed"
	errMsgTranscodeNoOutput    = "transcoder produced no output file"
	errMsgSynthesisNoAudio     = "synthesizer produced no audio"
	errMsgInternal             = "internal job error"
	errMsgStagedInputUnusable  = "failed to inspect staged input"
)

// DefaultAllowedExtensions are the video extensions transcode accepts when
// none are configured.
var DefaultAllowedExtensions = []string{".mp4", ".mov", ".mkv", ".avi", ".webm", ".m4v", ".mpeg", ".mpg", ".flv", ".wmv"}

// Config holds the orchestrator's policy knobs.
type Config struct {
	// AllowedExtensions lists the video extensions transcode accepts.
	AllowedExtensions []string
	// OutputExtension is appended to transcode outputs.
	OutputExtension string
	// RetentionTTL is how long a successful output stays downloadable.
	RetentionTTL time.Duration
	// FailureTTL, when positive, keeps a failed job's partial output for that
	// long instead of removing it with the workspace.
	FailureTTL time.Duration
}

// Dependencies are the collaborators an Orchestrator sequences.
type Dependencies struct {
	Workspaces  *workspace.Manager
	Artifacts   *artifact.Store
	Transcriber core.Transcriber
	Synthesizer core.Synthesizer
	Transcoder  core.Transcoder
}

// TranscribeRequest is an uploaded audio file.
type TranscribeRequest struct {
	Filename string
	Audio    io.Reader
}

// TranscribeResult is the subtitle text of a transcription.
type TranscribeResult struct {
	JobID    string
	Subtitle string
	Entries  int
}

// SynthesizeRequest is text to speak with optional voice overrides.
type SynthesizeRequest struct {
	Text  string
	Voice core.VoiceParams
}

// TranscodeRequest is an uploaded video and the command template to run on it.
type TranscodeRequest struct {
	Filename string
	Video    io.Reader
	Command  string
}

// ArtifactResult is an output file registered with the artifact store.
type ArtifactResult struct {
	JobID        string
	Artifact     artifact.Artifact
	DownloadName string
}

// Orchestrator runs jobs. It is safe for concurrent use; jobs share nothing
// but the artifact registry and the temp root.
type Orchestrator struct {
	deps   Dependencies
	config Config
	log    *logger.Logger
}

// NewOrchestrator creates an Orchestrator. Engines a deployment does not
// provide may be nil; the matching job kind then fails with an engine error.
func NewOrchestrator(deps Dependencies, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.OutputExtension == "" {
		cfg.OutputExtension = DefaultOutputExtension
	}

	if !strings.HasPrefix(cfg.OutputExtension, ".") {
		cfg.OutputExtension = "." + cfg.OutputExtension
	}

	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultAllowedExtensions
	}

	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = artifact.DefaultRetentionWindow
	}

	return &Orchestrator{deps: deps, config: cfg, log: log}
}

// Artifacts returns the store outputs are registered with.
func (o *Orchestrator) Artifacts() *artifact.Store {
	return o.deps.Artifacts
}

// Transcribe converts an uploaded audio file into subtitle text. The job has
// no persisted output, so its workspace is released on every exit path.
func (o *Orchestrator) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	job := New(KindTranscribe)
	o.log.Info("Job %s (%s) started", job.ID, job.Kind)

	if req.Audio == nil {
		return nil, o.fail(job, core.NewValidationError(errMsgAudioRequired), "")
	}

	if o.deps.Transcriber == nil {
		return nil, o.fail(job, engineUnavailable(KindTranscribe), "")
	}

	ws, err := o.stage(job, req.Filename, req.Audio, errMsgAudioEmpty)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = o.deps.Workspaces.Release(ws)
	}()

	err = job.Transition(StateInvoking)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	o.log.Info("Job %s: invoking transcription engine", job.ID)

	segments, err := o.deps.Transcriber.Transcribe(detach(ctx), ws.InputFiles()[0])
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	err = job.Transition(StateFormatting)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	text := subtitle.ToSubtitle(segments)

	err = job.Transition(StateCompleted)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	o.log.Info("Job %s completed in %s: %d entries", job.ID, job.Duration(), len(segments))

	return &TranscribeResult{JobID: job.ID, Subtitle: text, Entries: len(segments)}, nil
}

// Synthesize speaks text and registers the audio as an artifact.
func (o *Orchestrator) Synthesize(ctx context.Context, req SynthesizeRequest) (*ArtifactResult, error) {
	job := New(KindSynthesize)
	o.log.Info("Job %s (%s) started", job.ID, job.Kind)

	if strings.TrimSpace(req.Text) == "" {
		return nil, o.fail(job, core.NewValidationError(errMsgTextRequired), "")
	}

	if o.deps.Synthesizer == nil {
		return nil, o.fail(job, engineUnavailable(KindSynthesize), "")
	}

	ws, err := o.stage(job, synthesisInputName, strings.NewReader(req.Text), errMsgTextRequired)
	if err != nil {
		return nil, err
	}

	format := o.deps.Synthesizer.OutputFormat()
	outputPath := ws.OutputPath(synthesisOutputStem + format.Extension)

	err = job.Transition(StateInvoking)
	if err != nil {
		return nil, o.fail(job, err, outputPath)
	}

	o.log.Info("Job %s: invoking synthesis engine", job.ID)

	err = o.deps.Synthesizer.Synthesize(detach(ctx), core.SynthesisRequest{
		Text:       req.Text,
		TextPath:   ws.InputFiles()[0],
		Voice:      req.Voice,
		OutputPath: outputPath,
	})
	if err != nil {
		return nil, o.fail(job, err, outputPath)
	}

	if !hasContent(outputPath) {
		return nil, o.fail(job, core.NewEngineFailure(errMsgSynthesisNoAudio, "", nil), outputPath)
	}

	return o.complete(job, outputPath, format.MimeType, synthesisDownloadStem+format.Extension)
}

// Transcode runs the caller's command template against an uploaded video and
// registers the result as an artifact.
func (o *Orchestrator) Transcode(ctx context.Context, req TranscodeRequest) (*ArtifactResult, error) {
	job := New(KindTranscode)
	o.log.Info("Job %s (%s) started", job.ID, job.Kind)

	err := o.validateTranscode(req)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	if o.deps.Transcoder == nil {
		return nil, o.fail(job, engineUnavailable(KindTranscode), "")
	}

	ws, err := o.stage(job, req.Filename, req.Video, errMsgVideoEmpty)
	if err != nil {
		return nil, err
	}

	inputPath := ws.InputFiles()[0]
	stem := workspace.Stem(filepath.Base(inputPath))
	outputPath := ws.OutputPath(transcodeOutputPrefix + stem + o.config.OutputExtension)

	err = job.Transition(StateInvoking)
	if err != nil {
		return nil, o.fail(job, err, outputPath)
	}

	o.log.Info("Job %s: invoking transcoder", job.ID)

	result, err := o.deps.Transcoder.Transcode(detach(ctx), req.Command, inputPath, outputPath)
	if err != nil {
		return nil, o.fail(job, err, outputPath)
	}

	if !result.Succeeded() {
		return nil, o.fail(job, core.NewEngineFailure(errMsgTranscodeFailed, string(result.Stderr),
			fmt.Errorf("transcoder exited with status %d", result.ExitCode)), outputPath)
	}

	if !hasContent(outputPath) {
		return nil, o.fail(job, core.NewEngineFailure(errMsgTranscodeNoOutput, string(result.Stderr), nil), outputPath)
	}

	return o.complete(job, outputPath, "", transcodeDownloadStem+stem+o.config.OutputExtension)
}

// ReleaseArtifact deletes a delivered artifact ahead of its deadline.
func (o *Orchestrator) ReleaseArtifact(path string) error {
	return o.deps.Artifacts.Release(path)
}

func (o *Orchestrator) validateTranscode(req TranscodeRequest) error {
	if req.Video == nil {
		return core.NewValidationError(errMsgVideoRequired)
	}

	if strings.TrimSpace(req.Command) == "" {
		return core.NewValidationError(errMsgCommandRequired)
	}

	if !workspace.HasAllowedExtension(req.Filename, o.config.AllowedExtensions) {
		return core.NewValidationError(fmt.Sprintf(errFmtUnsupportedExtension, filepath.Ext(req.Filename)))
	}

	return nil
}

// stage acquires the job's workspace and writes the single input into it.
// An input that turns out empty is a validation failure.
func (o *Orchestrator) stage(job *Job, filename string, src io.Reader, emptyMessage string) (*workspace.Workspace, error) {
	err := job.Transition(StateStaging)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	ws, err := o.deps.Workspaces.Acquire(job.ID)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	job.attach(ws)

	inputPath, err := ws.StageInput(filename, src)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, o.fail(job, core.NewResourceError(errMsgStagedInputUnusable, err), "")
	}

	if info.Size() == 0 {
		return nil, o.fail(job, core.NewValidationError(emptyMessage), "")
	}

	return ws, nil
}

// complete removes the inputs, drops the in-progress marker, and registers
// the output for download.
func (o *Orchestrator) complete(job *Job, outputPath, mimeType, downloadName string) (*ArtifactResult, error) {
	ws := job.Workspace()

	err := ws.RemoveInputs()
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	err = ws.Finish()
	if err != nil {
		o.log.Warn("Job %s: %v", job.ID, err)
	}

	registered, err := o.deps.Artifacts.Register(outputPath, mimeType, o.config.RetentionTTL)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	err = job.Transition(StateCompleted)
	if err != nil {
		return nil, o.fail(job, err, "")
	}

	o.log.Info("Job %s completed in %s: %s (%s, %d bytes)",
		job.ID, job.Duration(), registered.Path, registered.MimeType, registered.Size)

	return &ArtifactResult{JobID: job.ID, Artifact: registered, DownloadName: downloadName}, nil
}

// fail records the failure and cleans up. Inputs are always removed. A
// partial output is kept for FailureTTL when that is configured; otherwise
// the whole workspace goes immediately.
func (o *Orchestrator) fail(job *Job, cause error, outputPath string) error {
	jobErr := classify(cause)
	state := job.State()
	job.Fail(jobErr)

	o.log.Error("Job %s (%s) failed while %s: %v", job.ID, job.Kind, state, jobErr)

	ws := job.Workspace()
	if ws == nil {
		return jobErr
	}

	if o.config.FailureTTL > 0 && outputPath != "" && hasContent(outputPath) && o.keepPartialOutput(job, ws, outputPath) {
		return jobErr
	}

	_ = o.deps.Workspaces.Release(ws)

	return jobErr
}

func (o *Orchestrator) keepPartialOutput(job *Job, ws *workspace.Workspace, outputPath string) bool {
	err := ws.RemoveInputs()
	if err != nil {
		return false
	}

	_ = ws.Finish()

	_, err = o.deps.Artifacts.Register(outputPath, "", o.config.FailureTTL)
	if err != nil {
		o.log.Warn("Job %s: failed to keep partial output: %v", job.ID, err)

		return false
	}

	o.log.Info("Job %s: partial output kept for %s", job.ID, o.config.FailureTTL)

	return true
}

// classify maps any error onto the job error taxonomy.
func classify(err error) *core.JobError {
	if jobErr, ok := core.AsJobError(err); ok {
		return jobErr
	}

	return core.NewResourceError(errMsgInternal, err)
}

func engineUnavailable(kind Kind) error {
	return core.NewEngineFailure(fmt.Sprintf("no %s engine is configured", kind), "", nil)
}

// detach keeps a job running when its caller goes away so the output still
// reaches the artifact store. Engines enforce their own timeouts.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func hasContent(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
