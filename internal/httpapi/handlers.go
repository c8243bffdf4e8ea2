// Package httpapi exposes the media jobs over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/job"
	"github.com/book-expert/media-service/internal/subtitle"
	"github.com/gin-gonic/gin"
)

// Form fields and messages.
const (
	fieldAudio   = "audio"
	fieldVideo   = "video"
	fieldCommand = "command"

	errMsgNoAudio          = "no audio file provided"
	errMsgNoVideo          = "no video file provided"
	errMsgInvalidBody      = "invalid request body"
	errMsgFailedToOpenFile = "failed to open uploaded file"

	headerJobID = "X-Job-Id"
	bannerText  = "media-service is running: POST /transcribe, /synthesize, /transcode\n"
)

// Jobs is the pipeline the handlers drive.
type Jobs interface {
	Transcribe(ctx context.Context, req job.TranscribeRequest) (*job.TranscribeResult, error)
	Synthesize(ctx context.Context, req job.SynthesizeRequest) (*job.ArtifactResult, error)
	Transcode(ctx context.Context, req job.TranscodeRequest) (*job.ArtifactResult, error)
	ReleaseArtifact(path string) error
}

// Handler holds the request handlers.
type Handler struct {
	jobs                 Jobs
	releaseAfterResponse bool
	log                  *logger.Logger
}

// NewHandler creates a Handler. With releaseAfterResponse set, an artifact is
// deleted as soon as it has been streamed instead of waiting for the sweeper.
func NewHandler(jobs Jobs, releaseAfterResponse bool, log *logger.Logger) *Handler {
	return &Handler{jobs: jobs, releaseAfterResponse: releaseAfterResponse, log: log}
}

// SynthesizeBody is the synthesize request, accepted as form fields or JSON.
type SynthesizeBody struct {
	Text  string `form:"text"  json:"text"`
	Voice string `form:"voice" json:"voice"`
	Rate  string `form:"rate"  json:"rate"`
	Pitch string `form:"pitch" json:"pitch"`
}

// Transcribe handles POST /transcribe.
func (h *Handler) Transcribe(c *gin.Context) {
	fileHeader, err := c.FormFile(fieldAudio)
	if err != nil {
		respondError(c, uploadError(err, errMsgNoAudio))

		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, core.NewResourceError(errMsgFailedToOpenFile, err))

		return
	}
	defer file.Close()

	result, err := h.jobs.Transcribe(c.Request.Context(), job.TranscribeRequest{
		Filename: fileHeader.Filename,
		Audio:    file,
	})
	if err != nil {
		respondError(c, err)

		return
	}

	c.Header(headerJobID, result.JobID)
	c.Data(http.StatusOK, subtitle.MimeType, []byte(result.Subtitle))
}

// Synthesize handles POST /synthesize and its /tts alias.
func (h *Handler) Synthesize(c *gin.Context) {
	var body SynthesizeBody

	err := c.ShouldBind(&body)
	if err != nil {
		respondError(c, uploadError(err, errMsgInvalidBody))

		return
	}

	result, err := h.jobs.Synthesize(c.Request.Context(), job.SynthesizeRequest{
		Text:  body.Text,
		Voice: core.VoiceParams{Voice: body.Voice, Rate: body.Rate, Pitch: body.Pitch},
	})
	if err != nil {
		respondError(c, err)

		return
	}

	h.serveArtifact(c, result)
}

// Transcode handles POST /transcode and its /ffmpeg alias.
func (h *Handler) Transcode(c *gin.Context) {
	fileHeader, err := c.FormFile(fieldVideo)
	if err != nil {
		respondError(c, uploadError(err, errMsgNoVideo))

		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, core.NewResourceError(errMsgFailedToOpenFile, err))

		return
	}
	defer file.Close()

	result, err := h.jobs.Transcode(c.Request.Context(), job.TranscodeRequest{
		Filename: fileHeader.Filename,
		Video:    file,
		Command:  c.PostForm(fieldCommand),
	})
	if err != nil {
		respondError(c, err)

		return
	}

	h.serveArtifact(c, result)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Banner handles GET /.
func (h *Handler) Banner(c *gin.Context) {
	c.String(http.StatusOK, bannerText)
}

func (h *Handler) serveArtifact(c *gin.Context, result *job.ArtifactResult) {
	c.Header(headerJobID, result.JobID)
	c.Header("Content-Type", result.Artifact.MimeType)
	c.FileAttachment(result.Artifact.Path, result.DownloadName)

	if !h.releaseAfterResponse {
		return
	}

	err := h.jobs.ReleaseArtifact(result.Artifact.Path)
	if err != nil {
		h.log.Warn("Failed to release artifact %s after response: %v", result.Artifact.Path, err)
	}
}
