// Package whisper implements the transcription engine against an
// OpenAI-compatible Whisper API.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/core"
)

// Defaults.
const (
	DefaultURL           = "https://api.openai.com/v1/audio/transcriptions"
	DefaultModel         = "whisper-1"
	DefaultTimeout       = 120 * time.Second
	DefaultMaxConcurrent = 1
)

// Error messages.
const (
	errFailedToOpenFile        = "failed to open audio file"
	errFailedToCloseFile       = "Failed to close audio file %s: %v"
	errFailedToBuildForm       = "failed to build multipart request"
	errFailedToCloseRespBody   = "Failed to close transcription response body: %v"
	errTranscriptionFailed     = "transcription failed"
	errFmtAPIRequestFailed     = "API request failed with status %d"
	errFailedToDecodeResponse  = "failed to decode transcription response"
	errTranscriptionTimedOut   = "transcription service did not answer in time"
	errTranscriptionCancelled  = "transcription cancelled while waiting for a slot"
	errFailedToCreateRequest   = "failed to create transcription request: %w"
	errFailedToWriteFormField  = "failed to write %s field: %w"
	errFailedToCreateFormFile  = "failed to create form file: %w"
	errFailedToCopyFileData    = "failed to copy file data: %w"
	errFailedToCloseFormWriter = "failed to close multipart writer: %w"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
)

// Form field names and values.
const (
	formFieldFile                   = "file"
	formFieldModel                  = "model"
	formFieldLanguage               = "language"
	formFieldResponseFormat         = "response_format"
	formFieldTimestampGranularities = "timestamp_granularities[]"
	responseFormatVerboseJSON       = "verbose_json"
	granularityWord                 = "word"
	granularitySegment              = "segment"
)

// Config configures the Whisper client.
type Config struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
	// MaxConcurrent bounds in-flight transcriptions across all jobs.
	MaxConcurrent int
}

// Word is one word-level timestamp in a verbose response.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one phrase-level timestamp in a verbose response.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// VerboseResponse is the verbose_json transcription body.
type VerboseResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Words    []Word    `json:"words,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Entries returns the word timestamps when the engine produced them, and the
// phrase segments otherwise.
func (r *VerboseResponse) Entries() []core.Segment {
	if len(r.Words) > 0 {
		entries := make([]core.Segment, 0, len(r.Words))
		for _, word := range r.Words {
			entries = append(entries, core.Segment{StartSeconds: word.Start, EndSeconds: word.End, Text: word.Word})
		}

		return entries
	}

	entries := make([]core.Segment, 0, len(r.Segments))
	for _, segment := range r.Segments {
		entries = append(entries, core.Segment{StartSeconds: segment.Start, EndSeconds: segment.End, Text: segment.Text})
	}

	return entries
}

// Client implements core.Transcriber.
type Client struct {
	httpClient *http.Client
	config     Config
	slots      chan struct{}
	log        *logger.Logger
}

// NewClient creates a Whisper client. Empty config fields take the defaults.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	return &Client{
		config: cfg,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
		log:    log,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Transcribe returns the timestamped entries for the audio file, waiting for
// a free slot first.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]core.Segment, error) {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, core.NewEngineFailure(errTranscriptionCancelled, "", ctx.Err())
	}

	defer func() { <-c.slots }()

	response, err := c.TranscribeVerbose(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	return response.Entries(), nil
}

// TranscribeVerbose uploads the audio file and returns the decoded
// verbose_json response with word and segment timestamps.
func (c *Client) TranscribeVerbose(ctx context.Context, audioPath string) (*VerboseResponse, error) {
	body, contentType, err := c.buildForm(audioPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, body)
	if err != nil {
		return nil, core.NewEngineFailure(errTranscriptionFailed, "", fmt.Errorf(errFailedToCreateRequest, err))
	}

	if c.config.APIKey != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.config.APIKey)
	}

	req.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn(errFailedToCloseRespBody, closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(resp.Body)

		return nil, core.NewEngineFailure(errTranscriptionFailed, string(responseBody),
			fmt.Errorf(errFmtAPIRequestFailed, resp.StatusCode))
	}

	var response VerboseResponse

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return nil, core.NewEngineFailure(errFailedToDecodeResponse, "", err)
	}

	return &response, nil
}

func (c *Client) buildForm(audioPath string) (*bytes.Buffer, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", core.NewResourceError(errFailedToOpenFile, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			c.log.Warn(errFailedToCloseFile, audioPath, closeErr)
		}
	}()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filepath.Base(audioPath))
	if err != nil {
		return nil, "", core.NewResourceError(errFailedToBuildForm, fmt.Errorf(errFailedToCreateFormFile, err))
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", core.NewResourceError(errFailedToBuildForm, fmt.Errorf(errFailedToCopyFileData, err))
	}

	fields := [][2]string{
		{formFieldModel, c.config.Model},
		{formFieldResponseFormat, responseFormatVerboseJSON},
		{formFieldTimestampGranularities, granularityWord},
		{formFieldTimestampGranularities, granularitySegment},
	}

	if c.config.Language != "" {
		fields = append(fields, [2]string{formFieldLanguage, c.config.Language})
	}

	for _, field := range fields {
		err = writer.WriteField(field[0], field[1])
		if err != nil {
			return nil, "", core.NewResourceError(errFailedToBuildForm, fmt.Errorf(errFailedToWriteFormField, field[0], err))
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, "", core.NewResourceError(errFailedToBuildForm, fmt.Errorf(errFailedToCloseFormWriter, err))
	}

	return &buf, writer.FormDataContentType(), nil
}

func classifyTransportError(err error) error {
	var timeoutErr interface{ Timeout() bool }

	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeoutErr) && timeoutErr.Timeout()) {
		return core.NewTimeoutError(errTranscriptionTimedOut, err)
	}

	return core.NewEngineFailure(errTranscriptionFailed, "", err)
}
