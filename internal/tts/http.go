package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/media-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Default values.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
)

// Error messages.
const (
	errUnexpectedContentType   = "unexpected content type: expected audio/wav, got %s"
	errReceivedEmptyAudio      = "received empty audio data"
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s"
	errFailedToWriteAudio      = "failed to write synthesized audio"
)

// WAVFormat is what the TTS HTTP service returns.
var WAVFormat = core.AudioFormat{Extension: ".wav", MimeType: contentTypeWAV}

// ErrUnexpectedContentType is returned when the service answers with
// something other than WAV audio.
var ErrUnexpectedContentType = errors.New("unexpected content type")

// HTTPSynthesizer implements core.Synthesizer against the standalone TTS HTTP
// service.
type HTTPSynthesizer struct {
	httpClient *http.Client
	baseURL    string
	language   string
}

// SpeechRequest is the JSON payload for speech generation.
type SpeechRequest struct {
	Text string `json:"text"`
	// SpeakerRefPath selects a server-side speaker reference for voice cloning.
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
}

// ServiceErrorResponse is the structured error body of the TTS service.
type ServiceErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPSynthesizer creates an HTTPSynthesizer. The baseURL includes the
// scheme and port (e.g. "http://localhost:8000"); timeout bounds each request.
func NewHTTPSynthesizer(baseURL string, timeout time.Duration) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// OutputFormat returns WAVFormat.
func (s *HTTPSynthesizer) OutputFormat() core.AudioFormat {
	return WAVFormat
}

// Synthesize requests speech for req.Text and writes the WAV body to
// req.OutputPath. The voice name, when set, is passed as the speaker reference.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return core.NewValidationError(errTextRequired)
	}

	audioData, err := s.GenerateSpeech(ctx, SpeechRequest{
		Text:           req.Text,
		SpeakerRefPath: req.Voice.Voice,
		Language:       s.language,
	})
	if err != nil {
		return err
	}

	err = os.WriteFile(req.OutputPath, audioData, 0o600)
	if err != nil {
		return core.NewResourceError(errFailedToWriteAudio, err)
	}

	return nil
}

// GenerateSpeech sends a generation request and returns the raw WAV audio.
func (s *HTTPSynthesizer) GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, core.NewValidationError(errTextRequired)
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(fmt.Errorf(
			"failed to send request to TTS service at %s: %w", s.baseURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, core.NewEngineFailure(errSynthesisFailed, "",
			fmt.Errorf("%w: "+errUnexpectedContentType, ErrUnexpectedContentType, contentType))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(fmt.Errorf("failed to read audio data: %w", err))
	}

	if len(audioData) == 0 {
		return nil, core.NewEngineFailure(errReceivedEmptyAudio, "", nil)
	}

	return audioData, nil
}

// HealthCheck verifies that the TTS service is up.
func (s *HTTPSynthesizer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured error from the service, falling
// back to the raw body so the diagnostic text is never lost.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ServiceErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return core.NewEngineFailure(errSynthesisFailed, errorResp.Detail,
			fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode))
	}

	return core.NewEngineFailure(errSynthesisFailed, string(body),
		fmt.Errorf(errFmtServiceNonOKStatus, resp.Status))
}

// classifyTransportError reports deadline expiry as a timeout and everything
// else as an engine failure.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
		return core.NewTimeoutError("TTS service did not answer in time", err)
	}

	return core.NewEngineFailure(errSynthesisFailed, "", err)
}

func isClientTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }

	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
