// Package client is a Go client for the media-service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// API paths.
const (
	pathHealth     = "/health"
	pathTranscribe = "/transcribe"
	pathSynthesize = "/synthesize"
	pathTranscode  = "/transcode"
)

// HTTP headers and form fields.
const (
	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	headerJobID              = "X-Job-Id"
	contentTypeJSON          = "application/json"
	fieldAudio               = "audio"
	fieldVideo               = "video"
	fieldCommand             = "command"
)

// DefaultTimeout bounds each request. Transcodes can run for minutes.
const DefaultTimeout = 15 * time.Minute

// ErrUnhealthy is returned when the health endpoint does not answer ok.
var ErrUnhealthy = errors.New("service is not healthy")

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("service returned %d: %s: %s", e.StatusCode, e.Message, strings.TrimSpace(e.Details))
	}

	return fmt.Sprintf("service returned %d: %s", e.StatusCode, e.Message)
}

// SynthesizeRequest is the body of a synthesize call.
type SynthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Rate  string `json:"rate,omitempty"`
	Pitch string `json:"pitch,omitempty"`
}

// Download describes a file streamed back by the service.
type Download struct {
	JobID    string
	Filename string
	MimeType string
	Size     int64
}

// Client calls a running media-service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a Client for baseURL (e.g. "http://localhost:5000").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Health checks that the service reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathHealth, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	var body struct {
		Status string `json:"status"`
	}

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if body.Status != "ok" {
		return fmt.Errorf("%w: status %q", ErrUnhealthy, body.Status)
	}

	return nil
}

// Synthesize speaks req.Text and streams the audio to dst.
func (c *Client) Synthesize(ctx context.Context, req SynthesizeRequest, dst io.Writer) (*Download, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathSynthesize, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesize request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	return c.download(httpReq, dst)
}

// Transcribe uploads the audio file at audioPath and returns the subtitle
// text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	httpReq, err := c.uploadRequest(ctx, pathTranscribe, fieldAudio, audioPath, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}

	subtitle, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read subtitle: %w", err)
	}

	return string(subtitle), nil
}

// Transcode uploads the video at videoPath with a command template and
// streams the processed file to dst.
func (c *Client) Transcode(ctx context.Context, videoPath, command string, dst io.Writer) (*Download, error) {
	httpReq, err := c.uploadRequest(ctx, pathTranscode, fieldVideo, videoPath, map[string]string{fieldCommand: command})
	if err != nil {
		return nil, err
	}

	return c.download(httpReq, dst)
}

func (c *Client) download(httpReq *http.Request, dst io.Writer) (*Download, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to save response body: %w", err)
	}

	return &Download{
		JobID:    resp.Header.Get(headerJobID),
		Filename: attachmentName(resp.Header.Get(headerContentDisposition)),
		MimeType: resp.Header.Get(headerContentType),
		Size:     written,
	}, nil
}

// uploadRequest streams the file at path as a multipart form without
// buffering it in memory.
func (c *Client) uploadRequest(
	ctx context.Context,
	path, fileField, filePath string,
	fields map[string]string,
) (*http.Request, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}

	bodyReader, bodyWriter := io.Pipe()
	form := multipart.NewWriter(bodyWriter)

	go func() {
		defer file.Close()

		bodyWriter.CloseWithError(writeForm(form, fileField, file, fields))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		_ = bodyReader.Close()

		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}

	req.Header.Set(headerContentType, form.FormDataContentType())

	return req, nil
}

func writeForm(form *multipart.Writer, fileField string, file *os.File, fields map[string]string) error {
	for name, value := range fields {
		err := form.WriteField(name, value)
		if err != nil {
			return fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	part, err := form.CreateFormFile(fileField, filepath.Base(file.Name()))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return fmt.Errorf("failed to stream %s: %w", file.Name(), err)
	}

	return form.Close()
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var payload struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}

	err := json.Unmarshal(body, &payload)
	if err != nil || payload.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: payload.Error, Details: payload.Details}
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}

	return params["filename"]
}
