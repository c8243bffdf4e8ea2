package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/artifact"
	"github.com/book-expert/media-service/internal/command"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/httpapi"
	"github.com/book-expert/media-service/internal/job"
	"github.com/book-expert/media-service/internal/process"
	"github.com/book-expert/media-service/internal/transcode"
	"github.com/book-expert/media-service/internal/workspace"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubTranscriber struct {
	segments []core.Segment
}

func (s stubTranscriber) Transcribe(context.Context, string) ([]core.Segment, error) {
	return s.segments, nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) Synthesize(_ context.Context, req core.SynthesisRequest) error {
	return os.WriteFile(req.OutputPath, []byte("ID3|"+req.Voice.Voice+"|"+req.Text), 0o600)
}

func (stubSynthesizer) OutputFormat() core.AudioFormat {
	return core.AudioFormat{Extension: ".mp3", MimeType: "audio/mpeg"}
}

type failingTranscoder struct {
	stderr string
}

func (f failingTranscoder) Transcode(context.Context, string, string, string) (*core.ProcessResult, error) {
	return &core.ProcessResult{ExitCode: 1, Stderr: []byte(f.stderr)}, nil
}

type apiFixture struct {
	router *gin.Engine
	store  *artifact.Store
	root   string
	log    *logger.Logger
}

type fixtureOptions struct {
	transcoder           core.Transcoder
	releaseAfterResponse bool
	sweepAfterRequest    bool
	maxUploadBytes       int64
}

func newAPI(t *testing.T, opts fixtureOptions) apiFixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "httpapi-test.log")
	require.NoError(t, err)

	root := filepath.Join(t.TempDir(), "jobs")

	manager, err := workspace.NewManager(root, testLogger)
	require.NoError(t, err)

	store, err := artifact.NewStore(root, time.Minute, testLogger)
	require.NoError(t, err)

	transcoder := opts.transcoder
	if transcoder == nil {
		transcoder = transcode.NewTranscoder(transcode.Config{
			Binary:  "cp",
			Policy:  command.PolicyStrict,
			Timeout: 5 * time.Second,
		}, process.NewRunner(time.Second, testLogger), testLogger)
	}

	orchestrator := job.NewOrchestrator(job.Dependencies{
		Workspaces: manager,
		Artifacts:  store,
		Transcriber: stubTranscriber{segments: []core.Segment{
			{StartSeconds: 0, EndSeconds: 0.4, Text: "one"},
			{StartSeconds: 0.3, EndSeconds: 0.9, Text: "two"},
			{StartSeconds: 0.8, EndSeconds: 1.2, Text: "three"},
		}},
		Synthesizer: stubSynthesizer{},
		Transcoder:  transcoder,
	}, job.Config{AllowedExtensions: []string{".mp4", ".mov"}}, testLogger)

	routerOpts := httpapi.Options{MaxUploadBytes: opts.maxUploadBytes}
	if opts.sweepAfterRequest {
		routerOpts.Sweeper = store
	}

	handler := httpapi.NewHandler(orchestrator, opts.releaseAfterResponse, testLogger)

	return apiFixture{
		router: httpapi.NewRouter(handler, routerOpts, testLogger),
		store:  store,
		root:   root,
		log:    testLogger,
	}
}

func (f apiFixture) do(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	return recorder
}

func multipartRequest(t *testing.T, path, fileField, filename, content string, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, filename)
		require.NoError(t, err)

		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}

	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}

	require.NoError(t, writer.Close())

	request := httptest.NewRequest(http.MethodPost, path, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())

	return request
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) httpapi.ErrorResponse {
	t.Helper()

	var response httpapi.ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	return response
}

func TestHealth(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	recorder := api.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
}

func TestBanner(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	recorder := api.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "media-service is running")
}

func TestTranscribe_ReturnsSubtitleText(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	recorder := api.do(multipartRequest(t, "/transcribe", "audio", "memo.wav", "RIFF", nil))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.True(t, strings.HasPrefix(recorder.Header().Get("Content-Type"), "text/plain"))
	assert.NotEmpty(t, recorder.Header().Get("X-Job-Id"))

	expected := "1\n00:00:00,000 --> 00:00:00,400\none\n\n" +
		"2\n00:00:00,300 --> 00:00:00,900\ntwo\n\n" +
		"3\n00:00:00,800 --> 00:00:01,200\nthree\n"
	assert.Equal(t, expected, recorder.Body.String())
}

func TestTranscribe_MissingAudioIs400(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	recorder := api.do(multipartRequest(t, "/transcribe", "", "", "", map[string]string{"x": "y"}))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "no audio file provided", decodeError(t, recorder).Error)
}

func TestSynthesize_FormReturnsAudioAttachment(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	form := url.Values{"text": {"Hello there"}, "voice": {"en-GB-SoniaNeural"}}
	request := httptest.NewRequest(http.MethodPost, "/synthesize", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	recorder := api.do(request)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "audio/mpeg", recorder.Header().Get("Content-Type"))
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "tts_output.mp3")
	assert.Equal(t, "ID3|en-GB-SoniaNeural|Hello there", recorder.Body.String())
	assert.Equal(t, 1, api.store.Len())
}

func TestSynthesize_JSONOnLegacyRoute(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	request := httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"Hi"}`))
	request.Header.Set("Content-Type", "application/json")

	recorder := api.do(request)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "ID3||Hi", recorder.Body.String())
}

func TestSynthesize_EmptyTextIs400(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	request := httptest.NewRequest(http.MethodPost, "/synthesize", strings.NewReader(`{"text":"   "}`))
	request.Header.Set("Content-Type", "application/json")

	recorder := api.do(request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "text is required", decodeError(t, recorder).Error)
}

func TestSynthesize_ReleaseAfterResponse(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{releaseAfterResponse: true})

	request := httptest.NewRequest(http.MethodPost, "/synthesize", strings.NewReader(`{"text":"Hi"}`))
	request.Header.Set("Content-Type", "application/json")

	recorder := api.do(request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Zero(t, api.store.Len())

	entries, err := os.ReadDir(api.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscode_ReturnsProcessedFile(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	recorder := api.do(multipartRequest(t, "/transcode", "video", "clip.mov", "frames",
		map[string]string{"command": "INPUT OUTPUT"}))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "processed_clip.mp4")
	assert.Equal(t, "frames", recorder.Body.String())
}

func TestTranscode_EngineFailureIncludesDetails(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{transcoder: failingTranscoder{stderr: "Invalid data found when processing input\n"}})

	recorder := api.do(multipartRequest(t, "/ffmpeg", "video", "clip.mp4", "frames",
		map[string]string{"command": "-i INPUT OUTPUT"}))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)

	response := decodeError(t, recorder)
	assert.Equal(t, "transcoding failed", response.Error)
	assert.Equal(t, "Invalid data found when processing input\n", response.Details)

	entries, err := os.ReadDir(api.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscode_ValidationFailuresAre400(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})

	testCases := map[string]*http.Request{
		"missing video":   multipartRequest(t, "/transcode", "", "", "", map[string]string{"command": "INPUT OUTPUT"}),
		"missing command": multipartRequest(t, "/transcode", "video", "clip.mp4", "frames", nil),
		"bad extension":   multipartRequest(t, "/transcode", "video", "clip.exe", "frames", map[string]string{"command": "INPUT OUTPUT"}),
		"metacharacters": multipartRequest(t, "/transcode", "video", "clip.mp4", "frames",
			map[string]string{"command": "INPUT OUTPUT && reboot"}),
	}

	for name, request := range testCases {
		recorder := api.do(request)
		assert.Equal(t, http.StatusBadRequest, recorder.Code, name)
		assert.NotEmpty(t, decodeError(t, recorder).Error, name)
	}
}

func TestBodySizeLimit(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{maxUploadBytes: 256})

	recorder := api.do(multipartRequest(t, "/transcode", "video", "clip.mp4", strings.Repeat("x", 4096),
		map[string]string{"command": "INPUT OUTPUT"}))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, decodeError(t, recorder).Error, "256")
}

func TestSweepAfterRequest(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{sweepAfterRequest: true})

	stale := filepath.Join(api.root, "stale.mp4")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	recorder := api.do(httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.NoFileExists(t, stale)
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	api := newAPI(t, fixtureOptions{})
	api.router.GET("/panic", func(*gin.Context) { panic("boom") })

	recorder := api.do(httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, "internal server error", decodeError(t, recorder).Error)
}
