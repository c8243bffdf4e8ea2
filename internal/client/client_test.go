package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/media-service/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestHealth(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		status  int
		body    string
		wantErr bool
	}{
		"ok":          {status: http.StatusOK, body: `{"status":"ok"}`},
		"degraded":    {status: http.StatusOK, body: `{"status":"degraded"}`, wantErr: true},
		"server down": {status: http.StatusServiceUnavailable, body: `{"error":"draining"}`, wantErr: true},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(testCase.status)
				_, _ = io.WriteString(w, testCase.body)
			}))
			defer server.Close()

			err := client.New(server.URL+"/", time.Second).Health(context.Background())
			if testCase.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestSynthesize_StreamsAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body client.SynthesizeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello", body.Text)
		assert.Equal(t, "en-GB-SoniaNeural", body.Voice)

		w.Header().Set("X-Job-Id", "job-42")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Disposition", `attachment; filename="tts_output.mp3"`)
		_, _ = io.WriteString(w, "ID3-audio")
	}))
	defer server.Close()

	var out bytes.Buffer

	download, err := client.New(server.URL, time.Second).Synthesize(context.Background(),
		client.SynthesizeRequest{Text: "Hello", Voice: "en-GB-SoniaNeural"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "ID3-audio", out.String())
	assert.Equal(t, &client.Download{
		JobID:    "job-42",
		Filename: "tts_output.mp3",
		MimeType: "audio/mpeg",
		Size:     int64(len("ID3-audio")),
	}, download)
}

func TestTranscribe_UploadsAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)

		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()

		content, _ := io.ReadAll(file)
		assert.Equal(t, "memo.wav", header.Filename)
		assert.Equal(t, "RIFF-data", string(content))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "1\n00:00:00,000 --> 00:00:00,500\nhi\n")
	}))
	defer server.Close()

	subtitle, err := client.New(server.URL, time.Second).Transcribe(context.Background(),
		writeFile(t, "memo.wav", "RIFF-data"))
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:00,500\nhi\n", subtitle)
}

func TestTranscode_SendsCommandAndReportsEngineFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcode", r.URL.Path)
		assert.Equal(t, "-i INPUT -vf scale=640:-2 OUTPUT", r.FormValue("command"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"transcoding failed","details":"Invalid data found\n"}`)
	}))
	defer server.Close()

	var out bytes.Buffer

	_, err := client.New(server.URL, time.Second).Transcode(context.Background(),
		writeFile(t, "clip.mp4", "frames"), "-i INPUT -vf scale=640:-2 OUTPUT", &out)
	require.Error(t, err)

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "transcoding failed", apiErr.Message)
	assert.Equal(t, "Invalid data found\n", apiErr.Details)
	assert.Contains(t, err.Error(), "transcoding failed: Invalid data found")
	assert.Zero(t, out.Len())
}

func TestTranscode_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := client.New("http://127.0.0.1:1", time.Second).Transcode(context.Background(),
		filepath.Join(t.TempDir(), "absent.mp4"), "INPUT OUTPUT", io.Discard)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestAPIError_PlainBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := client.New(server.URL, time.Second).Transcribe(context.Background(), writeFile(t, "a.wav", "x"))

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}
