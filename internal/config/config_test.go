// Package config_test tests the configuration loading for the media-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/media-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
[server]
host = "127.0.0.1"
port = 8080
read_timeout_seconds = 600
write_timeout_seconds = 2400
max_upload_bytes = 1048576
release_after_response = true
sweep_after_request = true

[paths]
base_logs_dir = "/var/log/media-service"
temp_root = "/srv/media/tmp"

[retention]
window_seconds = 120
sweep_interval_seconds = 15
failure_ttl_seconds = 30

[transcoder]
binary = "/usr/bin/ffmpeg"
timeout_seconds = 1800
grace_period_seconds = 10
command_policy = "shell"
allowed_extensions = [".mp4", ".mkv"]
output_extension = ".webm"

[synthesizer]
backend = "http"
service_url = "http://127.0.0.1:8000"
timeout_seconds = 60

[transcriber]
url = "http://127.0.0.1:9000/v1/audio/transcriptions"
api_key_env = "WHISPER_KEY"
model = "large-v3"
language = "en"
timeout_seconds = 90
max_concurrent = 2

[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
text_object_store_bucket = "TEXT_FILES"
audio_object_store_bucket = "AUDIO_FILES"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestDecodeConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(fullConfig), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.ServerAddress())
	assert.True(t, cfg.Server.ReleaseAfterResponse)
	assert.True(t, cfg.Server.SweepAfterRequest)
	assert.Equal(t, int64(1048576), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "/srv/media/tmp", cfg.Paths.TempRoot)
	assert.Equal(t, 2*time.Minute, cfg.Retention.Window())
	assert.Equal(t, 15*time.Second, cfg.Retention.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.Retention.FailureTTL())
	assert.Equal(t, "shell", cfg.Transcoder.CommandPolicy)
	assert.Equal(t, []string{".mp4", ".mkv"}, cfg.Transcoder.AllowedExtensions)
	assert.Equal(t, 10*time.Second, cfg.Transcoder.GracePeriod())
	assert.Equal(t, "http", cfg.Synthesizer.Backend)
	assert.Equal(t, 2, cfg.Transcriber.MaxConcurrent)
	assert.True(t, cfg.NATS.Enabled())
}

func TestLoadFile_FullConfigValidates(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Transcoder.Timeout())
	assert.Equal(t, time.Minute, cfg.Synthesizer.Timeout())
	assert.Equal(t, 90*time.Second, cfg.Transcriber.Timeout())
	assert.Equal(t, config.DefaultVoice, cfg.Synthesizer.Voice)
}

func TestLoadFile_EmptyFileTakesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, 300*time.Second, cfg.Retention.Window())
	assert.Zero(t, cfg.Retention.FailureTTL())
	assert.Equal(t, "ffmpeg", cfg.Transcoder.Binary)
	assert.Equal(t, "strict", cfg.Transcoder.CommandPolicy)
	assert.Equal(t, ".mp4", cfg.Transcoder.OutputExtension)
	assert.Equal(t, config.BackendEdge, cfg.Synthesizer.Backend)
	assert.Equal(t, "+9%", cfg.Synthesizer.Rate)
	assert.Equal(t, "-5Hz", cfg.Synthesizer.Pitch)
	assert.Equal(t, "whisper-1", cfg.Transcriber.Model)
	assert.Equal(t, 1, cfg.Transcriber.MaxConcurrent)
	assert.False(t, cfg.NATS.Enabled())
	assert.Empty(t, cfg.NATS.TextProcessedSubject)
	assert.NotEmpty(t, cfg.Paths.TempRoot)
	assert.NotEmpty(t, cfg.Paths.BaseLogsDir)
}

func TestLoadFile_NATSDefaultsApplyOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile(writeConfig(t, "[nats]\nurl = \"nats://localhost:4222\"\n"))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultTextProcessedSubject, cfg.NATS.TextProcessedSubject)
	assert.Equal(t, config.DefaultTextBucket, cfg.NATS.TextObjectStoreBucket)
	assert.Equal(t, config.DefaultAudioBucket, cfg.NATS.AudioObjectStoreBucket)
}

func TestLoadFile_RejectsInvalidValues(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		body     string
		contains string
	}{
		"unknown policy": {
			body:     "[transcoder]\ncommand_policy = \"yolo\"\n",
			contains: "transcoder.command_policy",
		},
		"http backend without url": {
			body:     "[synthesizer]\nbackend = \"http\"\n",
			contains: "synthesizer.service_url",
		},
		"unknown backend": {
			body:     "[synthesizer]\nbackend = \"polly\"\n",
			contains: "synthesizer.backend",
		},
		"negative window": {
			body:     "[retention]\nwindow_seconds = -5\n",
			contains: "retention.window_seconds",
		},
		"bad transcriber url": {
			body:     "[transcriber]\nurl = \"not a url\"\n",
			contains: "transcriber.url",
		},
		"port out of range": {
			body:     "[server]\nport = 70000\n",
			contains: "server.port",
		},
		"negative read timeout": {
			body:     "[server]\nread_timeout_seconds = -1\n",
			contains: "server.read_timeout_seconds must be at least 1",
		},
		"negative write timeout": {
			body:     "[server]\nwrite_timeout_seconds = -1\n",
			contains: "server.write_timeout_seconds must be at least 1",
		},
		"write timeout shorter than transcode": {
			body:     "[server]\nwrite_timeout_seconds = 600\n[transcoder]\ntimeout_seconds = 600\n",
			contains: "server.write_timeout_seconds (600) must exceed transcoder.timeout_seconds (600)",
		},
		"write timeout shorter than synthesis": {
			body:     "[server]\nwrite_timeout_seconds = 60\n[transcoder]\ntimeout_seconds = 30\n",
			contains: "must exceed synthesizer.timeout_seconds",
		},
	}

	for name, testCase := range testCases {
		_, err := config.LoadFile(writeConfig(t, testCase.body))
		require.ErrorIs(t, err, config.ErrInvalidConfig, name)
		assert.Contains(t, err.Error(), testCase.contains, name)
	}
}

func TestLoadFile_ZeroServerTimeoutsTakeDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile(writeConfig(t, "[server]\nread_timeout_seconds = 0\nwrite_timeout_seconds = 0\n"))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultReadTimeoutSeconds*time.Second, cfg.Server.ReadTimeout())
	assert.Equal(t, config.DefaultWriteTimeoutSeconds*time.Second, cfg.Server.WriteTimeout())
}

func TestDefault_WriteTimeoutOutlastsEngines(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Greater(t, cfg.Server.WriteTimeout(), cfg.Transcoder.Timeout()+cfg.Server.ReadTimeout())
	assert.Greater(t, cfg.Server.WriteTimeout(), cfg.Synthesizer.Timeout())
	assert.Greater(t, cfg.Server.WriteTimeout(), cfg.Transcriber.Timeout())
	assert.GreaterOrEqual(t, cfg.Server.ReadTimeout(), 15*time.Minute,
		"a default-size upload needs more than a minute on a slow link")
}

func TestLoadFile_MissingOrMalformedFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)

	_, err = config.LoadFile(writeConfig(t, "[server\nport = 1"))
	require.Error(t, err)
}

func TestTranscriberAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("MEDIA_SERVICE_TEST_KEY", "sk-local")

	transcriber := config.TranscriberConfig{APIKeyEnv: "MEDIA_SERVICE_TEST_KEY"}
	assert.Equal(t, "sk-local", transcriber.APIKey())

	assert.Empty(t, config.TranscriberConfig{}.APIKey())
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultAllowedExtensions, cfg.Transcoder.AllowedExtensions)
}
