package transcode_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/command"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/process"
	"github.com/book-expert/media-service/internal/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranscoder(t *testing.T, binary string, policy command.Policy, timeout time.Duration) *transcode.Transcoder {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "transcode-test.log")
	require.NoError(t, err)

	runner := process.NewRunner(200*time.Millisecond, testLogger)

	return transcode.NewTranscoder(transcode.Config{Binary: binary, Policy: policy, Timeout: timeout}, runner, testLogger)
}

func stageInput(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestTranscode_StrictPolicyRunsWithoutShell(t *testing.T) {
	t.Parallel()

	transcoder := newTranscoder(t, "cp", command.PolicyStrict, 5*time.Second)
	input := stageInput(t, "my clip.mp4", "frames")
	output := filepath.Join(t.TempDir(), "out.mp4")

	result, err := transcoder.Transcode(context.Background(), "INPUT OUTPUT", input, output)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))
}

func TestTranscode_StrictPolicyRejectsMetacharacters(t *testing.T) {
	t.Parallel()

	transcoder := newTranscoder(t, "cp", command.PolicyStrict, 5*time.Second)
	input := stageInput(t, "clip.mp4", "frames")

	_, err := transcoder.Transcode(context.Background(), "INPUT OUTPUT; rm -rf /", input, filepath.Join(t.TempDir(), "out.mp4"))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestTranscode_ShellPolicyAllowsRedirection(t *testing.T) {
	t.Parallel()

	transcoder := newTranscoder(t, "cat", command.PolicyShell, 5*time.Second)
	input := stageInput(t, "it's.mp4", "frames")
	output := filepath.Join(t.TempDir(), "out.mp4")

	result, err := transcoder.Transcode(context.Background(), "INPUT > OUTPUT", input, output)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))
}

func TestTranscode_NonZeroExitIsReportedInResult(t *testing.T) {
	t.Parallel()

	transcoder := newTranscoder(t, "sh", command.PolicyShell, 5*time.Second)
	input := stageInput(t, "clip.mp4", "frames")

	result, err := transcoder.Transcode(context.Background(), "-c 'echo Invalid argument >&2; exit 1'",
		input, filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)

	assert.False(t, result.Succeeded())
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "Invalid argument\n", string(result.Stderr))
}

func TestTranscode_TimeoutTerminatesEngine(t *testing.T) {
	t.Parallel()

	transcoder := newTranscoder(t, "sleep", command.PolicyStrict, 100*time.Millisecond)
	input := stageInput(t, "clip.mp4", "frames")

	start := time.Now()

	_, err := transcoder.Transcode(context.Background(), "10", input, filepath.Join(t.TempDir(), "out.mp4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTranscode_EmptyTemplateIsValidationError(t *testing.T) {
	t.Parallel()

	transcoder := newTranscoder(t, "", "", time.Second)
	assert.Equal(t, command.PolicyStrict, transcoder.Policy())

	_, err := transcoder.Transcode(context.Background(), "   ", "/in.mp4", "/out.mp4")
	assert.ErrorIs(t, err, core.ErrValidation)
}
