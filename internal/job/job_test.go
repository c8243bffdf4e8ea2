package job_test

import (
	"errors"
	"testing"

	"github.com/book-expert/media-service/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsPending(t *testing.T) {
	t.Parallel()

	created := job.New(job.KindSynthesize)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, job.StateCreated, created.State())
	assert.Equal(t, job.StatusPending, created.Status())
	assert.Nil(t, created.Workspace())
	assert.NotEqual(t, created.ID, job.New(job.KindSynthesize).ID)
}

func TestTransition_TranscribeHappyPath(t *testing.T) {
	t.Parallel()

	transcription := job.New(job.KindTranscribe)

	for _, next := range []job.State{job.StateStaging, job.StateInvoking, job.StateFormatting} {
		require.NoError(t, transcription.Transition(next))
		assert.Equal(t, job.StatusRunning, transcription.Status())
	}

	require.NoError(t, transcription.Transition(job.StateCompleted))
	assert.Equal(t, job.StatusSucceeded, transcription.Status())
}

func TestTransition_FormattingIsTranscribeOnly(t *testing.T) {
	t.Parallel()

	transcode := job.New(job.KindTranscode)
	require.NoError(t, transcode.Transition(job.StateStaging))
	require.NoError(t, transcode.Transition(job.StateInvoking))

	err := transcode.Transition(job.StateFormatting)
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	require.NoError(t, transcode.Transition(job.StateCompleted))
}

func TestTransition_RejectsSkippingAndLeavingTerminalStates(t *testing.T) {
	t.Parallel()

	synthesis := job.New(job.KindSynthesize)

	assert.ErrorIs(t, synthesis.Transition(job.StateInvoking), job.ErrInvalidTransition)
	assert.ErrorIs(t, synthesis.Transition(job.StateCompleted), job.ErrInvalidTransition)

	require.NoError(t, synthesis.Transition(job.StateFailed))
	assert.ErrorIs(t, synthesis.Transition(job.StateStaging), job.ErrInvalidTransition)
}

func TestFail_KeepsFirstOutcome(t *testing.T) {
	t.Parallel()

	first := errors.New("first")

	failed := job.New(job.KindTranscode)
	failed.Fail(first)
	failed.Fail(errors.New("second"))

	assert.Equal(t, job.StateFailed, failed.State())
	assert.Equal(t, job.StatusFailed, failed.Status())
	assert.Equal(t, first, failed.Err())

	completed := job.New(job.KindSynthesize)
	require.NoError(t, completed.Transition(job.StateStaging))
	require.NoError(t, completed.Transition(job.StateInvoking))
	require.NoError(t, completed.Transition(job.StateCompleted))

	completed.Fail(first)
	assert.Equal(t, job.StateCompleted, completed.State())
	assert.NoError(t, completed.Err())
}
