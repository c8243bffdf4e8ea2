// Package worker feeds synthesis jobs from NATS into the orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/core"
	"github.com/book-expert/media-service/internal/job"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultHandleTimeout bounds one message from download to reply.
const DefaultHandleTimeout = 5 * time.Minute

var (
	// ErrTextKeyEmpty indicates an event without a text object key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrTextEmpty indicates the downloaded text object holds no speakable text.
	ErrTextEmpty = errors.New("downloaded text is empty")
)

// Jobs is the part of the orchestrator the worker drives.
type Jobs interface {
	Synthesize(ctx context.Context, req job.SynthesizeRequest) (*job.ArtifactResult, error)
	ReleaseArtifact(path string) error
}

// AudioStore receives finished audio files.
type AudioStore interface {
	UploadFile(ctx context.Context, key, path, mimeType string) error
}

// NatsWorker listens for text events on a NATS subject and answers each with
// the key of the synthesized audio.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	textStore      core.ObjectStore
	audioStore     AudioStore
	jobs           Jobs
	handleTimeout  time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a worker. A non-positive handleTimeout uses
// DefaultHandleTimeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	textStore core.ObjectStore,
	audioStore AudioStore,
	jobs Jobs,
	handleTimeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if handleTimeout <= 0 {
		handleTimeout = DefaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		textStore:      textStore,
		audioStore:     audioStore,
		jobs:           jobs,
		handleTimeout:  handleTimeout,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the
// subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("NATS worker listening on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.handleTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event on %s: %v", msg.Subject, err)

		return
	}

	audioKey, err := w.synthesizePage(ctx, event)
	if err != nil {
		w.log.Error("Failed to synthesize page %d of workflow %s: %v",
			event.PageNumber, event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReply(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	w.log.Info("Workflow %s page %d/%d: audio stored as %s",
		event.Header.WorkflowID, event.PageNumber, event.TotalPages, audioKey)
}

// synthesizePage downloads the text, runs a synthesize job, uploads the
// artifact, and releases it locally.
func (w *NatsWorker) synthesizePage(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text := string(textData)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: key '%s'", ErrTextEmpty, event.TextKey)
	}

	result, err := w.jobs.Synthesize(ctx, job.SynthesizeRequest{
		Text:  text,
		Voice: core.VoiceParams{Voice: event.Voice},
	})
	if err != nil {
		return "", fmt.Errorf("synthesis job failed: %w", err)
	}

	defer func() {
		releaseErr := w.jobs.ReleaseArtifact(result.Artifact.Path)
		if releaseErr != nil {
			w.log.Warn("Failed to release artifact %s: %v", result.Artifact.Path, releaseErr)
		}
	}()

	audioKey := uuid.NewString() + filepath.Ext(result.Artifact.Path)

	err = w.audioStore.UploadFile(ctx, audioKey, result.Artifact.Path, result.Artifact.MimeType)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func publishReply(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if strings.TrimSpace(event.TextKey) == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
