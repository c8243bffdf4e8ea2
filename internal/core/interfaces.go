// Package core defines the engine interfaces, shared types, and error taxonomy
// for the media job pipeline.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Transcriber is a speech-recognition engine. It returns timestamped entries
// in playback order.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
}

// Synthesizer is a text-to-speech engine. Implementations write the audio for
// req.Text to req.OutputPath, encoded as described by OutputFormat.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) error
	OutputFormat() AudioFormat
}

// Transcoder runs a user-supplied command template against inputPath and
// produces outputPath. A non-zero engine exit is reported through the
// returned ProcessResult, not the error.
type Transcoder interface {
	Transcode(ctx context.Context, template, inputPath, outputPath string) (*ProcessResult, error)
}
