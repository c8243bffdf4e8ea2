package core

import "time"

// Segment is one timestamped entry produced by a transcription engine. It may
// hold a single word or a whole phrase.
type Segment struct {
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
	Text         string  `json:"text"`
}

// VoiceParams holds the per-request voice customisation for synthesis.
// Empty fields fall back to the engine defaults.
type VoiceParams struct {
	Voice string `json:"voice,omitempty"`
	Rate  string `json:"rate,omitempty"`
	Pitch string `json:"pitch,omitempty"`
}

// SynthesisRequest is one synthesis call. TextPath is the staged copy of Text
// inside the job workspace; engines that read text from a file use it.
type SynthesisRequest struct {
	Text       string
	TextPath   string
	Voice      VoiceParams
	OutputPath string
}

// AudioFormat describes the encoding a Synthesizer produces.
type AudioFormat struct {
	Extension string
	MimeType  string
}

// ProcessResult is the captured outcome of an external process.
type ProcessResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Succeeded reports whether the process exited with status zero.
func (r *ProcessResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}
