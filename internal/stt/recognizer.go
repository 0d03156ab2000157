package stt

import (
	"context"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts speech-to-text backends. language is the frame's
// stamped input selection; "auto" lets the backend pick a model.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, language string, final bool) (TranscriptResult, error)
}
