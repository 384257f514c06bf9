// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns one uploaded audio clip into text. The game only ever
// transcribes a complete recording (a spoken question), so the interface is
// batch-shaped: audio in, transcript out.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrAudioDecode is wrapped by providers when the supplied audio cannot be
// decoded into samples the model accepts.
var ErrAudioDecode = errors.New("stt: audio decode failed")

// Audio is a complete recording submitted for transcription.
type Audio struct {
	// Data holds the encoded file contents exactly as uploaded.
	Data []byte

	// Filename is the client-supplied file name. Some backends use the
	// extension as a format hint.
	Filename string

	// Language is a BCP-47 language hint (e.g. "en"). Empty lets the provider
	// use its configured default.
	Language string
}

// Transcript is the result of transcribing one Audio clip.
type Transcript struct {
	// Text is the recognised speech, trimmed.
	Text string

	// Language is the language the backend recognised in, when reported.
	Language string

	// Duration is the wall time the backend spent on the clip.
	Duration time.Duration
}

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts audio to text. Decode failures wrap [ErrAudioDecode];
	// all other failures are backend errors.
	Transcribe(ctx context.Context, audio Audio) (*Transcript, error)
}
