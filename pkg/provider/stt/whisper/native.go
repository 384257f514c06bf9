// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider by running whisper.cpp in-process.
// Constructing it loads the model into memory and Close releases it, which is
// what lets the resident-model manager treat it as a swappable slot.
type NativeProvider struct {
	model    whisperlib.Model
	path     string
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the ggml model file at modelPath. The caller must call
// Close to release the model.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}

	start := time.Now()
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	slog.Info("whisper model loaded", "path", modelPath, "elapsed", time.Since(start))

	p := &NativeProvider{
		model:    model,
		path:     modelPath,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	slog.Info("whisper model released", "path", p.path)
	return err
}

// Transcribe implements stt.Provider. The clip must be a 16 kHz, 16-bit PCM
// WAV file; multi-channel audio is down-mixed.
func (p *NativeProvider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	if p.model == nil {
		return nil, errors.New("whisper: model is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	wav, err := decodeWAV(audio.Data)
	if err != nil {
		return nil, err
	}
	if wav.sampleRate != sampleRate {
		return nil, fmt.Errorf("whisper: %w: sample rate %d Hz, want %d Hz", stt.ErrAudioDecode, wav.sampleRate, sampleRate)
	}

	lang := audio.Language
	if lang == "" {
		lang = p.language
	}

	start := time.Now()
	text, err := p.infer(toMonoFloat32(wav.data, wav.channels), lang)
	if err != nil {
		return nil, err
	}
	return &stt.Transcript{Text: text, Language: lang, Duration: time.Since(start)}, nil
}

// infer runs whisper.cpp on samples using a fresh context and returns the
// concatenated segment text. Contexts are not shared between calls.
func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
