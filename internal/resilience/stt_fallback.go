package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several
// transcription backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe sends audio to the first healthy backend. Audio the primary
// cannot decode is not retried elsewhere and does not count against the
// primary's breaker.
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	var decodeErr error
	tr, err := ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Transcript, error) {
		tr, err := p.Transcribe(ctx, audio)
		if errors.Is(err, stt.ErrAudioDecode) {
			decodeErr = err
			return nil, nil
		}
		return tr, err
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return tr, err
}
