// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "what is the defect rate"}
//	tr, _ := p.Transcribe(ctx, stt.Audio{Data: wav})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx   context.Context
	Audio stt.Audio
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript text.
	Text string

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// Closed is set once Close has been called.
	Closed bool

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Text or Err.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: audio})
	if p.Err != nil {
		return nil, p.Err
	}
	return &stt.Transcript{Text: p.Text, Language: audio.Language}, nil
}

// Close marks the provider closed. It lets tests observe unloads performed by
// the resident-model manager.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (p *Provider) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}
