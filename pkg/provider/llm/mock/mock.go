// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the orchestrator sends and
// to feed controlled responses without a live model backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []string{`"defect_rate": 8`, "Our defect rate sits at 8%."},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Complete answers from Responses in order; once they run out it keeps
// returning the last one. Errs is consulted by call index first: a non-nil
// entry fails that call. Hook, when set, runs before the answer is chosen and
// may block to simulate a slow generation.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls.
	Responses []string

	// Errs injects an error for the call with the same index.
	Errs []error

	// Err, if non-nil, fails every call that Errs does not cover.
	Err error

	// Hook runs at the start of every Complete call, outside the lock.
	Hook func(ctx context.Context, req llm.CompletionRequest)

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	idx := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	hook := p.Hook
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < len(p.Errs) && p.Errs[idx] != nil {
		return nil, p.Errs[idx]
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	return &llm.CompletionResponse{Content: p.Responses[idx]}, nil
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
