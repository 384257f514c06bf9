// Package llm defines the Provider interface for instruct-model backends.
//
// A provider wraps a remote or local model API (an OpenAI-compatible server,
// Anthropic, a llama.cpp server, ...) and exposes the single capability the
// game needs: given an ordered list of role-tagged messages and generation
// options, produce the next message.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/cluekeeper/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, replayed verbatim.
	Messages []types.Message

	// MaxTokens caps the number of generated tokens. Zero means provider default.
	MaxTokens int

	// Temperature controls randomness. Ignored when Sample is false.
	Temperature float64

	// TopP is the nucleus-sampling threshold. Zero means provider default.
	// Ignored when Sample is false.
	TopP float64

	// Sample selects sampling mode. When false the request asks for greedy
	// (deterministic) decoding and backends send temperature 0.
	Sample bool
}

// EffectiveTemperature returns the temperature a backend should send: the
// configured temperature in sampling mode and 0 in deterministic mode.
func (r CompletionRequest) EffectiveTemperature() float64 {
	if !r.Sample {
		return 0
	}
	return r.Temperature
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any instruct-model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
