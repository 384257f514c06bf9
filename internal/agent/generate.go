package agent

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/cluekeeper/internal/observe"
	"github.com/MrWong99/cluekeeper/internal/resident"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	"github.com/MrWong99/cluekeeper/pkg/types"
)

// ErrGenerationTimeout is returned by [Pending.Wait] when the configured
// generation timeout elapses first.
var ErrGenerationTimeout = errors.New("agent: generation timed out")

// Generation parameters of the two turn kinds.
const (
	primaryMaxTokens   = 256
	primaryTemperature = 0.7
	primaryTopP        = 0.9

	explainMaxTokens   = 512
	explainTemperature = 0.1
)

// Turn labels used in metrics and spans.
const (
	turnPrimary = "primary"
	turnExplain = "explain"
)

// primaryRequest is the sampled request used for hint answers and the
// primary discover turn.
func primaryRequest(msgs []types.Message) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   primaryMaxTokens,
		Temperature: primaryTemperature,
		TopP:        primaryTopP,
		Sample:      true,
	}
}

// explainRequest is the deterministic single-message request of the explain
// turn.
func explainRequest(prompt string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: prompt}},
		MaxTokens:   explainMaxTokens,
		Temperature: explainTemperature,
	}
}

// ── Pending ──────────────────────────────────────────────────────────────────

// Pending is a generation running in the background. Obtain one from
// startGeneration and collect the result with [Pending.Wait].
type Pending struct {
	done    chan struct{}
	cancel  context.CancelFunc
	timeout time.Duration

	resp *llm.CompletionResponse
	err  error
}

// startGeneration runs p.Complete(req) on its own goroutine. timeout <= 0
// means Wait blocks until the provider returns or the caller gives up.
func startGeneration(ctx context.Context, p llm.Provider, req llm.CompletionRequest, timeout time.Duration) *Pending {
	genCtx, cancel := context.WithCancel(ctx)
	pd := &Pending{
		done:    make(chan struct{}),
		cancel:  cancel,
		timeout: timeout,
	}
	go func() {
		defer close(pd.done)
		pd.resp, pd.err = p.Complete(genCtx, req)
	}()
	return pd
}

// Done is closed once the provider has returned.
func (pd *Pending) Done() <-chan struct{} { return pd.done }

// Wait blocks until the generation completes, ctx is cancelled or the
// timeout elapses. In the latter two cases the generation context is
// cancelled so a well-behaved provider stops working.
func (pd *Pending) Wait(ctx context.Context) (*llm.CompletionResponse, error) {
	var expired <-chan time.Time
	if pd.timeout > 0 {
		t := time.NewTimer(pd.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-pd.done:
		pd.cancel()
		return pd.resp, pd.err
	case <-ctx.Done():
		pd.cancel()
		return nil, ctx.Err()
	case <-expired:
		pd.cancel()
		return nil, ErrGenerationTimeout
	}
}

// ── generator ────────────────────────────────────────────────────────────────

// generator runs instrumented generations against one provider.
type generator struct {
	provider llm.Provider
	name     string
	timeout  time.Duration
	metrics  *observe.Metrics
}

func newGenerator(p llm.Provider, o options) generator {
	return generator{provider: p, name: o.providerName, timeout: o.timeout, metrics: o.metrics}
}

// generate runs one turn and returns the generated text.
func (g generator) generate(ctx context.Context, turn string, req llm.CompletionRequest) (string, error) {
	ctx, span := observe.StartSpan(ctx, "agent.generate")
	defer span.End()
	span.SetAttributes(attribute.String("turn", turn), attribute.Int("messages", len(req.Messages)))

	start := time.Now()
	resp, err := startGeneration(ctx, g.provider, req, g.timeout).Wait(ctx)
	g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("turn", turn)))

	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.name, "llm", "error")
		g.metrics.RecordProviderError(ctx, g.name, "llm")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	g.metrics.RecordProviderRequest(ctx, g.name, "llm", "ok")
	return resp.Content, nil
}

// mustPropagate reports whether a generation error must reach the caller
// instead of being answered with [Apology].
func mustPropagate(ctx context.Context, err error) bool {
	if errors.Is(err, resident.ErrModelLoadFailed) {
		return true
	}
	// The caller went away; there is nobody to apologise to.
	return ctx.Err() != nil
}
