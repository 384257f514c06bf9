// Package agent orchestrates the two conversation flows served by cluekeeper.
//
// A [HintAgent] answers questions about a catalog of actions, one
// conversation per action name. A [DiscoverAgent] plays a hidden-variable
// scenario: every question runs a primary turn against the scenario prompt,
// scans it for disclosed variables and rephrases the result through a
// deterministic explain turn. [Sessions] keeps discover agents by session id.
//
// Every generation goes through a cancellable boundary (see [Pending]). When
// a generation fails the flows answer with [Apology] instead of an error;
// only a failed model load and, in strict mode, an unparseable disclosure
// reach the caller.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/cluekeeper/internal/archive"
	"github.com/MrWong99/cluekeeper/internal/conversation"
	"github.com/MrWong99/cluekeeper/internal/discovery"
	"github.com/MrWong99/cluekeeper/internal/observe"
)

// Apology is the response given when a generation fails.
const Apology = "I apologize, but I'm having difficulty processing that request. Could you rephrase your question?"

var (
	// ErrNoCatalog is returned by [HintAgent.Ask] before any catalog is set.
	ErrNoCatalog = errors.New("agent: no action catalog configured")

	// ErrEmptyQuestion is returned by [DiscoverAgent.Ask] for a blank question.
	ErrEmptyQuestion = errors.New("agent: question must not be empty")

	// ErrEmptyActionName is returned by [HintAgent.Ask] for a blank action.
	ErrEmptyActionName = errors.New("agent: action name must not be empty")

	// ErrSessionNotFound is returned by [Sessions] lookups for unknown ids.
	ErrSessionNotFound = errors.New("agent: session not found")

	// ErrInvalidScenario wraps every validation failure of a session definition.
	ErrInvalidScenario = errors.New("agent: invalid scenario")
)

type options struct {
	store        *conversation.Store
	archive      archive.Store
	timeout      time.Duration
	metrics      *observe.Metrics
	detector     discovery.Detector
	providerName string
	player       string
	date         string
}

// Option configures a [HintAgent], a [DiscoverAgent] or [Sessions].
type Option func(*options)

// WithStore sets the conversation store. By default every agent gets its own.
func WithStore(s *conversation.Store) Option {
	return func(o *options) { o.store = s }
}

// WithArchive records completed exchanges in s. Archive failures never fail
// a turn.
func WithArchive(s archive.Store) Option {
	return func(o *options) { o.archive = s }
}

// WithGenerationTimeout bounds every generation. Zero waits indefinitely.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDetector sets the disclosure detector of discover agents. Defaults to
// [discovery.Substring].
func WithDetector(d discovery.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithProviderName labels provider metrics. Defaults to "llm".
func WithProviderName(name string) Option {
	return func(o *options) { o.providerName = name }
}

// WithPlayer names the player and the in-game date in the scenario prompt.
// Both must be non-empty for the line to appear.
func WithPlayer(name, date string) Option {
	return func(o *options) {
		o.player = name
		o.date = date
	}
}

func buildOptions(opts []Option) options {
	o := options{
		detector:     discovery.Substring{},
		providerName: "llm",
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.store == nil {
		o.store = conversation.New()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.archive != nil {
		if _, ok := o.archive.(*archive.Guard); !ok {
			o.archive = archive.NewGuard(o.archive)
		}
	}
	return o
}

// record writes e to the archive, if any. The guard swallows storage errors.
func (o *options) record(ctx context.Context, e archive.Exchange) {
	if o.archive == nil {
		return
	}
	if err := o.archive.RecordExchange(context.WithoutCancel(ctx), e); err != nil {
		slog.Warn("agent: archive exchange", "flow", e.Flow, "key", e.Key, "err", err)
	}
}
