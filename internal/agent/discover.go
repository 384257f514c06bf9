package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/cluekeeper/internal/archive"
	"github.com/MrWong99/cluekeeper/internal/conversation"
	"github.com/MrWong99/cluekeeper/internal/discovery"
	"github.com/MrWong99/cluekeeper/internal/observe"
	"github.com/MrWong99/cluekeeper/internal/prompt"
	"github.com/MrWong99/cluekeeper/internal/scenario"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	"github.com/MrWong99/cluekeeper/pkg/types"
)

// Result is the outcome of one discover turn.
type Result struct {
	// Response is the explanation shown to the player, or [Apology].
	Response string `json:"response"`

	// Discoveries are the catalog names found in this turn's primary output,
	// whether or not they were known before.
	Discoveries []string `json:"discoveries"`

	// Newly is the subset of Discoveries that was not discovered before.
	Newly []string `json:"newly_discovered"`

	Status        discovery.Status `json:"status"`
	AllDiscovered bool             `json:"all_discovered"`
}

// DiscoverAgent plays one scenario session. Turns are serialised: a second
// Ask waits for the first to finish.
type DiscoverAgent struct {
	id      string
	def     scenario.Definition
	opts    options
	gen     generator
	store   *conversation.Store
	tracker *discovery.Tracker

	mu sync.Mutex
}

// NewDiscoverAgent starts a session id over def, generating with p. The
// conversation for id is seeded with the scenario system prompt.
func NewDiscoverAgent(id string, def scenario.Definition, p llm.Provider, opts ...Option) (*DiscoverAgent, error) {
	if err := validateSession(id, def, p); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	def.Scenario = def.Scenario.Clone()
	a := &DiscoverAgent{
		id:      id,
		def:     def,
		opts:    o,
		gen:     newGenerator(p, o),
		store:   o.store,
		tracker: discovery.NewTracker(def.Scenario.Catalog()),
	}
	a.store.EnsureInitialized(id, func() string {
		return prompt.Scenario(prompt.ScenarioInput{
			Persona:  def.Persona.Title,
			Scenario: def.Scenario,
			Player:   o.player,
			Date:     o.date,
		})
	})
	return a, nil
}

func validateSession(id string, def scenario.Definition, p llm.Provider) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("agent: session id must not be empty")
	}
	if p == nil {
		return errors.New("agent: provider must not be nil")
	}
	var errs []error
	if strings.TrimSpace(def.Persona.Title) == "" {
		errs = append(errs, errors.New("agent: persona title is required"))
	}
	errs = append(errs, def.Scenario.Validate())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return nil
}

// ID returns the session id.
func (a *DiscoverAgent) ID() string { return a.id }

// Definition returns the scenario the session plays.
func (a *DiscoverAgent) Definition() scenario.Definition { return a.def }

// Catalog returns the names that can be discovered.
func (a *DiscoverAgent) Catalog() discovery.Catalog { return a.tracker.Catalog() }

// Status returns the per-kind discovery state.
func (a *DiscoverAgent) Status() discovery.Status { return a.tracker.Status() }

// AllDiscovered reports whether every metric, target and modifier has been
// disclosed.
func (a *DiscoverAgent) AllDiscovered() bool { return a.tracker.AllDiscovered() }

// Discovered returns the discovered names in discovery order.
func (a *DiscoverAgent) Discovered() []string { return a.tracker.Discovered() }

// Conversation returns a copy of the session's message log.
func (a *DiscoverAgent) Conversation() []types.Message { return a.store.Messages(a.id) }

// Ask runs one discover turn for question.
//
// The primary turn answers over the conversation window and is scanned for
// disclosed variables. The explain turn then rephrases that answer for the
// player and becomes the assistant turn of the conversation. A failed
// primary turn answers with [Apology] and skips everything after it; a
// failed explain turn keeps the discoveries but answers with [Apology].
func (a *DiscoverAgent) Ask(ctx context.Context, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "agent.discover")
	defer span.End()
	log := observe.Logger(ctx).With("flow", archive.FlowDiscover, "session_id", a.id)

	if err := a.store.Append(a.id, types.RoleUser, question); err != nil {
		return nil, fmt.Errorf("agent: discover: %w", err)
	}
	window, err := a.store.Window(a.id)
	if err != nil {
		return nil, fmt.Errorf("agent: discover: %w", err)
	}

	primary, err := a.gen.generate(ctx, turnPrimary, primaryRequest(window))
	if err != nil {
		if mustPropagate(ctx, err) {
			return nil, fmt.Errorf("agent: discover: %w", err)
		}
		// No explain turn and no assistant message: the question stays in the
		// log, so repeated failures leave consecutive user messages that the
		// next successful window carries verbatim.
		log.Warn("primary generation failed, answering with apology", "err", err)
		a.opts.metrics.RecordApology(ctx, string(archive.FlowDiscover))
		return a.result(Apology, []string{}, []string{}), nil
	}

	found, err := a.opts.detector.Detect(primary, a.tracker.Catalog())
	if err != nil {
		return nil, fmt.Errorf("agent: discover: %w", err)
	}

	// The explain prompt lists what was known before this turn.
	discussed := a.discussed()
	newly := a.tracker.Record(found)
	a.recordDiscoveries(ctx, newly)
	if len(newly) > 0 {
		log.Info("variables discovered", "names", newly, "all_discovered", a.tracker.AllDiscovered())
	}

	response, err := a.gen.generate(ctx, turnExplain, explainRequest(prompt.Explain(prompt.ExplainInput{
		Persona:          a.def.Persona.Title,
		AgentDescription: a.def.Persona.Description,
		Setting:          a.def.Persona.Setting,
		DataPoints:       primary,
		MetricsGuide:     a.def.MetricsGuide,
		TargetsGuide:     a.def.TargetsGuide,
		Discussed:        discussed,
	})))
	if err != nil {
		if mustPropagate(ctx, err) {
			return nil, fmt.Errorf("agent: discover: %w", err)
		}
		log.Warn("explain generation failed, answering with apology", "err", err)
		a.opts.metrics.RecordApology(ctx, string(archive.FlowDiscover))
		response = Apology
	} else if err := a.store.Append(a.id, types.RoleAssistant, response); err != nil {
		return nil, fmt.Errorf("agent: discover: %w", err)
	}

	a.opts.record(ctx, archive.Exchange{
		Flow:        archive.FlowDiscover,
		Key:         a.id,
		Question:    question,
		Response:    response,
		Discoveries: found,
	})
	return a.result(response, found, newly), nil
}

func (a *DiscoverAgent) result(response string, found, newly []string) *Result {
	if found == nil {
		found = []string{}
	}
	if newly == nil {
		newly = []string{}
	}
	return &Result{
		Response:      response,
		Discoveries:   found,
		Newly:         newly,
		Status:        a.tracker.Status(),
		AllDiscovered: a.tracker.AllDiscovered(),
	}
}

func (a *DiscoverAgent) discussed() prompt.Discussed {
	return prompt.Discussed{
		Metrics:   a.tracker.DiscoveredOf(discovery.KindMetric),
		Targets:   a.tracker.DiscoveredOf(discovery.KindTarget),
		Modifiers: a.tracker.DiscoveredOf(discovery.KindModifier),
	}
}

func (a *DiscoverAgent) recordDiscoveries(ctx context.Context, newly []string) {
	counts := make(map[discovery.Kind]int)
	for _, name := range newly {
		if k, ok := a.tracker.Catalog().Kind(name); ok {
			counts[k]++
		}
	}
	for k, n := range counts {
		a.opts.metrics.RecordDiscoveries(ctx, k.String(), n)
	}
}
