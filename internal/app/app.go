// Package app wires all cluekeeper subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems and Shutdown tears everything down in order. The HTTP surface
// and the interactive CLI both consume an App.
//
// For testing, inject mock implementations via functional options
// (WithLLM, WithSTT, WithArchive). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/cluekeeper/internal/agent"
	"github.com/MrWong99/cluekeeper/internal/archive"
	"github.com/MrWong99/cluekeeper/internal/config"
	"github.com/MrWong99/cluekeeper/internal/conversation"
	"github.com/MrWong99/cluekeeper/internal/discovery"
	"github.com/MrWong99/cluekeeper/internal/health"
	"github.com/MrWong99/cluekeeper/internal/observe"
	"github.com/MrWong99/cluekeeper/internal/resident"
	"github.com/MrWong99/cluekeeper/internal/scenario"
	"github.com/MrWong99/cluekeeper/internal/transcript"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	llm       llm.Provider
	stt       stt.Provider
	manager   *resident.Manager
	archive   *archive.Guard
	hint      *agent.HintAgent
	sessions  *agent.Sessions
	corrector *transcript.Corrector
	health    *health.Handler

	// live is the most recently applied config. New sessions take their
	// default scenario from it.
	live atomic.Pointer[config.Config]

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLLM injects the instruct provider instead of building one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithSTT injects the speech provider instead of building one from config.
func WithSTT(p stt.Provider) Option {
	return func(a *App) { a.stt = p }
}

// WithArchive injects an archive store instead of opening one from config.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = archive.NewGuard(s) }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg resolves the
// provider names in cfg; it may be nil when both providers are injected.
//
// New performs all initialisation synchronously. In swap mode no model is
// loaded here: the resident manager loads on first use.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	a.live.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Agents ────────────────────────────────────────────────────────
	if err := a.initAgents(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init agents: %w", err)
	}

	// ── 4. Transcript correction ─────────────────────────────────────────
	a.initCorrector()

	// ── 5. Health ────────────────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProviders builds the instruct and speech providers for the configured
// resident mode unless both were injected.
func (a *App) initProviders() error {
	if a.llm != nil && a.stt != nil {
		return nil
	}
	if a.reg == nil {
		return errors.New("a provider registry is required when providers are not injected")
	}

	switch a.cfg.Resident.Mode {
	case config.ResidentDirect:
		l, s, closers, err := directProviders(a.cfg, a.reg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closers...)
		if a.llm == nil {
			a.llm = l
		}
		if a.stt == nil {
			a.stt = s
		}
	default:
		m := newResident(a.cfg, a.reg, resident.WithMetrics(a.metrics))
		a.manager = m
		a.closers = append(a.closers, m.Close)
		if a.llm == nil {
			a.llm = m
		}
		if a.stt == nil {
			a.stt = m
		}
	}

	if a.llm == nil {
		a.llm = unconfigured{}
	}
	if a.stt == nil {
		a.stt = unconfigured{}
	}
	return nil
}

// initArchive opens the configured archive backend unless one was injected.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	store, err := archive.Open(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	a.archive = archive.NewGuard(store)
	a.closers = append(a.closers, a.archive.Close)
	slog.Info("archive opened", "backend", a.cfg.Archive.Backend)
	return nil
}

// initAgents creates the hint agent and the discover session registry.
func (a *App) initAgents() error {
	hintStore, err := newStore(a.cfg.Hint.ConversationConfig)
	if err != nil {
		return fmt.Errorf("hint conversation: %w", err)
	}
	discoverStore, err := newStore(a.cfg.Discover.ConversationConfig)
	if err != nil {
		return fmt.Errorf("discover conversation: %w", err)
	}
	det := a.cfg.Discover.Detection
	detector, err := discovery.NewDetector(det.Strategy, det.Strict, det.WrapBare)
	if err != nil {
		return err
	}

	common := []agent.Option{
		agent.WithArchive(a.archive),
		agent.WithGenerationTimeout(a.cfg.Server.GenerationTimeout),
		agent.WithMetrics(a.metrics),
		agent.WithProviderName(a.providerName()),
	}

	a.hint = agent.NewHintAgent(a.llm, append(common, agent.WithStore(hintStore))...)
	actions, err := a.cfg.Catalog()
	if err != nil {
		return err
	}
	if len(actions) > 0 {
		a.hint.SetCatalog(actions)
		slog.Info("hint catalog loaded", "actions", len(actions))
	}

	a.sessions = agent.NewSessions(a.llm, append(common,
		agent.WithStore(discoverStore),
		agent.WithDetector(detector),
		agent.WithPlayer(a.cfg.Discover.Player, a.cfg.Discover.Date),
	)...)
	return nil
}

func newStore(c config.ConversationConfig) (*conversation.Store, error) {
	policy, err := conversation.ParseReinitPolicy(c.ReinitPolicy)
	if err != nil {
		return nil, err
	}
	return conversation.New(conversation.WithWindow(c.Window), conversation.WithReinitPolicy(policy)), nil
}

func (a *App) initCorrector() {
	var opts []transcript.Option
	if v := a.cfg.Discover.Correction.PhoneticThreshold; v > 0 {
		opts = append(opts, transcript.WithPhoneticThreshold(v))
	}
	if v := a.cfg.Discover.Correction.FuzzyThreshold; v > 0 {
		opts = append(opts, transcript.WithFuzzyThreshold(v))
	}
	a.corrector = transcript.New(opts...)
}

func (a *App) initHealth() {
	// The archive is best effort: turns keep working while it is down.
	checkers := []health.Checker{{Name: "archive", Check: a.archive.Check, Optional: true}}
	if a.manager != nil {
		checkers = append(checkers, health.Checker{Name: "resident", Check: a.manager.Check})
	}
	a.health = health.New(checkers...)
}

// providerName labels generations in metrics.
func (a *App) providerName() string {
	if a.manager != nil {
		return "resident"
	}
	if name := a.cfg.Providers.LLM.Name; name != "" {
		return name
	}
	return "llm"
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Hint returns the hint agent.
func (a *App) Hint() *agent.HintAgent { return a.hint }

// Sessions returns the discover session registry.
func (a *App) Sessions() *agent.Sessions { return a.sessions }

// STT returns the speech provider.
func (a *App) STT() stt.Provider { return a.stt }

// Corrector returns the transcript corrector.
func (a *App) Corrector() *transcript.Corrector { return a.corrector }

// Health returns the health handler.
func (a *App) Health() *health.Handler { return a.health }

// Metrics returns the metrics instruments the App records to.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Archive returns the guarded archive store.
func (a *App) Archive() *archive.Guard { return a.archive }

// Resident returns the resident manager, or nil in direct mode.
func (a *App) Resident() *resident.Manager { return a.manager }

// DefaultScenario resolves the scenario of the latest applied config. It is
// used for sessions that are created without an explicit definition.
func (a *App) DefaultScenario() (scenario.Definition, error) {
	return a.live.Load().Scenario()
}

// ApplyConfig applies the hot-reloadable parts of a changed config: the
// scenario source for new sessions and the hint catalog. The log level is
// owned by the caller's handler.
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}

	if def, err := updated.Scenario(); err != nil {
		slog.Error("new scenario does not load, keeping the previous one", "err", err)
	} else {
		a.live.Store(updated)
		if d.ScenarioChanged {
			slog.Info("default scenario changed", "persona", def.Persona.Title)
		}
	}

	actions, err := updated.Catalog()
	if err != nil {
		slog.Error("failed to reload hint catalog, keeping the previous one", "err", err)
		return
	}
	if len(actions) == 0 {
		return
	}
	a.hint.SetCatalog(actions)
	slog.Info("hint catalog reloaded", "actions", len(actions))
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New acquired before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
