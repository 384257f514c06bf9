// Package resident manages which heavyweight model is loaded in process.
//
// Only one of the instruct model and the speech model fits in memory at a
// time. [Manager] owns that slot: it implements both [llm.Provider] and
// [stt.Provider], loading the required model on demand and unloading the
// other one first. Callers never see model handles.
//
// A single RWMutex guards the slot. Generations on the loaded model share the
// read side; a swap takes the write side and therefore waits for every
// in-flight generation to finish.
package resident

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MrWong99/cluekeeper/internal/observe"
	"github.com/MrWong99/cluekeeper/internal/resilience"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

// ErrModelLoadFailed matches every [*LoadError].
var ErrModelLoadFailed = errors.New("resident: model load failed")

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("resident: manager closed")

// State is the content of the resident slot.
type State int

const (
	StateEmpty State = iota
	StateInstructLoaded
	StateSpeechLoaded
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateInstructLoaded:
		return "instruct"
	case StateSpeechLoaded:
		return "speech"
	default:
		return "empty"
	}
}

// LoadError reports a failed load of the target state. Restored is the state
// the manager ended up in after attempting to reload the previous model.
type LoadError struct {
	Target   State
	Restored State
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("resident: load %s: %v", e.Target, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrModelLoadFailed].
func (e *LoadError) Is(target error) bool { return target == ErrModelLoadFailed }

// InstructLoader loads an instruct model and returns a provider for it. The
// returned provider may implement io.Closer to release the model.
type InstructLoader func(ctx context.Context) (llm.Provider, error)

// SpeechLoader loads a speech model. The returned provider may implement
// io.Closer.
type SpeechLoader func(ctx context.Context) (stt.Provider, error)

// Manager is the resident-model slot. Create one with [New].
type Manager struct {
	instruct *resilience.FallbackGroup[InstructLoader]
	speech   *resilience.FallbackGroup[SpeechLoader]
	metrics  *observe.Metrics
	reclaim  func()

	mu     sync.RWMutex
	state  State
	llm    llm.Provider
	stt    stt.Provider
	closed bool
}

var (
	_ llm.Provider = (*Manager)(nil)
	_ stt.Provider = (*Manager)(nil)
)

type config struct {
	instructNames []string
	instruct      []InstructLoader
	speechNames   []string
	speech        []SpeechLoader
	breaker       resilience.CircuitBreakerConfig
	metrics       *observe.Metrics
	reclaim       func()
}

// Option configures a Manager.
type Option func(*config)

// WithInstructLoader appends an instruct loader. Loaders are tried in the
// order they are added; the first success wins.
func WithInstructLoader(name string, l InstructLoader) Option {
	return func(c *config) {
		c.instructNames = append(c.instructNames, name)
		c.instruct = append(c.instruct, l)
	}
}

// WithSpeechLoader appends a speech loader.
func WithSpeechLoader(name string, l SpeechLoader) Option {
	return func(c *config) {
		c.speechNames = append(c.speechNames, name)
		c.speech = append(c.speech, l)
	}
}

// WithLoadBreaker configures the breaker placed in front of every loader.
func WithLoadBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *config) { c.breaker = cfg }
}

// WithMetrics records swaps and load latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithReclaim replaces the memory reclaim step run after every unload.
func WithReclaim(fn func()) Option {
	return func(c *config) { c.reclaim = fn }
}

// New creates an empty Manager. No model is loaded until first use.
func New(opts ...Option) *Manager {
	cfg := config{reclaim: debug.FreeOSMemory}
	for _, o := range opts {
		o(&cfg)
	}

	m := &Manager{metrics: cfg.metrics, reclaim: cfg.reclaim}
	fb := resilience.FallbackConfig{CircuitBreaker: cfg.breaker}
	for i, l := range cfg.instruct {
		if m.instruct == nil {
			m.instruct = resilience.NewFallbackGroup(l, cfg.instructNames[i], fb)
			continue
		}
		m.instruct.AddFallback(cfg.instructNames[i], l)
	}
	for i, l := range cfg.speech {
		if m.speech == nil {
			m.speech = resilience.NewFallbackGroup(l, cfg.speechNames[i], fb)
			continue
		}
		m.speech.AddFallback(cfg.speechNames[i], l)
	}
	return m
}

// State returns what is currently loaded.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// EnsureInstruct makes the instruct model resident, unloading the speech
// model first if needed. It waits for in-flight transcriptions.
func (m *Manager) EnsureInstruct(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swapLocked(ctx, StateInstructLoaded)
}

// EnsureSpeech makes the speech model resident, unloading the instruct model
// first if needed. It waits for in-flight generations.
func (m *Manager) EnsureSpeech(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swapLocked(ctx, StateSpeechLoaded)
}

// Complete implements [llm.Provider] on the resident instruct model.
func (m *Manager) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := m.run(ctx, StateInstructLoaded, func() error {
		var err error
		resp, err = m.llm.Complete(ctx, req)
		return err
	})
	return resp, err
}

// Transcribe implements [stt.Provider] on the resident speech model.
func (m *Manager) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	var tr *stt.Transcript
	err := m.run(ctx, StateSpeechLoaded, func() error {
		var err error
		tr, err = m.stt.Transcribe(ctx, audio)
		return err
	})
	return tr, err
}

// run calls fn with target resident. When target is already loaded fn runs
// under the read lock, alongside other calls. Otherwise the swap and fn both
// run under the write lock so the caller that paid for the swap is served
// before anyone can swap back.
func (m *Manager) run(ctx context.Context, target State, fn func() error) error {
	m.mu.RLock()
	if m.state == target {
		defer m.mu.RUnlock()
		return fn()
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.swapLocked(ctx, target); err != nil {
		return err
	}
	return fn()
}

// Check reports whether the manager can serve instruct requests. It does not
// load anything.
func (m *Manager) Check(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if m.instruct == nil {
		return errors.New("resident: no instruct loader configured")
	}
	return nil
}

// Close unloads the resident model. Later calls fail with [ErrClosed].
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.unloadLocked()
}

// swapLocked must be called with m.mu held for writing.
func (m *Manager) swapLocked(ctx context.Context, target State) error {
	if m.closed {
		return ErrClosed
	}
	if m.state == target {
		return nil
	}

	// A caller that is already gone must not evict the model others use.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("resident: swap to %s: %w", target, err)
	}

	prev := m.state
	if err := m.unloadLocked(); err != nil {
		slog.Warn("resident: unload failed", "state", prev, "err", err)
	}

	if err := m.loadLocked(ctx, target); err != nil {
		// The restore serves every other caller, not this one.
		if prev != StateEmpty {
			if rerr := m.loadLocked(context.WithoutCancel(ctx), prev); rerr != nil {
				slog.Error("resident: restoring previous model failed, slot is empty",
					"target", target, "previous", prev, "err", rerr)
			}
		}
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("resident: load %s: %w", target, cerr)
		}
		return &LoadError{Target: target, Restored: m.state, Err: err}
	}

	slog.Info("resident: model swapped", "from", prev, "to", target)
	if m.metrics != nil {
		m.metrics.RecordModelSwap(ctx, prev.String(), target.String())
	}
	return nil
}

// loadLocked loads target into the empty slot.
func (m *Manager) loadLocked(ctx context.Context, target State) error {
	start := time.Now()
	var err error
	switch target {
	case StateInstructLoaded:
		if m.instruct == nil {
			err = errors.New("no instruct loader configured")
			break
		}
		var p llm.Provider
		p, err = resilience.ExecuteWithResult(ctx, m.instruct, func(l InstructLoader) (llm.Provider, error) {
			return l(ctx)
		})
		if err == nil {
			m.llm, m.state = p, StateInstructLoaded
		}
	case StateSpeechLoaded:
		if m.speech == nil {
			err = errors.New("no speech loader configured")
			break
		}
		var p stt.Provider
		p, err = resilience.ExecuteWithResult(ctx, m.speech, func(l SpeechLoader) (stt.Provider, error) {
			return l(ctx)
		})
		if err == nil {
			m.stt, m.state = p, StateSpeechLoaded
		}
	default:
		return nil
	}

	if m.metrics != nil {
		m.metrics.RecordModelLoad(ctx, target.String(), time.Since(start).Seconds(), err)
	}
	return err
}

// unloadLocked releases whatever is resident and reclaims memory.
func (m *Manager) unloadLocked() error {
	var handle any
	switch m.state {
	case StateEmpty:
		return nil
	case StateInstructLoaded:
		handle = m.llm
	case StateSpeechLoaded:
		handle = m.stt
	}
	m.llm, m.stt, m.state = nil, nil, StateEmpty

	var err error
	if c, ok := handle.(io.Closer); ok {
		err = c.Close()
	}
	if m.reclaim != nil {
		m.reclaim()
	}
	return err
}
