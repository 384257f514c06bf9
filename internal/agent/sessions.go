package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/cluekeeper/internal/scenario"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
)

// DefaultSessionID is used for discover requests that carry no session id,
// so a single-player deployment needs no id at all.
const DefaultSessionID = "default"

// Sessions is the registry of running discover sessions. All sessions share
// one provider and one conversation store. Safe for concurrent use.
type Sessions struct {
	provider llm.Provider
	opts     []Option
	o        options

	mu     sync.Mutex
	agents map[string]*DiscoverAgent
}

// NewSessions creates an empty registry. opts are applied to every
// [DiscoverAgent] it creates.
func NewSessions(p llm.Provider, opts ...Option) *Sessions {
	o := buildOptions(opts)
	// Pin the resolved store and archive so all sessions share them.
	shared := append(slices.Clone(opts), WithStore(o.store), WithMetrics(o.metrics))
	if o.archive != nil {
		shared = append(shared, WithArchive(o.archive))
	}
	return &Sessions{
		provider: p,
		opts:     shared,
		o:        o,
		agents:   make(map[string]*DiscoverAgent),
	}
}

// Get returns the session id. An empty id means [DefaultSessionID].
func (s *Sessions) Get(id string) (*DiscoverAgent, error) {
	id = normalizeID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return a, nil
}

// GetOrCreate returns session id, creating it from the definition returned
// by init when it does not exist yet. init is not called for existing
// sessions and its error is returned unchanged. An empty id means
// [DefaultSessionID].
func (s *Sessions) GetOrCreate(id string, init func() (scenario.Definition, error)) (a *DiscoverAgent, created bool, err error) {
	id = normalizeID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		return a, false, nil
	}
	def, err := init()
	if err != nil {
		return nil, false, err
	}
	a, err = s.createLocked(id, def)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Create starts a new session over def, replacing any session with the same
// id. An empty id gets a random one.
func (s *Sessions) Create(id string, def scenario.Definition) (*DiscoverAgent, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(id, def)
}

func (s *Sessions) createLocked(id string, def scenario.Definition) (*DiscoverAgent, error) {
	// An invalid definition must leave a running session and its log intact.
	if err := validateSession(id, def, s.provider); err != nil {
		return nil, err
	}
	_, replaced := s.agents[id]
	s.o.store.Reset(id)
	a, err := NewDiscoverAgent(id, def, s.provider, s.opts...)
	if err != nil {
		return nil, err
	}
	s.agents[id] = a
	if !replaced {
		s.o.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Info("discover session started", "session_id", id, "persona", def.Persona.Title,
		"variables", a.Catalog().Len(), "replaced", replaced)
	return a, nil
}

// Delete ends session id and drops its conversation. It reports whether the
// session existed. An empty id means [DefaultSessionID].
func (s *Sessions) Delete(id string) bool {
	id = normalizeID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return false
	}
	delete(s.agents, id)
	s.o.store.Reset(id)
	s.o.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("discover session ended", "session_id", id)
	return true
}

// IDs returns the ids of all running sessions, sorted.
func (s *Sessions) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of running sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

func normalizeID(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return DefaultSessionID
	}
	return id
}
