// Package conversation keeps per-key ordered message logs for the
// conversations the agents hold with the instruct model.
//
// Index 0 of a log, once present, is always the system message; it is set
// exactly once per key. The view sent to the model is bounded: when a log
// grows past the window size the outgoing messages are the system message
// followed by the most recent window-1 messages.
//
// Every key has its own lock, so conversations on different keys proceed
// concurrently while appends to one key never interleave.
package conversation

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/cluekeeper/pkg/types"
)

// DefaultWindow is the maximum number of messages sent to the model.
const DefaultWindow = 10

var (
	// ErrKeyNotInitialized is returned when a non-system message is added to
	// a key that has no log (or no system message) yet.
	ErrKeyNotInitialized = errors.New("conversation: key not initialized")

	// ErrSystemAlreadySet is returned when a second system message is added
	// to a log.
	ErrSystemAlreadySet = errors.New("conversation: system message already set")
)

// ReinitPolicy decides when [Store.EnsureInitialized] recreates a log.
type ReinitPolicy int

const (
	// ReinitAbsentOrEmpty creates a log only when the key is absent or its
	// log is empty. Existing conversations are kept.
	ReinitAbsentOrEmpty ReinitPolicy = iota

	// ReinitLiteral also recreates the log when it is present and non-empty,
	// so every call starts from a fresh system message. This is the literal
	// behaviour of the catalog flow this service replaces.
	ReinitLiteral
)

// ParseReinitPolicy maps a configuration value to a ReinitPolicy. The empty
// string selects ReinitAbsentOrEmpty.
func ParseReinitPolicy(s string) (ReinitPolicy, error) {
	switch s {
	case "", "absent_or_empty":
		return ReinitAbsentOrEmpty, nil
	case "literal":
		return ReinitLiteral, nil
	}
	return 0, fmt.Errorf("conversation: unknown reinit policy %q", s)
}

// String returns the configuration name of p.
func (p ReinitPolicy) String() string {
	if p == ReinitLiteral {
		return "literal"
	}
	return "absent_or_empty"
}

type log struct {
	mu       sync.Mutex
	messages []types.Message
}

// Store is the collection of conversation logs. The zero value is not
// usable; create one with [New].
type Store struct {
	window int
	policy ReinitPolicy

	mu   sync.RWMutex
	logs map[string]*log
}

// Option configures a Store.
type Option func(*Store)

// WithWindow sets the outgoing window size. Values below 2 are ignored.
func WithWindow(n int) Option {
	return func(s *Store) {
		if n >= 2 {
			s.window = n
		}
	}
}

// WithReinitPolicy sets the reinitialisation policy.
func WithReinitPolicy(p ReinitPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		window: DefaultWindow,
		logs:   make(map[string]*log),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the store's reinitialisation policy.
func (s *Store) Policy() ReinitPolicy { return s.policy }

func (s *Store) lookup(key string) *log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs[key]
}

func (s *Store) lookupOrCreate(key string) *log {
	if l := s.lookup(key); l != nil {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[key]; ok {
		return l
	}
	l := &log{}
	s.logs[key] = l
	return l
}

// Append adds a message to the log for key. A system message creates the log
// when the key is absent; any other role on an absent or empty log fails with
// [ErrKeyNotInitialized].
func (s *Store) Append(key string, role types.Role, content string) error {
	if !types.ValidRole(role) {
		return fmt.Errorf("conversation: invalid role %q", role)
	}

	var l *log
	if role == types.RoleSystem {
		l = s.lookupOrCreate(key)
	} else if l = s.lookup(key); l == nil {
		return fmt.Errorf("%w: %q", ErrKeyNotInitialized, key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case role == types.RoleSystem && len(l.messages) > 0:
		return fmt.Errorf("%w: %q", ErrSystemAlreadySet, key)
	case role != types.RoleSystem && len(l.messages) == 0:
		return fmt.Errorf("%w: %q", ErrKeyNotInitialized, key)
	}
	l.messages = append(l.messages, types.Message{Role: role, Content: content})
	return nil
}

// EnsureInitialized creates the log for key with a single system message
// produced by systemPrompt, according to the store's [ReinitPolicy]. It
// reports whether a (re)initialisation happened. systemPrompt is only called
// when it does.
func (s *Store) EnsureInitialized(key string, systemPrompt func() string) bool {
	l := s.lookupOrCreate(key)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) > 0 && s.policy != ReinitLiteral {
		return false
	}
	l.messages = []types.Message{{Role: types.RoleSystem, Content: systemPrompt()}}
	return true
}

// MergeUser adds a user message to key using the follow-up merge rule: while
// no assistant reply exists and message 1 is a user message, content is
// appended to that message on a new line instead of becoming a new entry.
// Otherwise the content is appended as a new user message. It reports
// whether the content was merged.
func (s *Store) MergeUser(key, content string) (merged bool, err error) {
	l := s.lookup(key)
	if l == nil {
		return false, fmt.Errorf("%w: %q", ErrKeyNotInitialized, key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) == 0 {
		return false, fmt.Errorf("%w: %q", ErrKeyNotInitialized, key)
	}

	hasAssistant := slices.ContainsFunc(l.messages, func(m types.Message) bool {
		return m.Role == types.RoleAssistant
	})
	if !hasAssistant && len(l.messages) >= 2 && l.messages[1].Role == types.RoleUser {
		l.messages[1].Content += "\n" + content
		return true, nil
	}
	l.messages = append(l.messages, types.Message{Role: types.RoleUser, Content: content})
	return false, nil
}

// Window returns the bounded view of the log for key: the whole log when it
// fits the window, otherwise message 0 followed by the most recent
// window-1 messages. The result is a copy.
func (s *Store) Window(key string) ([]types.Message, error) {
	l := s.lookup(key)
	if l == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotInitialized, key)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return Windowed(l.messages, s.window), nil
}

// Messages returns a copy of the complete log for key, or nil when absent.
func (s *Store) Messages(key string) []types.Message {
	l := s.lookup(key)
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages)
}

// Len returns the number of messages stored for key.
func (s *Store) Len(key string) int {
	l := s.lookup(key)
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Reset removes the log for key. It reports whether a log existed.
func (s *Store) Reset(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.logs[key]
	delete(s.logs, key)
	return ok
}

// Keys returns the keys with a log, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.logs))
	for k := range s.logs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Windowed applies the window rule to msgs: msgs itself (copied) when
// len(msgs) <= window, otherwise msgs[0] followed by the last window-1
// messages.
func Windowed(msgs []types.Message, window int) []types.Message {
	if window < 2 {
		window = DefaultWindow
	}
	if len(msgs) <= window {
		return slices.Clone(msgs)
	}
	out := make([]types.Message, 0, window)
	out = append(out, msgs[0])
	return append(out, msgs[len(msgs)-(window-1):]...)
}
