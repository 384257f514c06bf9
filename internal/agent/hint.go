package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/cluekeeper/internal/archive"
	"github.com/MrWong99/cluekeeper/internal/conversation"
	"github.com/MrWong99/cluekeeper/internal/observe"
	"github.com/MrWong99/cluekeeper/internal/prompt"
	"github.com/MrWong99/cluekeeper/internal/scenario"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	"github.com/MrWong99/cluekeeper/pkg/types"
)

// HintAgent answers questions about a catalog of actions. Each action name
// has its own conversation, seeded with a system prompt that embeds the
// whole catalog. Safe for concurrent use.
type HintAgent struct {
	opts  options
	gen   generator
	store *conversation.Store

	mu      sync.RWMutex
	actions scenario.Actions
}

// NewHintAgent creates a hint agent generating with p. The catalog starts
// empty; call [HintAgent.SetCatalog] before asking.
func NewHintAgent(p llm.Provider, opts ...Option) *HintAgent {
	o := buildOptions(opts)
	return &HintAgent{
		opts:  o,
		gen:   newGenerator(p, o),
		store: o.store,
	}
}

// SetCatalog replaces the action catalog. Conversations that already exist
// keep the prompt they were created with.
func (a *HintAgent) SetCatalog(actions scenario.Actions) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = actions.Clone()
}

// HasCatalog reports whether a non-empty catalog is set.
func (a *HintAgent) HasCatalog() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.actions) > 0
}

// Conversation returns a copy of the conversation kept for actionName.
func (a *HintAgent) Conversation(actionName string) []types.Message {
	return a.store.Messages(actionName)
}

// Ask answers question about actionName. An empty question asks for an
// explanation of the action. Generation failures are answered with
// [Apology] and leave no assistant turn behind.
func (a *HintAgent) Ask(ctx context.Context, actionName, question string) (string, error) {
	actionName = strings.TrimSpace(actionName)
	if actionName == "" {
		return "", ErrEmptyActionName
	}
	if strings.TrimSpace(question) == "" {
		question = prompt.DefaultQuestion(actionName)
	}

	a.mu.RLock()
	actions := a.actions
	a.mu.RUnlock()
	if len(actions) == 0 {
		return "", ErrNoCatalog
	}

	ctx, span := observe.StartSpan(ctx, "agent.hint")
	defer span.End()
	log := observe.Logger(ctx).With("flow", archive.FlowHint, "action", actionName)

	if a.store.EnsureInitialized(actionName, func() string { return prompt.Catalog(actions) }) {
		log.Debug("hint conversation initialised")
	}
	if _, err := a.store.MergeUser(actionName, question); err != nil {
		return "", fmt.Errorf("agent: hint: %w", err)
	}
	window, err := a.store.Window(actionName)
	if err != nil {
		return "", fmt.Errorf("agent: hint: %w", err)
	}

	answer, err := a.gen.generate(ctx, turnPrimary, primaryRequest(window))
	if err != nil {
		if mustPropagate(ctx, err) {
			return "", fmt.Errorf("agent: hint: %w", err)
		}
		log.Warn("hint generation failed, answering with apology", "err", err)
		a.opts.metrics.RecordApology(ctx, string(archive.FlowHint))
		return Apology, nil
	}

	if err := a.store.Append(actionName, types.RoleAssistant, answer); err != nil {
		return "", fmt.Errorf("agent: hint: %w", err)
	}
	a.opts.record(ctx, archive.Exchange{
		Flow:     archive.FlowHint,
		Key:      actionName,
		Question: question,
		Response: answer,
	})
	return answer, nil
}
