package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/cluekeeper/internal/config"
	"github.com/MrWong99/cluekeeper/internal/resident"
	"github.com/MrWong99/cluekeeper/internal/resilience"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm/anyllm"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm/openai"
	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
	"github.com/MrWong99/cluekeeper/pkg/provider/stt/speechkit"
	"github.com/MrWong99/cluekeeper/pkg/provider/stt/whisper"
)

// RegisterBuiltinProviders registers every provider implementation that
// ships with cluekeeper.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted backends share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai-compatible talks to any server exposing /v1/chat/completions,
	// such as llama.cpp or vLLM, and can fall back to the legacy max_tokens
	// field those servers expect.
	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = "unused"
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if s := config.OptString(entry.Options, "timeout"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("openai-compatible: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		if config.OptBool(entry.Options, "legacy_max_tokens") {
			opts = append(opts, openai.WithLegacyMaxTokens())
		}
		return openai.New(apiKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("speechkit", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []speechkit.Option
		if entry.BaseURL != "" {
			opts = append(opts, speechkit.WithTarget(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, speechkit.WithLanguage(lang))
		}
		if rate := config.OptInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, speechkit.WithSampleRate(rate))
		}
		return speechkit.New(entry.APIKey, config.OptString(entry.Options, "folder_id"), opts...)
	})

	for _, kind := range []string{"llm", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Provider assembly ────────────────────────────────────────────────────────

// entryName labels a provider entry in logs and metrics.
func entryName(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// llmEntries returns the configured primary and fallback LLM entries, in
// order. An unnamed primary is skipped.
func llmEntries(cfg *config.Config) []config.ProviderEntry {
	var out []config.ProviderEntry
	if cfg.Providers.LLM.Name != "" {
		out = append(out, cfg.Providers.LLM)
	}
	return append(out, cfg.Providers.LLMFallbacks...)
}

func sttEntries(cfg *config.Config) []config.ProviderEntry {
	var out []config.ProviderEntry
	if cfg.Providers.STT.Name != "" {
		out = append(out, cfg.Providers.STT)
	}
	return append(out, cfg.Providers.STTFallbacks...)
}

// newResident builds a swap-mode manager. Every configured entry becomes a
// loader; nothing is constructed until the first request needs it.
func newResident(cfg *config.Config, reg *config.Registry, opts ...resident.Option) *resident.Manager {
	for _, e := range llmEntries(cfg) {
		opts = append(opts, resident.WithInstructLoader(entryName(e), func(context.Context) (llm.Provider, error) {
			return reg.CreateLLM(e)
		}))
	}
	for _, e := range sttEntries(cfg) {
		opts = append(opts, resident.WithSpeechLoader(entryName(e), func(context.Context) (stt.Provider, error) {
			return reg.CreateSTT(e)
		}))
	}
	opts = append(opts, resident.WithLoadBreaker(resilience.CircuitBreakerConfig{
		Name:         "resident-load",
		MaxFailures:  cfg.Resident.LoadMaxFailures,
		ResetTimeout: cfg.Resident.LoadResetTimeout,
	}))
	return resident.New(opts...)
}

// directProviders builds every configured provider eagerly and chains them
// behind fallback groups. Either result is nil when nothing is configured.
// The returned closers release providers holding resources.
func directProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, stt.Provider, []func() error, error) {
	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Resident.LoadMaxFailures,
		ResetTimeout: cfg.Resident.LoadResetTimeout,
	}}
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	var chat *resilience.LLMFallback
	for _, e := range llmEntries(cfg) {
		p, err := reg.CreateLLM(e)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", e.Name, err)
		}
		track(p)
		slog.Info("provider created", "kind", "llm", "name", entryName(e))
		if chat == nil {
			chat = resilience.NewLLMFallback(p, entryName(e), fb)
			continue
		}
		chat.AddFallback(entryName(e), p)
	}

	var speech *resilience.STTFallback
	for _, e := range sttEntries(cfg) {
		p, err := reg.CreateSTT(e)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("create stt provider %q: %w", e.Name, err)
		}
		track(p)
		slog.Info("provider created", "kind", "stt", "name", entryName(e))
		if speech == nil {
			speech = resilience.NewSTTFallback(p, entryName(e), fb)
			continue
		}
		speech.AddFallback(entryName(e), p)
	}

	// Typed nils must not leak into interface values.
	var (
		l llm.Provider
		s stt.Provider
	)
	if chat != nil {
		l = chat
	}
	if speech != nil {
		s = speech
	}
	return l, s, closers, nil
}

// unconfigured stands in for a provider kind nothing is configured for in
// direct mode. It fails like a swap-mode manager without loaders, so both
// modes surface a missing model the same way.
type unconfigured struct{}

func (unconfigured) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, &resident.LoadError{Target: resident.StateInstructLoaded, Err: errors.New("no llm provider configured")}
}

func (unconfigured) Transcribe(context.Context, stt.Audio) (*stt.Transcript, error) {
	return nil, &resident.LoadError{Target: resident.StateSpeechLoaded, Err: errors.New("no stt provider configured")}
}
