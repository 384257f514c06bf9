// Package config provides the configuration schema, loader, and provider registry
// for the cluekeeper server.
package config

import (
	"time"

	"github.com/MrWong99/cluekeeper/internal/archive"
	"github.com/MrWong99/cluekeeper/internal/scenario"
)

// LogLevel controls log verbosity for the cluekeeper server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ResidentMode selects how model providers are held in memory.
type ResidentMode string

const (
	// ResidentSwap keeps at most one of the instruct and speech models
	// loaded and swaps on demand. Suited to local models sharing one GPU.
	ResidentSwap ResidentMode = "swap"

	// ResidentDirect builds every provider up front and fails over between
	// them at request time. Suited to hosted APIs.
	ResidentDirect ResidentMode = "direct"
)

// IsValid reports whether m is a recognised resident mode.
func (m ResidentMode) IsValid() bool {
	return m == ResidentSwap || m == ResidentDirect
}

// Config is the root configuration structure for cluekeeper.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Resident  ResidentConfig  `yaml:"resident"`
	Hint      HintConfig      `yaml:"hint"`
	Discover  DiscoverConfig  `yaml:"discover"`
	Archive   archive.Config  `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":5000").
	ListenAddr string `yaml:"listen_addr" env:"CLUEKEEPER_LISTEN_ADDR"`

	// LogLevel controls verbosity. It is reloaded when the config file changes.
	LogLevel LogLevel `yaml:"log_level" env:"CLUEKEEPER_LOG_LEVEL"`

	// GenerationTimeout bounds every model generation. Zero waits as long as
	// the model takes.
	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"CLUEKEEPER_GENERATION_TIMEOUT"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxUploadBytes caps the size of /transcribe-discover uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the instruct and speech providers. Fallback
// entries are tried in order when the primary cannot be loaded (swap mode)
// or fails a request (direct mode).
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm" env-prefix:"CLUEKEEPER_LLM_"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STT          ProviderEntry   `yaml:"stt" env-prefix:"CLUEKEEPER_STT_"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name" env:"NAME"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// Model selects a specific model within the provider, or the model file
	// for local backends.
	Model string `yaml:"model" env:"MODEL"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ResidentConfig controls the resident-model manager.
type ResidentConfig struct {
	// Mode is "swap" (default) or "direct".
	Mode ResidentMode `yaml:"mode" env:"CLUEKEEPER_RESIDENT_MODE"`

	// LoadMaxFailures opens the load breaker of a provider after this many
	// consecutive failed loads.
	LoadMaxFailures int `yaml:"load_max_failures"`

	// LoadResetTimeout is how long an open load breaker stays open.
	LoadResetTimeout time.Duration `yaml:"load_reset_timeout"`
}

// ConversationConfig bounds one family of conversations.
type ConversationConfig struct {
	// Window is the number of messages sent to the model, system prompt
	// included. Defaults to 10.
	Window int `yaml:"window"`

	// ReinitPolicy is "absent_or_empty" (default) or "literal".
	ReinitPolicy string `yaml:"reinit_policy"`
}

// HintConfig configures the hint flow.
type HintConfig struct {
	ConversationConfig `yaml:",inline"`

	// CatalogFile is a YAML file mapping action names to their description,
	// impact and risks. It is reloaded when the config file changes.
	CatalogFile string `yaml:"catalog_file" env:"CLUEKEEPER_HINT_CATALOG_FILE"`

	// Actions is an inline catalog, used when CatalogFile is empty.
	Actions scenario.Actions `yaml:"actions"`

	// DefaultCatalog seeds the built-in investment catalog when neither
	// CatalogFile nor Actions is set.
	DefaultCatalog bool `yaml:"default_catalog"`
}

// DiscoverConfig configures the discover flow.
type DiscoverConfig struct {
	ConversationConfig `yaml:",inline"`

	// Detection selects how disclosures are found in model output.
	Detection DetectionConfig `yaml:"detection"`

	// ScenarioFile is a YAML scenario definition played by `cluekeeper play`.
	ScenarioFile string `yaml:"scenario_file" env:"CLUEKEEPER_SCENARIO_FILE"`

	// Builtin names a built-in scenario ("factory", "software_team") used
	// when ScenarioFile is empty.
	Builtin string `yaml:"builtin"`

	// Player and Date, when both set, are named in the scenario prompt.
	Player string `yaml:"player"`
	Date   string `yaml:"date"`

	// Correction tunes the transcript correction of /transcribe-discover.
	Correction CorrectionConfig `yaml:"correction"`
}

// DetectionConfig selects the disclosure detector.
type DetectionConfig struct {
	// Strategy is "substring" (default) or "json".
	Strategy string `yaml:"strategy" env:"CLUEKEEPER_DETECTION_STRATEGY"`

	// Strict makes an answer without any JSON object an error (json only).
	Strict bool `yaml:"strict"`

	// WrapBare retries a brace-less answer wrapped in braces (json only).
	WrapBare bool `yaml:"wrap_bare"`
}

// CorrectionConfig tunes transcript correction against catalog names.
type CorrectionConfig struct {
	Disabled          bool    `yaml:"disabled"`
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`

	// TraceSampleRatio is the fraction of new traces sampled, in [0, 1].
	// Zero samples every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio" env:"CLUEKEEPER_TRACE_SAMPLE_RATIO"`
}
