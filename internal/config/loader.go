package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/cluekeeper/internal/conversation"
	"github.com/MrWong99/cluekeeper/internal/discovery"
	"github.com/MrWong99/cluekeeper/internal/scenario"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":5000"
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultMaxUploadBytes   = 25 << 20
	DefaultLoadMaxFailures  = 3
	DefaultLoadResetTimeout = 30 * time.Second
	DefaultArchivePath      = "cluekeeper.db"
	DefaultServiceName      = "cluekeeper"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "openai-compatible", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "speechkit"},
}

// LoadEnv loads a .env file from the working directory into the process
// environment. A missing file is not an error.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// An empty path yields the defaults. Environment variables override file
// values in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return fromDecoded(&Config{})
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return fromDecoded(cfg)
}

func fromDecoded(cfg *Config) (*Config, error) {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Resident.Mode == "" {
		cfg.Resident.Mode = ResidentSwap
	}
	if cfg.Resident.LoadMaxFailures == 0 {
		cfg.Resident.LoadMaxFailures = DefaultLoadMaxFailures
	}
	if cfg.Resident.LoadResetTimeout == 0 {
		cfg.Resident.LoadResetTimeout = DefaultLoadResetTimeout
	}
	for _, c := range []*ConversationConfig{&cfg.Hint.ConversationConfig, &cfg.Discover.ConversationConfig} {
		if c.Window == 0 {
			c.Window = conversation.DefaultWindow
		}
	}
	if cfg.Discover.Detection.Strategy == "" {
		cfg.Discover.Detection.Strategy = discovery.StrategySubstring
	}
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = "sqlite"
	}
	if cfg.Archive.Backend == "sqlite" && cfg.Archive.DSN == "" {
		cfg.Archive.DSN = DefaultArchivePath
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.GenerationTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.generation_timeout %s must not be negative", cfg.Server.GenerationTimeout))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; generations will fail")
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}

	// Resident
	if cfg.Resident.Mode != "" && !cfg.Resident.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("resident.mode %q is invalid; valid values: swap, direct", cfg.Resident.Mode))
	}
	if cfg.Resident.LoadMaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resident.load_max_failures %d must not be negative", cfg.Resident.LoadMaxFailures))
	}

	// Conversations
	errs = append(errs, validateConversation("hint", cfg.Hint.ConversationConfig)...)
	errs = append(errs, validateConversation("discover", cfg.Discover.ConversationConfig)...)

	// Hint catalog
	if cfg.Hint.CatalogFile != "" && len(cfg.Hint.Actions) > 0 {
		errs = append(errs, errors.New("hint: catalog_file and actions are mutually exclusive"))
	}

	// Discover
	det := cfg.Discover.Detection
	if _, err := discovery.NewDetector(det.Strategy, det.Strict, det.WrapBare); err != nil {
		errs = append(errs, fmt.Errorf("discover.detection.strategy: %w", err))
	} else if det.Strategy == discovery.StrategySubstring && (det.Strict || det.WrapBare) {
		slog.Warn("discover.detection strict and wrap_bare only apply to the json strategy")
	}
	if cfg.Discover.ScenarioFile == "" && cfg.Discover.Builtin != "" {
		if _, ok := scenario.Builtin(cfg.Discover.Builtin); !ok {
			errs = append(errs, fmt.Errorf("discover.builtin %q is not a built-in scenario; valid values: factory, software_team", cfg.Discover.Builtin))
		}
	}
	if v := cfg.Discover.Correction.PhoneticThreshold; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("discover.correction.phonetic_threshold %.2f is out of range [0, 1]", v))
	}
	if v := cfg.Discover.Correction.FuzzyThreshold; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("discover.correction.fuzzy_threshold %.2f is out of range [0, 1]", v))
	}

	// Archive
	switch cfg.Archive.Backend {
	case "", "memory", "sqlite":
	case "postgres":
		if cfg.Archive.DSN == "" {
			errs = append(errs, errors.New("archive.dsn is required when archive.backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is invalid; valid values: sqlite, postgres, memory", cfg.Archive.Backend))
	}

	if v := cfg.Telemetry.TraceSampleRatio; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", v))
	}

	return errors.Join(errs...)
}

func validateConversation(prefix string, c ConversationConfig) []error {
	var errs []error
	if c.Window != 0 && c.Window < 2 {
		errs = append(errs, fmt.Errorf("%s.window %d must be at least 2", prefix, c.Window))
	}
	if _, err := conversation.ParseReinitPolicy(c.ReinitPolicy); err != nil {
		errs = append(errs, fmt.Errorf("%s.reinit_policy: %w", prefix, err))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// ── Content files ────────────────────────────────────────────────────────────

// LoadCatalog reads a YAML action catalog from path.
func LoadCatalog(path string) (scenario.Actions, error) {
	var actions scenario.Actions
	if err := decodeFile(path, &actions); err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("config: catalog %q has no actions", path)
	}
	return actions, nil
}

// LoadScenario reads a YAML scenario definition from path and validates it.
func LoadScenario(path string) (scenario.Definition, error) {
	var def scenario.Definition
	if err := decodeFile(path, &def); err != nil {
		return scenario.Definition{}, err
	}
	if err := def.Scenario.Validate(); err != nil {
		return scenario.Definition{}, fmt.Errorf("config: scenario %q: %w", path, err)
	}
	return def, nil
}

// Catalog resolves the hint catalog configured in cfg. It returns nil when
// no catalog is configured, in which case clients must post one.
func (cfg *Config) Catalog() (scenario.Actions, error) {
	switch {
	case cfg.Hint.CatalogFile != "":
		return LoadCatalog(cfg.Hint.CatalogFile)
	case len(cfg.Hint.Actions) > 0:
		return cfg.Hint.Actions.Clone(), nil
	case cfg.Hint.DefaultCatalog:
		return scenario.DefaultActions(), nil
	}
	return nil, nil
}

// Scenario resolves the discover scenario configured in cfg, falling back
// to the built-in factory scenario.
func (cfg *Config) Scenario() (scenario.Definition, error) {
	if cfg.Discover.ScenarioFile != "" {
		return LoadScenario(cfg.Discover.ScenarioFile)
	}
	def, ok := scenario.Builtin(cfg.Discover.Builtin)
	if !ok {
		return scenario.Definition{}, fmt.Errorf("config: unknown built-in scenario %q", cfg.Discover.Builtin)
	}
	return def, nil
}

func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("config: decode %q: %w", path, err)
	}
	return nil
}
