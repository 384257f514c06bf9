package config_test

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cluekeeper/internal/config"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	llmmock "github.com/MrWong99/cluekeeper/pkg/provider/llm/mock"
	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
	sttmock "github.com/MrWong99/cluekeeper/pkg/provider/stt/mock"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
  generation_timeout: 30s
providers:
  llm:
    name: llamacpp
    base_url: http://127.0.0.1:8080/v1
    model: mistral-7b-instruct
  llm_fallbacks:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini
  stt:
    name: whisper
    base_url: http://127.0.0.1:9000
    options:
      language: en
resident:
  mode: direct
hint:
  window: 6
  reinit_policy: literal
  actions:
    Gold:
      description: A precious metal.
      impact: 3% YoY growth
      risks: Price volatility
discover:
  builtin: software_team
  player: Dana
  date: "2026-10-16"
  detection:
    strategy: json
    wrap_bare: true
archive:
  backend: memory
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.GenerationTimeout != 30*time.Second {
		t.Errorf("GenerationTimeout = %s", cfg.Server.GenerationTimeout)
	}
	if cfg.Providers.LLM.Name != "llamacpp" || cfg.Providers.LLM.Model != "mistral-7b-instruct" {
		t.Errorf("LLM = %+v", cfg.Providers.LLM)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].APIKey != "sk-test" {
		t.Errorf("LLMFallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if got := config.OptString(cfg.Providers.STT.Options, "language"); got != "en" {
		t.Errorf("stt language = %q", got)
	}
	if cfg.Resident.Mode != config.ResidentDirect {
		t.Errorf("Resident.Mode = %q", cfg.Resident.Mode)
	}
	if cfg.Hint.Window != 6 || cfg.Hint.ReinitPolicy != "literal" {
		t.Errorf("Hint conversation = %+v", cfg.Hint.ConversationConfig)
	}
	if cfg.Discover.Window != 10 {
		t.Errorf("Discover.Window = %d, want default 10", cfg.Discover.Window)
	}
	if cfg.Discover.Detection.Strategy != "json" || !cfg.Discover.Detection.WrapBare {
		t.Errorf("Detection = %+v", cfg.Discover.Detection)
	}
	if cfg.Archive.Backend != "memory" {
		t.Errorf("Archive.Backend = %q", cfg.Archive.Backend)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.GenerationTimeout != 0 {
		t.Errorf("GenerationTimeout = %s, want unbounded", cfg.Server.GenerationTimeout)
	}
	if cfg.Resident.Mode != config.ResidentSwap {
		t.Errorf("Resident.Mode = %q", cfg.Resident.Mode)
	}
	if cfg.Hint.Window != 10 || cfg.Discover.Window != 10 {
		t.Errorf("windows = %d/%d", cfg.Hint.Window, cfg.Discover.Window)
	}
	if cfg.Discover.Detection.Strategy != "substring" {
		t.Errorf("Strategy = %q", cfg.Discover.Detection.Strategy)
	}
	if cfg.Archive.Backend != "sqlite" || cfg.Archive.DSN != config.DefaultArchivePath {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestLoadFromReader_EnvOverrides(t *testing.T) {
	t.Setenv("CLUEKEEPER_LISTEN_ADDR", ":9999")
	t.Setenv("CLUEKEEPER_LLM_MODEL", "phi-3")
	t.Setenv("CLUEKEEPER_DETECTION_STRATEGY", "json")

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want env override", cfg.Server.ListenAddr)
	}
	if cfg.Providers.LLM.Model != "phi-3" {
		t.Errorf("LLM.Model = %q, want env override", cfg.Providers.LLM.Model)
	}
	if cfg.Providers.LLM.Name != "llamacpp" {
		t.Errorf("LLM.Name = %q, file value should survive", cfg.Providers.LLM.Name)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected an error for a misspelled field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"negative timeout", "server:\n  generation_timeout: -1s\n", "generation_timeout"},
		{"tls half", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"resident mode", "resident:\n  mode: juggle\n", "resident.mode"},
		{"window", "hint:\n  window: 1\n", "hint.window"},
		{"reinit policy", "discover:\n  reinit_policy: sometimes\n", "discover.reinit_policy"},
		{"strategy", "discover:\n  detection:\n    strategy: regex\n", "discover.detection.strategy"},
		{"builtin", "discover:\n  builtin: spaceship\n", "discover.builtin"},
		{"threshold", "discover:\n  correction:\n    fuzzy_threshold: 1.5\n", "fuzzy_threshold"},
		{"sample ratio", "telemetry:\n  trace_sample_ratio: 2\n", "telemetry.trace_sample_ratio"},
		{"catalog exclusive", "hint:\n  catalog_file: c.yaml\n  actions:\n    Gold:\n      description: x\n", "mutually exclusive"},
		{"fallback name", "providers:\n  llm_fallbacks:\n    - model: x\n", "llm_fallbacks[0].name"},
		{"postgres dsn", "archive:\n  backend: postgres\n", "archive.dsn"},
		{"archive backend", "archive:\n  backend: mongo\n", "archive.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\nresident:\n  mode: juggle\n"))
	if err == nil {
		t.Fatal("expected a validation error")
	}
	for _, want := range []string{"server.log_level", "resident.mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Resident.Mode != config.ResidentSwap {
		t.Errorf("Resident.Mode = %q", cfg.Resident.Mode)
	}
	if cfg.Providers.STT.Name != "whisper-native" {
		t.Errorf("STT = %+v", cfg.Providers.STT)
	}
}

// ── Content files ────────────────────────────────────────────────────────────

const catalogYAML = `
Gold:
  description: A precious metal.
  impact: 3% YoY growth
  risks: Price volatility
Bonds:
  description: Fixed income.
  impact: 2% YoY growth
  risks: Interest rate risk
`

const scenarioYAML = `
persona:
  title: Head of Logistics
  description: You run the warehouse.
  setting: A mid-sized retailer.
scenario:
  description: Deliveries are late.
  metrics:
    on_time_rate: 71
  targets:
    on_time_target: 95
  modifiers:
    carrier_change: Switching carriers adds two days for a month.
metrics_guide:
  on_time_rate: Share of orders delivered on time.
`

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, catalogYAML)

	actions, err := config.LoadCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 2 || actions["Gold"].Impact != "3% YoY growth" {
		t.Errorf("actions = %+v", actions)
	}
}

func TestLoadCatalog_Empty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, "{}\n")
	if _, err := config.LoadCatalog(path); err == nil {
		t.Fatal("expected an error for an empty catalog")
	}
}

func TestLoadScenario(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	writeFile(t, path, scenarioYAML)

	def, err := config.LoadScenario(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Persona.Title != "Head of Logistics" {
		t.Errorf("Persona.Title = %q", def.Persona.Title)
	}
	if def.Scenario.Metrics["on_time_rate"] != 71 {
		t.Errorf("Metrics = %v", def.Scenario.Metrics)
	}
	if def.MetricsGuide["on_time_rate"] == "" {
		t.Error("metrics guide should be decoded")
	}
}

func TestLoadScenario_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	writeFile(t, path, "persona:\n  title: X\nscenario:\n  description: \"\"\n")
	if _, err := config.LoadScenario(path); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestConfig_Catalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, catalogYAML)

	fromFile := &config.Config{Hint: config.HintConfig{CatalogFile: path}}
	actions, err := fromFile.Catalog()
	if err != nil || len(actions) != 2 {
		t.Errorf("file catalog = %v, %v", actions, err)
	}

	inline, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	actions, err = inline.Catalog()
	if err != nil || len(actions) != 1 {
		t.Errorf("inline catalog = %v, %v", actions, err)
	}

	builtin := &config.Config{Hint: config.HintConfig{DefaultCatalog: true}}
	actions, err = builtin.Catalog()
	if err != nil || len(actions) == 0 {
		t.Errorf("default catalog = %v, %v", actions, err)
	}

	none := &config.Config{}
	actions, err = none.Catalog()
	if err != nil || actions != nil {
		t.Errorf("unconfigured catalog = %v, %v, want nil", actions, err)
	}
}

func TestConfig_Scenario(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	def, err := cfg.Scenario()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Persona.Title == "" {
		t.Error("built-in scenario should have a persona")
	}

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	writeFile(t, path, scenarioYAML)
	cfg = &config.Config{Discover: config.DiscoverConfig{ScenarioFile: path, Builtin: "software_team"}}
	def, err = cfg.Scenario()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Persona.Title != "Head of Logistics" {
		t.Errorf("scenario file should win over builtin, got %q", def.Persona.Title)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return &llmmock.Provider{}, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "fake", Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || got.Model != "m" {
		t.Errorf("factory received %+v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM err = %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	factory := func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil }
	reg.RegisterSTT("whisper", factory)
	reg.RegisterSTT("speechkit", factory)

	if got := reg.Names("stt"); !slices.Equal(got, []string{"speechkit", "whisper"}) {
		t.Errorf("Names(stt) = %v", got)
	}
	if got := reg.Names("llm"); len(got) != 0 {
		t.Errorf("Names(llm) = %v, want empty", got)
	}
}

func TestOptInt(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"a": 16000, "b": 8000.0, "c": "x"}
	if config.OptInt(opts, "a") != 16000 || config.OptInt(opts, "b") != 8000 || config.OptInt(opts, "c") != 0 {
		t.Errorf("OptInt mismatch for %v", opts)
	}
	if config.OptInt(nil, "a") != 0 {
		t.Error("nil map should yield 0")
	}
}

func TestOptBool(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"yaml": true, "env": "true", "off": "false", "junk": "maybe", "num": 1}
	for key, want := range map[string]bool{"yaml": true, "env": true, "off": false, "junk": false, "num": false, "absent": false} {
		if got := config.OptBool(opts, key); got != want {
			t.Errorf("OptBool(%q) = %v, want %v", key, got, want)
		}
	}
}
