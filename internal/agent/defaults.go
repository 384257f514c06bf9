package agent

import "github.com/MrWong99/cluekeeper/internal/scenario"

// DefaultCatalog returns the built-in action catalog used by the hint flow
// when none is configured.
func DefaultCatalog() scenario.Actions { return scenario.DefaultActions() }

// DefaultScenario returns the built-in widget-factory scenario played by
// `cluekeeper play` and by a server started without a scenario file.
func DefaultScenario() scenario.Definition { return scenario.Default() }
