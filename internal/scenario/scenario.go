// Package scenario holds the game data a session is started from: the
// persona the model speaks as, the hidden variables of a scenario and the
// human-readable guides for them, plus the investment-action catalog used by
// the hint flow.
package scenario

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/cluekeeper/internal/discovery"
)

// Persona is the named role the model is instructed to speak as.
type Persona struct {
	// Title is the short role name, e.g. "factory foreman".
	Title string `json:"agent_title" yaml:"title"`

	// Description is the one-paragraph brief used by the explain turn.
	Description string `json:"agent_description" yaml:"description"`

	// Setting names the place the scenario is about, e.g. "factory".
	Setting string `json:"scenario_setting" yaml:"setting"`
}

// Scenario is a free-text description plus the ground-truth variables the
// model must not leak outside the disclosure rules. It is immutable once a
// session starts.
type Scenario struct {
	Description string             `json:"description" yaml:"description"`
	Metrics     map[string]float64 `json:"metrics" yaml:"metrics"`
	Targets     map[string]float64 `json:"targets" yaml:"targets"`
	Modifiers   map[string]string  `json:"modifiers,omitempty" yaml:"modifiers"`
}

// Guides maps variable names to plain-language explanations.
type Guides map[string]string

// Definition is everything needed to start a discover session.
type Definition struct {
	Persona      Persona  `yaml:"persona"`
	Scenario     Scenario `yaml:"scenario"`
	MetricsGuide Guides   `yaml:"metrics_guide"`
	TargetsGuide Guides   `yaml:"targets_guide"`
}

// Catalog returns the variable catalog of s, used for disclosure detection.
func (s Scenario) Catalog() discovery.Catalog {
	return discovery.NewCatalog(
		slices.Collect(maps.Keys(s.Metrics)),
		slices.Collect(maps.Keys(s.Targets)),
		slices.Collect(maps.Keys(s.Modifiers)),
	)
}

// Clone returns a deep copy so callers cannot mutate a running session's
// ground truth through a shared map.
func (s Scenario) Clone() Scenario {
	return Scenario{
		Description: s.Description,
		Metrics:     maps.Clone(s.Metrics),
		Targets:     maps.Clone(s.Targets),
		Modifiers:   maps.Clone(s.Modifiers),
	}
}

// Validate reports structural problems: an empty description, no variables
// at all, or a name used by more than one variable kind.
func (s Scenario) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Description) == "" {
		errs = append(errs, errors.New("scenario: description is required"))
	}
	if len(s.Metrics)+len(s.Targets)+len(s.Modifiers) == 0 {
		errs = append(errs, errors.New("scenario: at least one metric, target or modifier is required"))
	}
	seen := make(map[string]string)
	check := func(kind string, names []string) {
		for _, n := range names {
			if strings.TrimSpace(n) == "" {
				errs = append(errs, fmt.Errorf("scenario: empty %s name", kind))
				continue
			}
			if prev, ok := seen[n]; ok {
				errs = append(errs, fmt.Errorf("scenario: %q is both a %s and a %s", n, prev, kind))
				continue
			}
			seen[n] = kind
		}
	}
	check("metric", SortedKeys(s.Metrics))
	check("target", SortedKeys(s.Targets))
	check("modifier", SortedKeys(s.Modifiers))
	return errors.Join(errs...)
}

// FormatValue renders a numeric variable in its shortest exact decimal form,
// so 120 prints as "120" and 2.5 as "2.5".
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
