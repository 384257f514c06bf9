// Package prompt renders the system and explain prompts sent to the instruct
// model.
//
// Every function is pure: given the same inputs it returns the same text,
// performs no I/O and never calls a model. Maps are rendered sorted by key and
// numbers in their shortest exact form, so a value of 120 appears as "120".
package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/cluekeeper/internal/scenario"
)

// NotSpecificEnough is the literal answer the scenario prompt asks the model
// to give when a question does not target a specific variable.
const NotSpecificEnough = "QUESTION NOT SPECIFIC ENOUGH"

// ScenarioInput is the input of [Scenario].
type ScenarioInput struct {
	// Persona is the role title, e.g. "factory foreman".
	Persona string

	// Scenario supplies the description and the ground-truth variables.
	Scenario scenario.Scenario

	// Player and Date, when both set, add a closing line naming the player and
	// the in-game date.
	Player string
	Date   string
}

// Scenario renders the discovery-flavor system prompt. It embeds every metric,
// target and modifier with its exact value as a private reference and tells
// the model to answer specific questions as `"name": value` pairs and anything
// else with [NotSpecificEnough].
func Scenario(in ScenarioInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a %s agent. Here is the base scenario:\n\n", in.Persona)
	sb.WriteString(strings.TrimSpace(in.Scenario.Description))
	sb.WriteString("\n\nSCENARIO VARIABLES (PRIVATE REFERENCE - DO NOT REVEAL UNLESS ASKED):\n")

	sb.WriteString("METRICS:\n")
	writeNumbers(&sb, in.Scenario.Metrics)
	sb.WriteString("\nTARGETS:\n")
	writeNumbers(&sb, in.Scenario.Targets)
	sb.WriteString("\nMODIFIERS:\n")
	writeTexts(&sb, in.Scenario.Modifiers)

	sb.WriteString(`
INSTRUCTIONS:
1. You will respond to user questions based on this scenario.
2. When a user asks directly about a specific metric, target, or modifier, provide the EXACT value from your reference.
3. Use the exact values from your reference when discussing any variable.
4. Do not preemptively reveal variables users haven't asked about.
5. Answer just with the variable name and value in json format: "variable": value if the question is specific enough.
`)
	fmt.Fprintf(&sb, "6. If the question is not specific enough just answer: %q\n", NotSpecificEnough)

	if in.Player != "" && in.Date != "" {
		fmt.Fprintf(&sb, "\nThe user is %s, and today's date is %s.\n", in.Player, in.Date)
	}
	return sb.String()
}

// BuildSystemPrompt is the scenario prompt for persona over a description and
// its metric and target values.
func BuildSystemPrompt(persona, description string, metrics, targets map[string]float64) string {
	return Scenario(ScenarioInput{
		Persona:  persona,
		Scenario: scenario.Scenario{Description: description, Metrics: metrics, Targets: targets},
	})
}

func writeNumbers(sb *strings.Builder, m map[string]float64) {
	for _, k := range scenario.SortedKeys(m) {
		fmt.Fprintf(sb, "- %s: %s\n", k, scenario.FormatValue(m[k]))
	}
}

func writeTexts(sb *strings.Builder, m map[string]string) {
	for _, k := range scenario.SortedKeys(m) {
		fmt.Fprintf(sb, "- %s: %s\n", k, m[k])
	}
}
