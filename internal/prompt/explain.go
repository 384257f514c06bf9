package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/cluekeeper/internal/scenario"
)

// Discussed lists the variables already disclosed in a session, per kind.
type Discussed struct {
	Metrics   []string
	Targets   []string
	Modifiers []string
}

// ExplainInput is the input of [Explain].
type ExplainInput struct {
	Persona          string
	AgentDescription string
	Setting          string

	// DataPoints is the raw primary-turn output being explained.
	DataPoints string

	MetricsGuide scenario.Guides
	TargetsGuide scenario.Guides
	Discussed    Discussed
}

// Explain renders the single-message prompt of the explain turn. It asks the
// model to restate the data points of the primary turn as one or two plain
// sentences spoken by the persona.
func Explain(in ExplainInput) string {
	var sb strings.Builder

	sb.WriteString(strings.TrimSpace(in.AgentDescription))
	sb.WriteString("\n\nDATA POINTS (FOR YOUR CONTEXT ONLY):\n")
	sb.WriteString(strings.TrimSpace(in.DataPoints))
	fmt.Fprintf(&sb, "\n\nUsing this information, provide a clear, practical explanation of what this means for the %s.\n", in.Setting)

	sb.WriteString("\nREFERENCE DATA (FOR YOUR CONTEXT ONLY):\nMETRICS GUIDE:\n")
	writeTexts(&sb, in.MetricsGuide)
	sb.WriteString("\nTARGETS GUIDE:\n")
	writeTexts(&sb, in.TargetsGuide)

	sb.WriteString("\nALREADY DISCUSSED METRICS/TARGETS/FACTORS:\n")
	fmt.Fprintf(&sb, "- Metrics: %s\n", list(in.Discussed.Metrics))
	fmt.Fprintf(&sb, "- Targets: %s\n", list(in.Discussed.Targets))
	fmt.Fprintf(&sb, "- Factors: %s\n", list(in.Discussed.Modifiers))

	fmt.Fprintf(&sb, `
INSTRUCTIONS:
1. Speak directly as the %s - use professional but accessible language
2. Explain ONLY the metrics/values mentioned in the data point(s) above
3. Include the EXACT numerical values in your explanation
4. Keep your explanation concise and focused (1-2 sentences MAXIMUM)
5. No need to acknowledge that you're analyzing data - just deliver the insights
6. Use the reference descriptions for context, but put the information in your own words.
7. Explain the insights as if you know it very well.
`, in.Persona)

	return sb.String()
}

func list(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}
