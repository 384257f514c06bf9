package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrDisclosureParse is returned by a strict [JSONFragment] when the model
// output carries no JSON object at all.
var ErrDisclosureParse = errors.New("discovery: disclosure parse failed")

// Detector reports which catalog names a piece of model output disclosed.
// Results contain only catalog names, without duplicates.
type Detector interface {
	Detect(text string, catalog Catalog) ([]string, error)
}

// Strategy names accepted by [NewDetector].
const (
	StrategySubstring = "substring"
	StrategyJSON      = "json"
)

// NewDetector returns the detector for strategy. strict and wrapBare only
// apply to the JSON strategy.
func NewDetector(strategy string, strict, wrapBare bool) (Detector, error) {
	switch strategy {
	case StrategySubstring:
		return Substring{}, nil
	case StrategyJSON, "json_fragment":
		return JSONFragment{Strict: strict, WrapBare: wrapBare}, nil
	}
	return nil, fmt.Errorf("discovery: unknown detection strategy %q", strategy)
}

// ── Substring ────────────────────────────────────────────────────────────────

// Substring discloses every catalog name that occurs verbatim in the text.
// Matching is case-sensitive with no tokenisation, so "production_rate" also
// matches inside "production_rate_target".
type Substring struct{}

var _ Detector = Substring{}

// Detect implements Detector. It never fails.
func (Substring) Detect(text string, catalog Catalog) ([]string, error) {
	var out []string
	for _, name := range catalog.Names() {
		if strings.Contains(text, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// ── JSON fragment ────────────────────────────────────────────────────────────

// JSONFragment parses the first balanced {...} object in the text and
// discloses its top-level keys that are catalog names, in the order they
// appear in the object.
//
// A malformed or unbalanced object yields no disclosures. When the text has
// no brace at all, WrapBare retries with the whole text wrapped in braces
// (models answer `"defect_rate": 8` when told to reply in that format), and
// Strict turns a remaining failure into [ErrDisclosureParse].
type JSONFragment struct {
	Strict   bool
	WrapBare bool
}

var _ Detector = JSONFragment{}

// Detect implements Detector.
func (d JSONFragment) Detect(text string, catalog Catalog) ([]string, error) {
	if frag, ok := firstObject(text); ok {
		keys, _ := objectKeys(frag)
		return filterCatalog(keys, catalog), nil
	}
	if strings.ContainsAny(text, "{}") {
		return nil, nil
	}

	if d.WrapBare {
		if keys, ok := objectKeys("{" + strings.TrimSpace(text) + "}"); ok {
			return filterCatalog(keys, catalog), nil
		}
	}
	if d.Strict {
		return nil, fmt.Errorf("%w: no JSON object in model output", ErrDisclosureParse)
	}
	return nil, nil
}

// firstObject returns the text from the first '{' through its matching '}'.
// Braces inside JSON strings are ignored.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(s string) ([]string, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	res := gjson.Parse(s)
	if !res.IsObject() {
		return nil, false
	}
	var keys []string
	res.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys, true
}

func filterCatalog(keys []string, catalog Catalog) []string {
	var out []string
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup || !catalog.Contains(k) {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
