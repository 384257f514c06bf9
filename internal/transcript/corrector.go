// Package transcript fixes the spoken form of catalog names in
// speech-to-text output.
//
// Players say "defect rate" while the scenario knows the variable as
// defect_rate. [Corrector] finds word windows in a transcript that sound
// like a catalog name and rewrites them to the canonical name, so the
// discover flow sees the same vocabulary whether a question was typed or
// spoken.
//
// Matching has two stages, per window of as many words as the name has:
//
//  1. Double Metaphone codes of every window word must overlap the codes of
//     the name word at the same position. Such windows are accepted when the
//     lowest per-word Jaro-Winkler similarity reaches the phonetic threshold.
//  2. Windows without a phonetic match are accepted only above the higher
//     fuzzy threshold.
package transcript

import (
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92

	// minSingleWordLen keeps short words from being rewritten to one-word
	// names.
	minSingleWordLen = 4
)

// Correction is one substitution made by [Corrector.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Result is the output of [Corrector.Correct].
type Result struct {
	Original    string
	Corrected   string
	Corrections []Correction
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for windows that
// match phonetically. Default: 0.80.
func WithPhoneticThreshold(v float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for windows without
// a phonetic match. Default: 0.92.
func WithFuzzyThreshold(v float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = v }
}

// Corrector rewrites spoken catalog names. It is read-only after
// construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Corrector with the given options.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// entry is a catalog name prepared for matching.
type entry struct {
	name   string
	tokens []string
	codes  []map[string]struct{}
}

func prepare(names []string) (entries []entry, maxWords int) {
	for _, n := range names {
		spoken := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(n))
		tokens := strings.Fields(spoken)
		if len(tokens) == 0 {
			continue
		}
		e := entry{name: n, tokens: tokens}
		for _, t := range tokens {
			e.codes = append(e.codes, codes(t))
		}
		entries = append(entries, e)
		maxWords = max(maxWords, len(tokens))
	}
	// Longer names first so "production rate target" wins over "production rate".
	slices.SortStableFunc(entries, func(a, b entry) int { return len(b.tokens) - len(a.tokens) })
	return entries, maxWords
}

// Correct rewrites every window of text that matches one of names. Windows
// are tried longest first at each position; a matched window is consumed
// whole.
func (c *Corrector) Correct(text string, names []string) Result {
	res := Result{Original: text, Corrected: text, Corrections: []Correction{}}
	entries, maxWords := prepare(names)
	words := strings.Fields(text)
	if len(entries) == 0 || len(words) == 0 {
		return res
	}

	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		n, e, score := c.matchAt(words[i:], entries, maxWords)
		if n == 0 {
			out = append(out, words[i])
			i++
			continue
		}
		lead, _ := splitPunct(words[i])
		_, trail := splitPunct(words[i+n-1])
		original := strings.Join(words[i:i+n], " ")
		out = append(out, lead+e.name+trail)
		if original != lead+e.name+trail {
			res.Corrections = append(res.Corrections, Correction{
				Original:   original,
				Corrected:  e.name,
				Confidence: score,
			})
		}
		i += n
	}
	res.Corrected = strings.Join(out, " ")
	return res
}

// matchAt returns the number of words consumed from the start of words and
// the matched entry, or 0 when nothing matches.
func (c *Corrector) matchAt(words []string, entries []entry, maxWords int) (int, entry, float64) {
	for n := min(maxWords, len(words)); n >= 1; n-- {
		window := make([]string, n)
		for i := range n {
			window[i] = core(words[i])
		}
		if slices.Contains(window, "") {
			continue
		}

		// Already canonical, e.g. a typed "defect_rate".
		if n == 1 {
			for _, e := range entries {
				if strings.EqualFold(window[0], e.name) {
					return 1, e, 1
				}
			}
			if len(window[0]) < minSingleWordLen {
				continue
			}
		}

		var (
			best      entry
			bestScore float64
			found     bool
		)
		for _, e := range entries {
			if len(e.tokens) != n {
				continue
			}
			score := tokenScore(window, e.tokens)
			threshold := c.fuzzyThreshold
			if phoneticMatch(window, e) {
				threshold = c.phoneticThreshold
			}
			if score >= threshold && score > bestScore {
				best, bestScore, found = e, score, true
			}
		}
		if found {
			return n, best, bestScore
		}
	}
	return 0, entry{}, 0
}

// tokenScore is the lowest Jaro-Winkler similarity between words at the
// same position.
func tokenScore(window, tokens []string) float64 {
	score := 1.0
	for i, w := range window {
		score = min(score, matchr.JaroWinkler(w, tokens[i], false))
	}
	return score
}

func phoneticMatch(window []string, e entry) bool {
	for i, w := range window {
		if !overlap(codes(w), e.codes[i]) {
			return false
		}
	}
	return true
}

// codes returns the non-empty Double Metaphone codes of word.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// splitPunct splits leading and trailing punctuation off a token.
func splitPunct(tok string) (lead, trail string) {
	core := strings.TrimFunc(tok, isPunct)
	if core == "" {
		return tok, ""
	}
	start := strings.Index(tok, core)
	return tok[:start], tok[start+len(core):]
}

// core returns tok without surrounding punctuation, lowercased.
func core(tok string) string {
	return strings.ToLower(strings.TrimFunc(tok, isPunct))
}

func isPunct(r rune) bool {
	return r != '_' && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}
