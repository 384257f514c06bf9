// Package discovery detects which hidden scenario variables a model answer
// disclosed and accumulates them per session.
//
// Two detection strategies share the [Detector] interface so a flow can pick
// one by configuration: [Substring] matches catalog names verbatim anywhere in
// the text, [JSONFragment] parses the first JSON object in the text and
// reports its keys. [Tracker] holds the monotonic discovered set.
package discovery

import (
	"slices"
)

// Kind is the category of a catalog variable.
type Kind int

const (
	KindMetric Kind = iota
	KindTarget
	KindModifier
)

// String returns the plural category name used in status payloads.
func (k Kind) String() string {
	switch k {
	case KindMetric:
		return "metrics"
	case KindTarget:
		return "targets"
	case KindModifier:
		return "modifiers"
	}
	return "unknown"
}

// Catalog is the set of hidden variable names of one scenario, grouped by
// kind. The zero value is an empty catalog. Catalog is immutable.
type Catalog struct {
	metrics   []string
	targets   []string
	modifiers []string
	kinds     map[string]Kind
}

// NewCatalog builds a catalog. Each group is sorted; a name listed under more
// than one kind keeps the first kind (metrics, then targets, then modifiers).
func NewCatalog(metrics, targets, modifiers []string) Catalog {
	c := Catalog{kinds: make(map[string]Kind, len(metrics)+len(targets)+len(modifiers))}
	c.metrics = c.add(KindMetric, metrics)
	c.targets = c.add(KindTarget, targets)
	c.modifiers = c.add(KindModifier, modifiers)
	return c
}

func (c *Catalog) add(k Kind, names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := c.kinds[n]; dup || n == "" {
			continue
		}
		c.kinds[n] = k
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Names returns every name: metrics, then targets, then modifiers.
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c.kinds))
	out = append(out, c.metrics...)
	out = append(out, c.targets...)
	return append(out, c.modifiers...)
}

// Of returns the sorted names of one kind.
func (c Catalog) Of(k Kind) []string {
	switch k {
	case KindMetric:
		return slices.Clone(c.metrics)
	case KindTarget:
		return slices.Clone(c.targets)
	case KindModifier:
		return slices.Clone(c.modifiers)
	}
	return nil
}

// Kind reports the kind of name and whether it is in the catalog.
func (c Catalog) Kind(name string) (Kind, bool) {
	k, ok := c.kinds[name]
	return k, ok
}

// Contains reports whether name is in the catalog.
func (c Catalog) Contains(name string) bool {
	_, ok := c.kinds[name]
	return ok
}

// Len returns the number of names in the catalog.
func (c Catalog) Len() int { return len(c.kinds) }
