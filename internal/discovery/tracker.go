package discovery

import (
	"sync"
)

// Status is the per-kind discovery state of a session.
type Status struct {
	Metrics   map[string]bool `json:"metrics"`
	Targets   map[string]bool `json:"targets"`
	Modifiers map[string]bool `json:"modifiers"`
}

// Tracker accumulates the discovered set of one session. Names only ever get
// added. Tracker is safe for concurrent use.
type Tracker struct {
	catalog Catalog

	mu         sync.Mutex
	discovered map[string]struct{}
	order      []string
}

// NewTracker returns a tracker over catalog with nothing discovered.
func NewTracker(catalog Catalog) *Tracker {
	return &Tracker{
		catalog:    catalog,
		discovered: make(map[string]struct{}, catalog.Len()),
	}
}

// Catalog returns the catalog the tracker checks against.
func (t *Tracker) Catalog() Catalog { return t.catalog }

// Record adds every catalog name in names to the discovered set and returns
// the ones that were not discovered before. Unknown and repeated names are
// ignored.
func (t *Tracker) Record(names []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var newly []string
	for _, n := range names {
		if !t.catalog.Contains(n) {
			continue
		}
		if _, ok := t.discovered[n]; ok {
			continue
		}
		t.discovered[n] = struct{}{}
		t.order = append(t.order, n)
		newly = append(newly, n)
	}
	return newly
}

// IsDiscovered reports whether name has been recorded.
func (t *Tracker) IsDiscovered(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.discovered[name]
	return ok
}

// AllDiscovered reports whether every metric, target and modifier has been
// recorded. An empty catalog is trivially complete.
func (t *Tracker) AllDiscovered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.discovered) == t.catalog.Len()
}

// Discovered returns the discovered names in the order they were recorded.
func (t *Tracker) Discovered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// DiscoveredOf returns the discovered names of one kind in catalog order.
func (t *Tracker) DiscoveredOf(k Kind) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, n := range t.catalog.Of(k) {
		if _, ok := t.discovered[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Status returns a snapshot of the discovery state of every catalog name.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Metrics:   t.statusOf(KindMetric),
		Targets:   t.statusOf(KindTarget),
		Modifiers: t.statusOf(KindModifier),
	}
}

func (t *Tracker) statusOf(k Kind) map[string]bool {
	names := t.catalog.Of(k)
	m := make(map[string]bool, len(names))
	for _, n := range names {
		_, m[n] = t.discovered[n]
	}
	return m
}
