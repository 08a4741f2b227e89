// Package mutator implements ProjectMutator: synchronous, idempotent,
// value-level rewrites of a target.Graph. It never touches disk; persisting
// a mutated graph is the caller's job via a ProjectWriter.
package mutator

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// patchedMarker is the sentinel graph-metadata key stamped by MarkPatched.
const patchedMarker = "rugby.patched"

// CacheEntryRef is the minimal view of a store.CacheEntry that patchLinkage
// needs, kept local to avoid pkg/mutator depending on pkg/store.
type CacheEntryRef struct {
	Path string
}

// LinkagePlanEntry pairs a target with the cache entry its sources should be
// replaced by.
type LinkagePlanEntry struct {
	TargetId target.Id
	Entry    CacheEntryRef
}

// Mutator applies ProjectMutator operations to a single in-memory graph.
type Mutator struct {
	Graph *target.Graph
}

func New(g *target.Graph) *Mutator { return &Mutator{Graph: g} }

// MarkPatched stamps the graph as Rugby-managed. Idempotent.
func (m *Mutator) MarkPatched() {
	if m.Graph.Metadata == nil {
		m.Graph.Metadata = map[string]string{}
	}
	m.Graph.Metadata[patchedMarker] = "true"
}

// IsPatched reports whether MarkPatched has already run on this graph.
func (m *Mutator) IsPatched() bool {
	return m.Graph.Metadata[patchedMarker] == "true"
}

// rugbyLinkSettingKeys are the build settings patchLinkage rewrites. They
// are replaced wholesale, not merged, since the cached artifact's location
// fully determines them for a patched target.
var rugbyLinkSettingKeys = []string{
	"FRAMEWORK_SEARCH_PATHS",
	"LIBRARY_SEARCH_PATHS",
	"HEADER_SEARCH_PATHS",
	"OTHER_LDFLAGS",
}

// PatchLinkage rewrites, for each entry in plan, the target's link settings
// to point at the cached artifact and drops its compile phases, leaving
// every other setting and phase untouched. Idempotent: re-applying the same
// plan produces the same graph.
func (m *Mutator) PatchLinkage(plan []LinkagePlanEntry) error {
	for _, p := range plan {
		t, err := m.Graph.Get(p.TargetId)
		if err != nil {
			return errors.Wrapf(err, "patching %s", p.TargetId)
		}
		values := map[string]string{
			"FRAMEWORK_SEARCH_PATHS": p.Entry.Path,
			"LIBRARY_SEARCH_PATHS":   p.Entry.Path,
			"HEADER_SEARCH_PATHS":    p.Entry.Path + "/include",
			"OTHER_LDFLAGS":          "-l" + string(t.Id),
		}
		for name, cfg := range t.Configurations {
			if cfg.Settings == nil {
				cfg.Settings = map[string]string{}
			}
			for _, key := range rugbyLinkSettingKeys {
				cfg.Settings[key] = values[key]
			}
			t.Configurations[name] = cfg
		}
		t.BuildPhases = compilePhasesRemoved(t.BuildPhases)
	}
	return nil
}

func compilePhasesRemoved(phases []target.BuildPhase) []target.BuildPhase {
	var kept []target.BuildPhase
	for _, p := range phases {
		if p.Name == "Sources" || p.Name == "Compile Sources" {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// CreateAggregateTarget inserts a synthetic Target named name with kind
// aggregate, depending on every id in dependencies, and returns its Id. The
// aggregate serves as a single entry point for the native builder to
// compile all residue targets in one invocation.
func (m *Mutator) CreateAggregateTarget(name string, dependencies []target.Id) (target.Id, error) {
	id := target.Id("rugby-aggregate-" + name)
	if _, err := m.Graph.Get(id); err == nil {
		return "", errors.Errorf("aggregate target %s already exists", id)
	}
	deps := append([]target.Id(nil), dependencies...)
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	m.Graph.Targets[id] = &target.Target{
		Id:                   id,
		Name:                 name,
		Kind:                 target.KindAggregate,
		ExplicitDependencies: deps,
	}
	return id, nil
}

// RemoveGroups drops the named targets from the graph entirely, along with
// any dependency edges pointing at them, at the target granularity this
// graph operates at.
func (m *Mutator) RemoveGroups(ids []target.Id) {
	for _, id := range ids {
		delete(m.Graph.Targets, id)
	}
	for _, t := range m.Graph.Targets {
		t.ExplicitDependencies = withoutIds(t.ExplicitDependencies, ids)
	}
}

func withoutIds(deps []target.Id, remove []target.Id) []target.Id {
	drop := make(map[target.Id]bool, len(remove))
	for _, r := range remove {
		drop[r] = true
	}
	var kept []target.Id
	for _, d := range deps {
		if !drop[d] {
			kept = append(kept, d)
		}
	}
	return kept
}

// ResetCache drops every target's memoized transitive-closure and
// fingerprint state so subsequent reads recompute from the graph's current
// contents.
func (m *Mutator) ResetCache() {
	for _, t := range m.Graph.Targets {
		t.Fingerprint = ""
		t.FingerprintContext = ""
		t.ResetResolution()
	}
}
