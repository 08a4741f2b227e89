// Package target defines the shared data model for Rugby's build-target
// graph: the Target/ProjectGraph value types that flow through the
// fingerprint engine, the binary store, and the orchestrator.
package target

import "github.com/pkg/errors"

// Id identifies a Target uniquely and stably across runs for the same
// underlying project.
type Id string

// Kind classifies the product a Target builds.
type Kind string

const (
	KindFramework       Kind = "framework"
	KindStaticLib       Kind = "staticLib"
	KindDynLib          Kind = "dynLib"
	KindResourceBundle  Kind = "resourceBundle"
	KindTests           Kind = "tests"
	KindApplication     Kind = "application"
	KindAggregate       Kind = "aggregate"
	KindOther           Kind = "other"
)

// Product describes the artifact a Target produces.
type Product struct {
	Name         string
	ModuleName   string
	Type         string
	ParentFolder string
}

// ScriptPhase is an opaque build-phase script, hashed by a ScriptsHasher
// collaborator and otherwise untouched by this package.
type ScriptPhase struct {
	Name   string
	Shell  string
	Script string
}

// BuildPhase is an opaque build phase, hashed by a BuildPhaseHasher
// collaborator.
type BuildPhase struct {
	Name  string
	Files []string
}

// BuildRule is an opaque custom build rule, hashed by a BuildRulesHasher
// collaborator, in declared order.
type BuildRule struct {
	Name    string
	Pattern string
	Script  string
}

// Configuration holds the build settings for one named configuration
// (e.g. "Debug", "Release"). Settings is the raw key/value map; the
// ConfigurationsHasher collaborator is responsible for excluding
// path-valued keys before hashing, so fingerprints stay stable across
// checkouts at different paths.
type Configuration struct {
	Settings map[string]string
}

// Target is a single unit of compilation in the underlying project.
type Target struct {
	Id      Id
	Name    string
	Kind    Kind
	Product *Product

	BuildRules     []BuildRule
	Configurations map[string]Configuration
	// BuildPhases and ScriptPhases are ordered; order is significant to
	// fingerprinting.
	BuildPhases  []BuildPhase
	ScriptPhases []ScriptPhase

	// ExplicitDependencies holds only direct edges. Never read the
	// transitive closure for fingerprinting.
	ExplicitDependencies []Id

	// resolvedDependencies is the lazily materialized transitive closure,
	// memoized on first Resolve call.
	resolvedDependencies []Id
	resolved             bool

	// FingerprintContext and Fingerprint are set once per run by the
	// fingerprint engine and memoized on the target. They are exported so
	// callers (the orchestrator, tests) can inspect them, but only
	// FingerprintEngine is expected to set them.
	FingerprintContext string
	Fingerprint        string
}

// Graph is the mapping TargetId -> Target, plus workspace metadata,
// produced by a ProjectReader and mutated only through a ProjectMutator.
type Graph struct {
	Targets  map[Id]*Target
	Metadata map[string]string
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{Targets: map[Id]*Target{}, Metadata: map[string]string{}}
}

// ErrUnknownTarget is returned when a TargetId has no corresponding Target
// in the graph.
var ErrUnknownTarget = errors.New("unknown target id")

// Get returns the Target for id, or ErrUnknownTarget.
func (g *Graph) Get(id Id) (*Target, error) {
	t, ok := g.Targets[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTarget, "%s", id)
	}
	return t, nil
}

// Resolve computes and memoizes t's transitive closure of
// ExplicitDependencies, tolerating cycles by visiting each id at most once.
func (g *Graph) Resolve(id Id) ([]Id, error) {
	t, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	if t.resolved {
		return t.resolvedDependencies, nil
	}
	seen := map[Id]bool{id: true}
	var order []Id
	var visit func(Id) error
	visit = func(cur Id) error {
		ct, err := g.Get(cur)
		if err != nil {
			return err
		}
		for _, dep := range ct.ExplicitDependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			order = append(order, dep)
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(id); err != nil {
		return nil, err
	}
	t.resolvedDependencies = order
	t.resolved = true
	return order, nil
}

// ResetResolution discards the memoized transitive-closure computed by
// Resolve, forcing the next call to recompute it from
// ExplicitDependencies.
func (t *Target) ResetResolution() {
	t.resolved = false
	t.resolvedDependencies = nil
}

// Cacheable reports whether a Target's Kind is eligible for binary-cache
// substitution under the default selection policy: applications and test
// bundles are excluded unless the caller explicitly asks for them.
func (k Kind) Cacheable(includeApplicationsAndTests bool) bool {
	switch k {
	case KindApplication, KindTests:
		return includeApplicationsAndTests
	case KindAggregate:
		return false
	default:
		return true
	}
}
