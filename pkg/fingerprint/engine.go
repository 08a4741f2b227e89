package fingerprint

import (
	"context"
	"crypto"
	"sync"

	"github.com/pkg/errors"

	"github.com/thorprogramador/rugby-ios/internal/cache"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// cycleSentinel is substituted for a dependency's fingerprint when that
// dependency is already an ancestor of the target being fingerprinted (i.e.
// the explicit-dependency graph has a cycle reachable from this target). It
// is a fixed literal so that the resulting context stays byte-stable across
// runs that traverse the same graph in the same order. Which edge of a
// cycle receives the sentinel depends on which member the traversal enters
// first, so a cycle member's fingerprint can differ between runs that start
// from different targets.
const cycleSentinel = "<cycle>"

type hasherSet struct {
	buildPhases    BuildPhaseHasher
	buildRules     BuildRulesHasher
	scripts        ScriptsHasher
	configurations ConfigurationsHasher
}

// Engine computes target fingerprints per the dependency-ordered,
// memoized traversal: a target's fingerprint never depends on more than its
// own declared structure and its direct dependencies' fingerprints.
type Engine struct {
	Toolchain      ToolchainProvider
	BuildPhases    BuildPhaseHasher
	BuildRules     BuildRulesHasher
	Scripts        ScriptsHasher
	Configurations ConfigurationsHasher

	// MaxParallel bounds concurrent fingerprinting of independent subgraphs
	// in HashIndependent. Zero means unbounded.
	MaxParallel int
}

// NewEngine constructs an Engine with the default collaborator hashers.
func NewEngine(tc ToolchainProvider) *Engine {
	return &Engine{
		Toolchain:      tc,
		BuildPhases:    DefaultBuildPhaseHasher{},
		BuildRules:     DefaultBuildRulesHasher{},
		Scripts:        DefaultScriptsHasher{},
		Configurations: DefaultConfigurationsHasher{},
	}
}

func (e *Engine) hashers() hasherSet {
	return hasherSet{
		buildPhases:    e.BuildPhases,
		buildRules:     e.BuildRules,
		scripts:        e.Scripts,
		configurations: e.Configurations,
	}
}

// Hash fingerprints every target in ids and its transitive closure of
// explicit dependencies, writing the result onto each target's Fingerprint
// and FingerprintContext fields. If rehash is false, a target that already
// carries a non-empty Fingerprint is left untouched and its existing value
// is used as-is when it participates in a dependent's context. The
// traversal is dependency-ordered and tolerates cycles: an edge into a
// target that is still an ancestor of itself in the current walk
// contributes cycleSentinel instead of recursing.
func (e *Engine) Hash(ctx context.Context, g *target.Graph, ids []target.Id, flags target.BuildFlags, rehash bool) error {
	tc, err := e.Toolchain.Toolchain(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving toolchain")
	}
	memo := &cache.CoalescingMemoryCache{}
	hashers := e.hashers()
	for _, id := range ids {
		if _, err := e.resolve(g, id, flags, tc, rehash, memo, hashers, nil); err != nil {
			return errors.Wrapf(err, "fingerprinting %s", id)
		}
	}
	return nil
}

func (e *Engine) resolve(g *target.Graph, id target.Id, flags target.BuildFlags, tc ToolchainInfo, rehash bool, memo *cache.CoalescingMemoryCache, hashers hasherSet, ancestors map[target.Id]bool) (string, error) {
	if ancestors[id] {
		return cycleSentinel, nil
	}
	t, err := g.Get(id)
	if err != nil {
		return "", err
	}
	if !rehash && t.Fingerprint != "" {
		return t.Fingerprint, nil
	}
	childAncestors := make(map[target.Id]bool, len(ancestors)+1)
	for a := range ancestors {
		childAncestors[a] = true
	}
	childAncestors[id] = true

	v, err := memo.GetOrSet(id, func() (any, error) {
		depFingerprints := make(map[target.Id]string, len(t.ExplicitDependencies))
		for _, dep := range t.ExplicitDependencies {
			fp, err := e.resolve(g, dep, flags, tc, rehash, memo, hashers, childAncestors)
			if err != nil {
				return nil, errors.Wrapf(err, "resolving dependency %s", dep)
			}
			depFingerprints[dep] = fp
		}
		docText, err := canonicalContext(t, flags, tc, depFingerprints, hashers)
		if err != nil {
			return nil, errors.Wrap(err, "building canonical context")
		}
		h := crypto.SHA256.New()
		h.Write([]byte(docText))
		sum := h.Sum(nil)
		fp := hexEncode(sum)
		t.FingerprintContext = docText
		t.Fingerprint = fp
		return fp, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// HashIndependent fingerprints several disjoint root sets concurrently. The
// caller is responsible for ensuring the partitions share no targets;
// concurrent memoized access to a shared target across partitions is safe
// but defeats the purpose of partitioning.
func (e *Engine) HashIndependent(ctx context.Context, g *target.Graph, partitions [][]target.Id, flags target.BuildFlags, rehash bool) error {
	tc, err := e.Toolchain.Toolchain(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving toolchain")
	}
	memo := &cache.CoalescingMemoryCache{}
	hashers := e.hashers()

	max := e.MaxParallel
	if max <= 0 {
		max = len(partitions)
	}
	if max < 1 {
		max = 1
	}
	semaphore := make(chan struct{}, max)
	var wg sync.WaitGroup
	errs := make([]error, len(partitions))
	for i, part := range partitions {
		i, part := i, part
		wg.Add(1)
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			wg.Done()
			continue
		}
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			for _, id := range part {
				if _, err := e.resolve(g, id, flags, tc, rehash, memo, hashers, nil); err != nil {
					errs[i] = errors.Wrapf(err, "fingerprinting %s", id)
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
