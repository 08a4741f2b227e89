// Package impact implements ImpactAnalyzer: mapping a set of changed
// source-control paths to the test targets they affect.
package impact

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/thorprogramador/rugby-ios/pkg/collab"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// relevantSuffixes are the file extensions whose changes can affect a
// build's test impact; anything else (docs, CI config, etc.) is ignored.
var relevantSuffixes = []string{".swift", ".h", ".m", ".mm", ".c", ".cpp", ".podspec", ".xcconfig"}

// Analyzer computes impacted test targets from a VCS change set.
type Analyzer struct {
	VCS   collab.VCS
	Graph *target.Graph
}

func New(vcs collab.VCS, g *target.Graph) *Analyzer {
	return &Analyzer{VCS: vcs, Graph: g}
}

// Analyze returns the set of impacted test target ids. If baseRef is empty,
// uncommitted changes are used instead of a commit range.
func (a *Analyzer) Analyze(ctx context.Context, baseRef string) (map[target.Id]bool, error) {
	var changed []string
	var err error
	if baseRef == "" {
		changed, err = a.VCS.UncommittedFiles(ctx)
	} else {
		changed, err = a.VCS.ChangedPathsSince(ctx, baseRef)
	}
	if err != nil {
		return nil, errors.Wrap(err, "collecting changed paths")
	}

	var relevant []string
	for _, p := range changed {
		if hasRelevantSuffix(p) {
			relevant = append(relevant, p)
		}
	}

	var podspecChanges, sourceChanges []string
	for _, p := range relevant {
		if strings.HasSuffix(p, ".podspec") {
			podspecChanges = append(podspecChanges, p)
		} else {
			sourceChanges = append(sourceChanges, p)
		}
	}

	impacted := map[target.Id]bool{}
	for _, p := range podspecChanges {
		pkg := strings.TrimSuffix(path.Base(p), ".podspec")
		for _, t := range a.testTargets() {
			if dependsOnCaseInsensitive(t, pkg) {
				impacted[t.Id] = true
			}
		}
	}

	if len(sourceChanges) > 0 && len(impacted) == 0 {
		for _, t := range a.testTargets() {
			impacted[t.Id] = true
		}
	}

	return impacted, nil
}

func (a *Analyzer) testTargets() []*target.Target {
	var out []*target.Target
	for _, t := range a.Graph.Targets {
		if t.Kind == target.KindTests {
			out = append(out, t)
		}
	}
	return out
}

func dependsOnCaseInsensitive(t *target.Target, pkg string) bool {
	for _, dep := range t.ExplicitDependencies {
		if strings.EqualFold(string(dep), pkg) {
			return true
		}
	}
	return false
}

func hasRelevantSuffix(p string) bool {
	for _, s := range relevantSuffixes {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return false
}

// containerDirs are well-known directory names under which a package's
// source tree is rooted; the path component immediately following one of
// these (skipping conventional non-package subdirectories) is taken as the
// package name.
var containerDirs = map[string]bool{
	"services":   true,
	"frameworks": true,
	"modules":    true,
	"LocalPods":  true,
	"Pods":       true,
}

var nonPackageSubdirs = map[string]bool{
	"Sources":   true,
	"Tests":     true,
	"Resources": true,
	"Example":   true,
	"Demo":      true,
}

// PackageNameForPath implements the SourceLocalChanges heuristic: scan path
// components for a well-known container directory name and take the
// component that follows it, skipping conventional non-package
// subdirectories. Paths under ExternalFrameworks/ are ignored.
func PackageNameForPath(p string) (string, bool) {
	parts := strings.Split(path.Clean(filepathToSlash(p)), "/")
	for i, part := range parts {
		if part == "ExternalFrameworks" {
			return "", false
		}
		if containerDirs[part] && i+1 < len(parts) {
			for j := i + 1; j < len(parts); j++ {
				if nonPackageSubdirs[parts[j]] {
					continue
				}
				return parts[j], true
			}
		}
	}
	return "", false
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
