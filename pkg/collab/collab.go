// Package collab declares the capability interfaces the orchestrator
// composes: everything that touches a filesystem, a VCS, a subprocess, or
// wall-clock time is an opaque collaborator injected by the caller rather
// than an ambient global, so the orchestrator and the engines above it stay
// deterministic and unit-testable.
package collab

import (
	"context"
	"time"

	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// ProjectReader loads a ProjectGraph from disk. The concrete project file
// format (Xcode project, workspace, pod manifest) is treated as an opaque
// external collaborator; ProjectReader is the seam where that format lives.
type ProjectReader interface {
	Read(ctx context.Context, projectRoot string) (*target.Graph, error)
}

// ProjectWriter persists a mutated ProjectGraph back to the project file
// format ProjectReader loaded it from.
type ProjectWriter interface {
	Write(ctx context.Context, projectRoot string, g *target.Graph) error
}

// VCS exposes the subset of version-control operations ImpactAnalyzer and
// the SourceLocalChanges workflow need.
type VCS interface {
	// ChangedPathsSince returns paths (relative to the repo root) changed
	// in commits reachable from HEAD but not from baseRef.
	ChangedPathsSince(ctx context.Context, baseRef string) ([]string, error)
	// UncommittedFiles returns paths with uncommitted working-tree changes.
	UncommittedFiles(ctx context.Context) ([]string, error)
	// IsDirty reports whether the working tree has any uncommitted change.
	IsDirty(ctx context.Context) (bool, error)
}

// BuildResult reports the outcome of a NativeBuilder invocation.
type BuildResult struct {
	Output       string
	ArtifactDirs map[target.Id]string
}

// NativeBuilder invokes the underlying native toolchain (xcodebuild or
// equivalent) against an aggregate target.
type NativeBuilder interface {
	Build(ctx context.Context, projectRoot string, aggregate target.Id, flags target.BuildFlags) (*BuildResult, error)
}

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// Filesystem reports the capacity of the volume hosting a path.
type Filesystem interface {
	UsageAt(path string) (usedBytes, totalBytes uint64, err error)
}

// SystemClock is the real-time Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
