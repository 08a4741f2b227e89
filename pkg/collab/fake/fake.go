// Package fake provides in-memory stand-ins for the pkg/collab capability
// interfaces, used throughout the orchestrator's tests.
package fake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/thorprogramador/rugby-ios/pkg/collab"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// projectFileName is the single manifest file ProjectStore round-trips a
// graph through, standing in for whatever real project file format a
// ProjectReader/ProjectWriter pair actually owns.
const projectFileName = "project.json"

// ProjectStore is a ProjectReader and ProjectWriter that serializes a graph
// to a JSON file under projectRoot, so tests exercise the same
// read-mutate-write-reread cycle a real project file format would: in
// particular, restoring a BackupJournal slot genuinely reverts what the
// next Read sees. Graph is the bootstrap value returned before any Write
// has created the file.
type ProjectStore struct {
	Graph     *target.Graph
	Writes    int
	FailWrite bool
}

func (p *ProjectStore) path(projectRoot string) string {
	return filepath.Join(projectRoot, projectFileName)
}

func (p *ProjectStore) Read(ctx context.Context, projectRoot string) (*target.Graph, error) {
	data, err := os.ReadFile(p.path(projectRoot))
	if os.IsNotExist(err) {
		return p.Graph, nil
	}
	if err != nil {
		return nil, err
	}
	var g target.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (p *ProjectStore) Write(ctx context.Context, projectRoot string, g *target.Graph) error {
	if p.FailWrite {
		return errWrite
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.path(projectRoot), data, 0o644); err != nil {
		return err
	}
	p.Graph = g
	p.Writes++
	return nil
}

var errWrite = &fakeError{"simulated write failure"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

// VCS is a scripted VCS.
type VCS struct {
	Changed     []string
	Uncommitted []string
	Dirty       bool
}

func (v *VCS) ChangedPathsSince(ctx context.Context, baseRef string) ([]string, error) {
	return v.Changed, nil
}

func (v *VCS) UncommittedFiles(ctx context.Context) ([]string, error) {
	return v.Uncommitted, nil
}

func (v *VCS) IsDirty(ctx context.Context) (bool, error) {
	return v.Dirty, nil
}

// NativeBuilder succeeds unless FailBuild is set, producing an artifact directory (from
// ArtifactDir) per dependency of the aggregate target it was asked to
// build. It rereads the aggregate through Reader rather than holding its
// own graph, so it always builds whatever the orchestrator most recently
// wrote.
type NativeBuilder struct {
	Reader      collab.ProjectReader
	ArtifactDir func(id target.Id) string
	FailBuild   bool
	Calls       int
}

func (b *NativeBuilder) Build(ctx context.Context, projectRoot string, aggregate target.Id, flags target.BuildFlags) (*collab.BuildResult, error) {
	b.Calls++
	if b.FailBuild {
		return nil, errWrite
	}
	g, err := b.Reader.Read(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	agg, err := g.Get(aggregate)
	if err != nil {
		return nil, err
	}
	dirs := map[target.Id]string{}
	for _, dep := range agg.ExplicitDependencies {
		if b.ArtifactDir != nil {
			dirs[dep] = b.ArtifactDir(dep)
		}
	}
	return &collab.BuildResult{Output: "build ok", ArtifactDirs: dirs}, nil
}

// Clock is a settable fake Clock.
type Clock struct{ T time.Time }

func (c *Clock) Now() time.Time { return c.T }

// Filesystem reports fixed capacity.
type Filesystem struct{ Total uint64 }

func (f Filesystem) UsageAt(string) (used, total uint64, err error) { return 0, f.Total, nil }
