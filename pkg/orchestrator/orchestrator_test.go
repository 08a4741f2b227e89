package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thorprogramador/rugby-ios/pkg/collab/fake"
	"github.com/thorprogramador/rugby-ios/pkg/fingerprint"
	"github.com/thorprogramador/rugby-ios/pkg/journal"
	"github.com/thorprogramador/rugby-ios/pkg/mutator"
	"github.com/thorprogramador/rugby-ios/pkg/store"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

type fakeToolchain struct{}

func (fakeToolchain) Toolchain(context.Context) (fingerprint.ToolchainInfo, error) {
	return fingerprint.ToolchainInfo{SwiftVersion: "5.9", XcodeBase: "15.0", XcodeBuild: "15A240d"}, nil
}

func leaf(id target.Id, name string, kind target.Kind, deps ...target.Id) *target.Target {
	return &target.Target{
		Id:   id,
		Name: name,
		Kind: kind,
		Product: &target.Product{
			Name: name,
		},
		BuildPhases: []target.BuildPhase{
			{Name: "Sources", Files: []string{"a.swift"}},
		},
		Configurations: map[string]target.Configuration{
			"Debug": {Settings: map[string]string{"SWIFT_VERSION": "5.9"}},
		},
		ExplicitDependencies: deps,
	}
}

func newHarness(t *testing.T) (*Orchestrator, *fake.ProjectStore, *fake.NativeBuilder) {
	t.Helper()
	g := target.NewGraph()
	g.Targets["Common"] = leaf("Common", "Common", target.KindStaticLib)
	g.Targets["Networking"] = leaf("Networking", "Networking", target.KindStaticLib, "Common")
	g.Targets["App"] = leaf("App", "App", target.KindApplication, "Networking")

	root := t.TempDir()
	projectStore := &fake.ProjectStore{Graph: g}
	if err := projectStore.Write(context.Background(), root, g); err != nil {
		t.Fatalf("seeding project file: %v", err)
	}
	builder := &fake.NativeBuilder{
		Reader: projectStore,
		ArtifactDir: func(id target.Id) string {
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, "binary"), []byte(string(id)), 0o644)
			return dir
		},
	}
	st := store.New(filepath.Join(root, "cache"), &fake.Clock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, fake.Filesystem{Total: 1 << 30})
	j := journal.New(filepath.Join(root, "journal"), root)
	engine := fingerprint.NewEngine(fakeToolchain{})

	o := New(root, []string{"project.json"}, projectStore, projectStore, &fake.VCS{}, builder, st, j, engine)
	return o, projectStore, builder
}

func TestBuildCacheMissesAllThenUseHitsAll(t *testing.T) {
	o, _, builder := newHarness(t)

	report, err := o.BuildCache(context.Background(), Selection{}, target.BuildFlags{})
	if err != nil {
		t.Fatalf("BuildCache() = %v", err)
	}
	if len(report.Misses) != 2 {
		t.Fatalf("expected Common and Networking to miss on first build, got hits=%v misses=%v", report.Hits, report.Misses)
	}
	if builder.Calls != 1 {
		t.Errorf("expected exactly one native build invocation, got %d", builder.Calls)
	}
	if o.Journal.Exists(journal.Tmp) {
		t.Error("expected tmp snapshot to be discarded after a successful build")
	}

	report2, err := o.Use(context.Background(), Selection{}, target.BuildFlags{})
	if err != nil {
		t.Fatalf("Use() = %v", err)
	}
	if len(report2.Misses) != 0 {
		t.Errorf("expected a second Use() to hit everything, got misses=%v", report2.Misses)
	}
	if builder.Calls != 1 {
		t.Errorf("expected Use() not to invoke the native builder, got %d calls", builder.Calls)
	}
}

func TestBuildCacheMarksProjectPatched(t *testing.T) {
	o, projectStore, _ := newHarness(t)
	if _, err := o.BuildCache(context.Background(), Selection{}, target.BuildFlags{}); err != nil {
		t.Fatalf("BuildCache() = %v", err)
	}
	if !mutator.New(projectStore.Graph).IsPatched() {
		t.Error("expected project to be marked patched after BuildCache")
	}
	if _, ok := projectStore.Graph.Targets["rugby-aggregate-RugbyPods"]; ok {
		t.Error("expected the synthetic aggregate target to be dropped by Finalize")
	}
}

func TestRollbackRestoresOriginal(t *testing.T) {
	o, _, _ := newHarness(t)
	projectFile := filepath.Join(o.ProjectRoot, "project.json")
	before, err := os.ReadFile(projectFile)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.BuildCache(context.Background(), Selection{}, target.BuildFlags{}); err != nil {
		t.Fatalf("BuildCache() = %v", err)
	}
	afterBuild, err := os.ReadFile(projectFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) == string(afterBuild) {
		t.Fatal("expected BuildCache to have mutated the on-disk project")
	}

	if err := o.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback() = %v", err)
	}
	after, err := os.ReadFile(projectFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("expected rollback to restore the pre-build project bytes")
	}
}

func TestRollbackWithoutSnapshotFails(t *testing.T) {
	o, _, _ := newHarness(t)
	if err := o.Rollback(context.Background()); err == nil {
		t.Error("expected Rollback() with no prior build to fail")
	}
}

func TestSourceLocalChangesExceptsAffectedPackages(t *testing.T) {
	o, _, builder := newHarness(t)
	if _, err := o.BuildCache(context.Background(), Selection{}, target.BuildFlags{}); err != nil {
		t.Fatalf("BuildCache() = %v", err)
	}

	vcs := o.VCS.(*fake.VCS)
	vcs.Uncommitted = []string{"LocalPods/Networking/Sources/Client.swift"}

	report, err := o.SourceLocalChanges(context.Background(), Selection{}, target.BuildFlags{})
	if err != nil {
		t.Fatalf("SourceLocalChanges() = %v", err)
	}
	for _, id := range report.Hits {
		if id == "Networking" {
			t.Error("expected Networking to stay as source, not be patched to a binary")
		}
	}
	if builder.Calls != 1 {
		t.Errorf("expected no additional native build during SourceLocalChanges, got %d calls", builder.Calls)
	}
}

func TestIgnoreCacheForcesMissesButFinalizeStillPatches(t *testing.T) {
	o, projectStore, builder := newHarness(t)

	if _, err := o.BuildCache(context.Background(), Selection{}, target.BuildFlags{}); err != nil {
		t.Fatalf("BuildCache() = %v", err)
	}
	if builder.Calls != 1 {
		t.Fatalf("expected one build after the first BuildCache(), got %d", builder.Calls)
	}

	report, err := o.BuildCache(context.Background(), Selection{}, target.BuildFlags{IgnoreCache: true})
	if err != nil {
		t.Fatalf("BuildCache(IgnoreCache) = %v", err)
	}
	if len(report.Hits) != 0 {
		t.Errorf("expected IgnoreCache to report zero hits, got %v", report.Hits)
	}
	if len(report.Misses) != 2 {
		t.Errorf("expected IgnoreCache to treat both cacheable targets as misses, got %v", report.Misses)
	}
	if builder.Calls != 2 {
		t.Errorf("expected IgnoreCache to trigger a second native build, got %d calls", builder.Calls)
	}
	if !mutator.New(projectStore.Graph).IsPatched() {
		t.Error("expected Finalize to still patch linkage after an IgnoreCache rebuild")
	}

	report2, err := o.Use(context.Background(), Selection{}, target.BuildFlags{})
	if err != nil {
		t.Fatalf("Use() after IgnoreCache rebuild = %v", err)
	}
	if len(report2.Misses) != 0 {
		t.Errorf("expected a plain Use() after an IgnoreCache rebuild to hit everything, got misses=%v", report2.Misses)
	}
}

func TestRebuildRepatchesEveryCacheableTarget(t *testing.T) {
	o, projectStore, builder := newHarness(t)

	if _, err := o.BuildCache(context.Background(), Selection{}, target.BuildFlags{}); err != nil {
		t.Fatalf("BuildCache() = %v", err)
	}
	if builder.Calls != 1 {
		t.Fatalf("expected one build after the first BuildCache(), got %d", builder.Calls)
	}

	report, err := o.Rebuild(context.Background(), Selection{Except: map[string]bool{"Common": true}}, target.BuildFlags{})
	if err != nil {
		t.Fatalf("Rebuild() = %v", err)
	}
	if len(report.Hits) != 0 {
		t.Errorf("expected Rebuild to force-miss its entire explicit selection, got hits=%v", report.Hits)
	}
	if len(report.Misses) != 1 || report.Misses[0] != "Networking" {
		t.Errorf("expected Rebuild to force-miss the selected Networking target even though its fingerprint is unchanged, got %v", report.Misses)
	}
	if builder.Calls != 2 {
		t.Errorf("expected Rebuild to invoke the native builder once for the rebuilt target, got %d calls", builder.Calls)
	}
	if !mutator.New(projectStore.Graph).IsPatched() {
		t.Error("expected Rebuild's finalizeAll to leave the project patched")
	}
	if _, ok := projectStore.Graph.Targets["rugby-aggregate-RugbyRebuild"]; ok {
		t.Error("expected the rebuild's synthetic aggregate target to be dropped by Finalize")
	}
}

func TestNoBuildTargetsWhenSelectionExcludesEverything(t *testing.T) {
	o, _, _ := newHarness(t)
	sel := Selection{Except: map[string]bool{"Common": true, "Networking": true, "App": true}}
	if _, err := o.BuildCache(context.Background(), sel, target.BuildFlags{}); err != ErrNoBuildTargets {
		t.Errorf("BuildCache() err = %v, want ErrNoBuildTargets", err)
	}
}
