// Package orchestrator implements Orchestrator: the five workflows that
// drive a Rugby run (build/cache, use, rebuild, rollback,
// source-local-changes) by composing the fingerprint engine, the binary
// store, the project mutator, the backup journal, the impact analyzer and
// the project/VCS/native-builder collaborators.
package orchestrator

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/thorprogramador/rugby-ios/pkg/collab"
	"github.com/thorprogramador/rugby-ios/pkg/fingerprint"
	"github.com/thorprogramador/rugby-ios/pkg/impact"
	"github.com/thorprogramador/rugby-ios/pkg/journal"
	"github.com/thorprogramador/rugby-ios/pkg/mutator"
	"github.com/thorprogramador/rugby-ios/pkg/store"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// ErrNoBuildTargets is returned when a selection yields zero targets.
var ErrNoBuildTargets = errors.New("no build targets selected")

// denyListMarkers are substrings that exclude a target from every
// selection regardless of its kind or an explicit include regex matching
// it, e.g. generated development-only module wrappers.
var denyListMarkers = []string{"dev_modules"}

// Selection identifies the subset of a ProjectGraph's targets a workflow
// operates on: targets matching Include (nil matches everything), minus
// Except (matched by id or name), intersected with cacheable kinds.
type Selection struct {
	Include             *regexp.Regexp
	Except              map[string]bool
	IncludeAppsAndTests bool
}

// Report summarizes the outcome of a cache-affecting workflow.
type Report struct {
	Hits     []target.Id
	Misses   []target.Id
	Imported []target.Id
	Output   string
}

// Orchestrator drives Rugby's workflows. ProjectFiles lists the on-disk
// paths (relative to ProjectRoot) that make up the project manifest the
// BackupJournal snapshots; the manifest's concrete file format is owned by
// Reader/Writer and is opaque here.
type Orchestrator struct {
	ProjectRoot  string
	ProjectFiles []string

	Reader  collab.ProjectReader
	Writer  collab.ProjectWriter
	VCS     collab.VCS
	Builder collab.NativeBuilder

	Store   *store.Store
	Journal *journal.Journal
	Engine  *fingerprint.Engine

	// Logger defaults to log.Default() when nil.
	Logger *log.Logger
}

func New(projectRoot string, projectFiles []string, reader collab.ProjectReader, writer collab.ProjectWriter, vcs collab.VCS, builder collab.NativeBuilder, st *store.Store, j *journal.Journal, engine *fingerprint.Engine) *Orchestrator {
	return &Orchestrator{
		ProjectRoot:  projectRoot,
		ProjectFiles: projectFiles,
		Reader:       reader,
		Writer:       writer,
		VCS:          vcs,
		Builder:      builder,
		Store:        st,
		Journal:      j,
		Engine:       engine,
	}
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// BuildCache runs states Idle -> ReadProject -> FilterTargets -> SnapshotTmp
// -> Hash -> Plan -> Patch -> SaveProject -> NativeBuild -> Import ->
// Finalize -> Done, entering Recover on any fatal step failure.
func (o *Orchestrator) BuildCache(ctx context.Context, sel Selection, flags target.BuildFlags) (*Report, error) {
	flags = flags.WithDefaults()

	g, err := o.readUnpatched(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := selectTargets(g, sel)
	if err != nil {
		return nil, err
	}
	if err := o.snapshot(); err != nil {
		return nil, err
	}

	if err := o.Engine.Hash(ctx, g, selected, flags, false); err != nil {
		return nil, o.recover(err)
	}

	hits, misses, entries, err := o.plan(g, selected, flags)
	if err != nil {
		return nil, o.recover(err)
	}
	report := &Report{Hits: hits, Misses: misses}
	o.logger().Printf("orchestrator: build/cache selected %d targets, %d hits, %d misses", len(selected), len(hits), len(misses))

	if len(misses) == 0 {
		return o.finalize(ctx, selected, flags, report)
	}

	mut := mutator.New(g)
	if err := mut.PatchLinkage(linkagePlan(hits, entries)); err != nil {
		return nil, o.recover(err)
	}
	aggregate, err := mut.CreateAggregateTarget("RugbyPods", misses)
	if err != nil {
		return nil, o.recover(err)
	}
	if err := o.Writer.Write(ctx, o.ProjectRoot, g); err != nil {
		return nil, o.recover(err)
	}

	result, err := o.Builder.Build(ctx, o.ProjectRoot, aggregate, flags)
	if err != nil {
		return nil, o.recover(err)
	}
	report.Output = result.Output

	for _, id := range misses {
		t, err := g.Get(id)
		if err != nil {
			return nil, o.recover(err)
		}
		artifactDir, ok := result.ArtifactDirs[id]
		if !ok {
			continue
		}
		if _, err := o.Store.Import(t, flags, artifactDir); err != nil {
			return nil, o.recover(err)
		}
		report.Imported = append(report.Imported, id)
	}
	if _, err := o.Store.RefreshLatest(); err != nil {
		return nil, o.recover(err)
	}

	return o.finalize(ctx, selected, flags, report)
}

// Use mirrors BuildCache but never invokes the native builder: misses are
// reported, not built, and only the hits get linkage patched.
func (o *Orchestrator) Use(ctx context.Context, sel Selection, flags target.BuildFlags) (*Report, error) {
	flags = flags.WithDefaults()

	g, err := o.readUnpatched(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := selectTargets(g, sel)
	if err != nil {
		return nil, err
	}
	if err := o.snapshot(); err != nil {
		return nil, err
	}

	if err := o.Engine.Hash(ctx, g, selected, flags, false); err != nil {
		return nil, o.recover(err)
	}

	hits, misses, entries, err := o.plan(g, selected, flags)
	if err != nil {
		return nil, o.recover(err)
	}
	report := &Report{Hits: hits, Misses: misses}
	o.logger().Printf("orchestrator: use selected %d targets, %d hits, %d misses", len(selected), len(hits), len(misses))

	mut := mutator.New(g)
	if err := mut.PatchLinkage(linkagePlan(hits, entries)); err != nil {
		return nil, o.recover(err)
	}
	mut.MarkPatched()
	if err := o.Writer.Write(ctx, o.ProjectRoot, g); err != nil {
		return nil, o.recover(err)
	}
	if err := o.Journal.Discard(journal.Tmp); err != nil {
		return nil, err
	}
	return report, nil
}

// Rebuild resolves the selection against the pre-patched project (restoring
// "original" first if the project is already patched), builds only the
// explicitly requested misses with no dependency walk, then on success
// reapplies patches for every cache entry the store now has, not only the
// targets in this selection.
func (o *Orchestrator) Rebuild(ctx context.Context, sel Selection, flags target.BuildFlags) (*Report, error) {
	flags = flags.WithDefaults()

	g, err := o.readUnpatched(ctx)
	if err != nil {
		return nil, err
	}

	selected, err := selectTargets(g, sel)
	if err != nil {
		return nil, err
	}
	if err := o.snapshot(); err != nil {
		return nil, err
	}

	if err := o.Engine.Hash(ctx, g, selected, flags, false); err != nil {
		return nil, o.recover(err)
	}

	// A caller that names a target for rebuild means it rebuilt regardless
	// of whether its fingerprint still matches a cache entry: "rebuild
	// --targets Y" always reports Y as a miss.
	forced := flags
	forced.IgnoreCache = true
	hits, misses, entries, err := o.plan(g, selected, forced)
	if err != nil {
		return nil, o.recover(err)
	}
	report := &Report{Hits: hits, Misses: misses}
	o.logger().Printf("orchestrator: rebuild selected %d targets, %d hits, %d misses", len(selected), len(hits), len(misses))

	if len(misses) == 0 {
		return o.finalizeAll(ctx, flags, report)
	}

	mut := mutator.New(g)
	if err := mut.PatchLinkage(linkagePlan(hits, entries)); err != nil {
		return nil, o.recover(err)
	}
	aggregate, err := mut.CreateAggregateTarget("RugbyRebuild", misses)
	if err != nil {
		return nil, o.recover(err)
	}
	if err := o.Writer.Write(ctx, o.ProjectRoot, g); err != nil {
		return nil, o.recover(err)
	}

	result, err := o.Builder.Build(ctx, o.ProjectRoot, aggregate, flags)
	if err != nil {
		return nil, o.recover(err)
	}
	report.Output = result.Output

	for _, id := range misses {
		t, err := g.Get(id)
		if err != nil {
			return nil, o.recover(err)
		}
		artifactDir, ok := result.ArtifactDirs[id]
		if !ok {
			continue
		}
		if _, err := o.Store.Import(t, flags, artifactDir); err != nil {
			return nil, o.recover(err)
		}
		report.Imported = append(report.Imported, id)
	}
	if _, err := o.Store.RefreshLatest(); err != nil {
		return nil, o.recover(err)
	}

	return o.finalizeAll(ctx, flags, report)
}

// Rollback restores the "original" snapshot and discards any pending "tmp"
// snapshot.
func (o *Orchestrator) Rollback(ctx context.Context) error {
	if err := o.Journal.Restore(journal.Original); err != nil {
		return errors.Wrap(err, "rolling back")
	}
	o.logger().Printf("orchestrator: rolled back to the pre-build project snapshot")
	return o.Journal.Discard(journal.Tmp)
}

// SourceLocalChanges finds uncommitted files, derives the set of affected
// package names via the impact analyzer's path heuristic, rolls back, then
// re-runs Use with those package names added to Except so they stay as
// source while everything else re-binds to cached binaries.
func (o *Orchestrator) SourceLocalChanges(ctx context.Context, sel Selection, flags target.BuildFlags) (*Report, error) {
	uncommitted, err := o.VCS.UncommittedFiles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing uncommitted files")
	}
	affected := map[string]bool{}
	for _, p := range uncommitted {
		if name, ok := impact.PackageNameForPath(p); ok {
			affected[name] = true
		}
	}

	if err := o.Rollback(ctx); err != nil {
		return nil, err
	}

	augmented := Selection{Include: sel.Include, IncludeAppsAndTests: sel.IncludeAppsAndTests}
	augmented.Except = map[string]bool{}
	for k, v := range sel.Except {
		augmented.Except[k] = v
	}
	for name := range affected {
		augmented.Except[name] = true
	}
	o.logger().Printf("orchestrator: excluding %d locally-changed packages from binary linkage", len(affected))
	return o.Use(ctx, augmented, flags)
}

// readUnpatched loads the current project and, if it is already
// Rugby-patched, restores "original" first and rereads: every workflow
// must fingerprint a target's pre-patch structure, since the patch itself
// (injected search paths and linker flags) is not something a later run
// should fold back into that target's identity.
func (o *Orchestrator) readUnpatched(ctx context.Context) (*target.Graph, error) {
	g, err := o.Reader.Read(ctx, o.ProjectRoot)
	if err != nil {
		return nil, errors.Wrap(err, "reading project")
	}
	if !mutator.New(g).IsPatched() {
		return g, nil
	}
	if err := o.Journal.Restore(journal.Original); err != nil {
		return nil, errors.Wrap(err, "restoring original")
	}
	g, err = o.Reader.Read(ctx, o.ProjectRoot)
	if err != nil {
		return nil, errors.Wrap(err, "rereading restored project")
	}
	return g, nil
}

// snapshot implements the SnapshotTmp state: create "original" lazily if
// absent, then snapshot "tmp" unconditionally.
func (o *Orchestrator) snapshot() error {
	if !o.Journal.Exists(journal.Original) {
		if err := o.Journal.Snapshot(journal.Original, o.ProjectFiles); err != nil {
			return errors.Wrap(err, "snapshotting original")
		}
	}
	if err := o.Journal.Snapshot(journal.Tmp, o.ProjectFiles); err != nil {
		return errors.Wrap(err, "snapshotting tmp")
	}
	return nil
}

// recover implements the Recover state: restore "tmp", discard it, and
// propagate the original error unchanged.
func (o *Orchestrator) recover(cause error) error {
	o.Journal.Restore(journal.Tmp)
	o.Journal.Discard(journal.Tmp)
	return cause
}

// finalize implements the Finalize state for BuildCache/Use-shaped
// workflows: restore "tmp" to drop the synthetic aggregate target, reread
// the project, re-patch linkage for every id in candidates that now has a
// store entry, mark the project patched, save, and discard "tmp".
func (o *Orchestrator) finalize(ctx context.Context, candidates []target.Id, flags target.BuildFlags, report *Report) (*Report, error) {
	if err := o.Journal.Restore(journal.Tmp); err != nil {
		return nil, o.recover(err)
	}
	fresh, err := o.Reader.Read(ctx, o.ProjectRoot)
	if err != nil {
		return nil, o.recover(err)
	}
	if err := o.Engine.Hash(ctx, fresh, candidates, flags, false); err != nil {
		return nil, o.recover(err)
	}
	// Finalize always consults the store regardless of the caller's
	// IgnoreCache: it is re-patching with entries the earlier steps just
	// imported, not deciding what to build.
	_, _, entries, err := o.plan(fresh, candidates, withCacheLookup(flags))
	if err != nil {
		return nil, o.recover(err)
	}
	if err := o.patchAndSave(ctx, fresh, entries); err != nil {
		return nil, o.recover(err)
	}
	if err := o.Journal.Discard(journal.Tmp); err != nil {
		return nil, err
	}
	return report, nil
}

// finalizeAll is finalize's Rebuild variant: it re-patches every
// non-aggregate target in the graph that has a store entry, not only the
// targets in the current selection.
func (o *Orchestrator) finalizeAll(ctx context.Context, flags target.BuildFlags, report *Report) (*Report, error) {
	if err := o.Journal.Restore(journal.Tmp); err != nil {
		return nil, o.recover(err)
	}
	fresh, err := o.Reader.Read(ctx, o.ProjectRoot)
	if err != nil {
		return nil, o.recover(err)
	}
	candidates := allCacheableIds(fresh)
	if err := o.Engine.Hash(ctx, fresh, candidates, flags, false); err != nil {
		return nil, o.recover(err)
	}
	_, _, entries, err := o.plan(fresh, candidates, withCacheLookup(flags))
	if err != nil {
		return nil, o.recover(err)
	}
	if err := o.patchAndSave(ctx, fresh, entries); err != nil {
		return nil, o.recover(err)
	}
	if err := o.Journal.Discard(journal.Tmp); err != nil {
		return nil, err
	}
	return report, nil
}

func (o *Orchestrator) patchAndSave(ctx context.Context, g *target.Graph, entries map[target.Id]*store.CacheEntry) error {
	available := make([]target.Id, 0, len(entries))
	for id := range entries {
		available = append(available, id)
	}
	sort.Slice(available, func(i, j int) bool { return available[i] < available[j] })
	mut := mutator.New(g)
	if err := mut.PatchLinkage(linkagePlan(available, entries)); err != nil {
		return err
	}
	mut.MarkPatched()
	return o.Writer.Write(ctx, o.ProjectRoot, g)
}

// withCacheLookup returns a copy of flags with IgnoreCache cleared, for
// plan() calls that must see what the store actually holds (Finalize)
// rather than honor the caller's request to skip it (the initial Plan).
func withCacheLookup(flags target.BuildFlags) target.BuildFlags {
	flags.IgnoreCache = false
	return flags
}

// plan implements the Plan state: partition ids into hits (cache lookup
// succeeds) and misses. flags.IgnoreCache forces every id to miss without
// consulting the store, for a caller that wants a clean rebuild.
func (o *Orchestrator) plan(g *target.Graph, ids []target.Id, flags target.BuildFlags) (hits, misses []target.Id, entries map[target.Id]*store.CacheEntry, err error) {
	entries = map[target.Id]*store.CacheEntry{}
	if flags.IgnoreCache {
		return nil, ids, entries, nil
	}
	for _, id := range ids {
		t, err := g.Get(id)
		if err != nil {
			return nil, nil, nil, err
		}
		entry, err := o.Store.Lookup(t, flags)
		if err != nil {
			return nil, nil, nil, err
		}
		if entry != nil {
			hits = append(hits, id)
			entries[id] = entry
		} else {
			misses = append(misses, id)
		}
	}
	return hits, misses, entries, nil
}

func linkagePlan(ids []target.Id, entries map[target.Id]*store.CacheEntry) []mutator.LinkagePlanEntry {
	plan := make([]mutator.LinkagePlanEntry, 0, len(ids))
	for _, id := range ids {
		plan = append(plan, mutator.LinkagePlanEntry{TargetId: id, Entry: mutator.CacheEntryRef{Path: entries[id].Path}})
	}
	return plan
}

// selectTargets implements FilterTargets: apply the include regex and
// except list, the deny-list markers, and the cacheable-kind filter.
func selectTargets(g *target.Graph, sel Selection) ([]target.Id, error) {
	var ids []target.Id
	for id, t := range g.Targets {
		if sel.Except[string(id)] || sel.Except[t.Name] {
			continue
		}
		if sel.Include != nil && !sel.Include.MatchString(t.Name) {
			continue
		}
		if isDenied(t.Name) {
			continue
		}
		if !t.Kind.Cacheable(sel.IncludeAppsAndTests) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return nil, ErrNoBuildTargets
	}
	return ids, nil
}

func allCacheableIds(g *target.Graph) []target.Id {
	var ids []target.Id
	for id, t := range g.Targets {
		if t.Kind.Cacheable(false) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func isDenied(name string) bool {
	for _, marker := range denyListMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
