package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thorprogramador/rugby-ios/pkg/target"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type fakeFS struct{ total uint64 }

func (f fakeFS) UsageAt(string) (used, total uint64, err error) { return 0, f.total, nil }

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestImportThenLookupRoundTrip(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "lib.a"), "binary-content")

	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(root, clock, fakeFS{total: 1 << 30})

	tg := &target.Target{Id: "A", Product: &target.Product{Name: "A"}, Fingerprint: "deadbeef"}
	flags := target.BuildFlags{Config: "Debug", SDK: target.SDKSimulator, Arch: target.ArchArm64}

	entry, err := s.Import(tg, flags, src)
	if err != nil {
		t.Fatalf("Import() = %v", err)
	}
	if entry.Metadata.Fingerprint != "deadbeef" {
		t.Errorf("Metadata.Fingerprint = %q, want deadbeef", entry.Metadata.Fingerprint)
	}

	got, err := s.Lookup(tg, flags)
	if err != nil {
		t.Fatalf("Lookup() = %v", err)
	}
	if got == nil {
		t.Fatal("Lookup() = nil, want entry")
	}
	if got.Path != entry.Path {
		t.Errorf("Lookup().Path = %q, want %q", got.Path, entry.Path)
	}
	b, err := os.ReadFile(filepath.Join(got.Path, "lib.a"))
	if err != nil || string(b) != "binary-content" {
		t.Errorf("staged artifact missing or wrong: %v %q", err, b)
	}

	miss, err := s.Lookup(tg, target.BuildFlags{Config: "Release", SDK: target.SDKDevice, Arch: target.ArchArm64})
	if err != nil {
		t.Fatalf("Lookup() miss = %v", err)
	}
	if miss != nil {
		t.Error("Lookup() with different flags should miss")
	}
}

func TestEntriesRelPathRoundTripsIntoImportPath(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "lib.a"), "binary-content")

	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(root, clock, fakeFS{total: 1 << 30})
	tg := &target.Target{Id: "A", Product: &target.Product{Name: "A"}, Fingerprint: "deadbeef"}
	flags := target.BuildFlags{Config: "Debug", SDK: target.SDKSimulator, Arch: target.ArchArm64}
	entry, err := s.Import(tg, flags, src)
	if err != nil {
		t.Fatalf("Import() = %v", err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries() = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Entries() = %d entries, want 1", len(entries))
	}
	rel, err := s.RelPath(entries[0])
	if err != nil {
		t.Fatalf("RelPath() = %v", err)
	}
	if got := s.ImportPath(rel); got != entry.Path {
		t.Errorf("ImportPath(RelPath(entry)) = %q, want %q", got, entry.Path)
	}
}

func TestRefreshLatestPicksNewestPerGroup(t *testing.T) {
	root := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(root, clock, fakeFS{total: 1 << 30})

	tg := &target.Target{Id: "A", Product: &target.Product{Name: "A"}}
	flags := target.BuildFlags{Config: "Debug", SDK: target.SDKSimulator, Arch: target.ArchArm64}
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "x"), "1")

	tg.Fingerprint = "aaaa"
	old, err := s.Import(tg, flags, src)
	if err != nil {
		t.Fatal(err)
	}

	clock.t = clock.t.Add(time.Hour)
	tg.Fingerprint = "bbbb"
	newer, err := s.Import(tg, flags, src)
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.RefreshLatest()
	if err != nil {
		t.Fatalf("RefreshLatest() = %v", err)
	}
	if n != 1 {
		t.Fatalf("RefreshLatest() groups = %d, want 1", n)
	}
	b, err := os.ReadFile(filepath.Join(root, "+latest"))
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if got != newer.Path+"\n" {
		t.Errorf("+latest = %q, want %q (not %q)", got, newer.Path+"\n", old.Path+"\n")
	}
}

func TestRefreshLatestBacksUpExisting(t *testing.T) {
	root := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(root, clock, fakeFS{total: 1 << 30})
	writeFile(t, filepath.Join(root, "+latest"), "stale-path\n")

	tg := &target.Target{Id: "A", Product: &target.Product{Name: "A"}, Fingerprint: "aaaa"}
	flags := target.BuildFlags{Config: "Debug", SDK: target.SDKSimulator, Arch: target.ArchArm64}
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "x"), "1")
	if _, err := s.Import(tg, flags, src); err != nil {
		t.Fatal(err)
	}

	if _, err := s.RefreshLatest(); err != nil {
		t.Fatalf("RefreshLatest() = %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(root, "+latest.backup.*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one backup file, got %v", matches)
	}
	b, err := os.ReadFile(matches[0])
	if err != nil || string(b) != "stale-path\n" {
		t.Errorf("backup contents = %q, %v", b, err)
	}
}

func TestReclaimNeverRemovesKeptEntries(t *testing.T) {
	root := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(root, clock, fakeFS{total: 100})

	flags := target.BuildFlags{Config: "Debug", SDK: target.SDKSimulator, Arch: target.ArchArm64}
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "x"), "0123456789")

	tg := &target.Target{Id: "A", Product: &target.Product{Name: "A"}, Fingerprint: "aaaa"}
	entry, err := s.Import(tg, flags, src)
	if err != nil {
		t.Fatal(err)
	}

	freed, err := s.Reclaim(0.01, map[string]bool{entry.Path: true})
	if err != nil {
		t.Fatalf("Reclaim() = %v", err)
	}
	if freed != 0 {
		t.Errorf("Reclaim() freed %d bytes, want 0 (entry is kept)", freed)
	}
	if _, err := os.Stat(filepath.Join(entry.Path, "metadata.json")); err != nil {
		t.Errorf("kept entry was removed: %v", err)
	}
}
