package gitvcs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var testSignature = object.Signature{Name: "Test", Email: "test@example.com", When: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

func initRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	write := func(name, contents string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatal(err)
		}
	}
	commit := func(msg string) string {
		h, err := wt.Commit(msg, &git.CommitOptions{
			Author: &testSignature,
		})
		if err != nil {
			t.Fatal(err)
		}
		return h.String()
	}

	write("a.swift", "// v1")
	base := commit("base")
	write("b.swift", "// new file")
	write("a.swift", "// v2")
	commit("second")
	return dir, base
}

func TestChangedPathsSinceReturnsCommitsAfterBase(t *testing.T) {
	dir, base := initRepo(t)
	repo, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	paths, err := repo.ChangedPathsSince(context.Background(), base)
	if err != nil {
		t.Fatalf("ChangedPathsSince() = %v", err)
	}
	sort.Strings(paths)
	want := []string{"a.swift", "b.swift"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("ChangedPathsSince() = %v, want %v", paths, want)
	}
}

func TestUncommittedFilesAndIsDirty(t *testing.T) {
	dir, _ := initRepo(t)
	repo, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	dirty, err := repo.IsDirty(context.Background())
	if err != nil {
		t.Fatalf("IsDirty() = %v", err)
	}
	if dirty {
		t.Error("expected clean worktree right after commit")
	}

	if err := os.WriteFile(filepath.Join(dir, "c.swift"), []byte("uncommitted"), 0o644); err != nil {
		t.Fatal(err)
	}
	dirty, err = repo.IsDirty(context.Background())
	if err != nil {
		t.Fatalf("IsDirty() = %v", err)
	}
	if !dirty {
		t.Error("expected dirty worktree after untracked file added")
	}
	files, err := repo.UncommittedFiles(context.Background())
	if err != nil {
		t.Fatalf("UncommittedFiles() = %v", err)
	}
	if len(files) != 1 || files[0] != "c.swift" {
		t.Errorf("UncommittedFiles() = %v, want [c.swift]", files)
	}
}
