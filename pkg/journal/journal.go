// Package journal implements BackupJournal: a two-slot, crash-safe backup
// of the project files Rugby is about to mutate, so any interrupted
// workflow can be unwound back to a known-good state.
package journal

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Slot names the two backup directories a Journal manages.
type Slot string

const (
	// Original is created lazily on the first mutation of a clean project
	// and retained until an explicit rollback.
	Original Slot = "original"
	// Tmp is created at the start of every mutating workflow and discarded
	// on success; on failure or signal it is restored, then discarded.
	Tmp Slot = "tmp"
)

// ErrNoSnapshot is returned by Restore when the requested slot has never
// been populated.
var ErrNoSnapshot = errors.New("no snapshot in slot")

// Journal manages backup slots rooted under Root (typically
// "<rugbyRoot>/.journal").
type Journal struct {
	Root        string
	ProjectRoot string
}

func New(root, projectRoot string) *Journal {
	return &Journal{Root: root, ProjectRoot: projectRoot}
}

func (j *Journal) slotDir(s Slot) string {
	return filepath.Join(j.Root, string(s))
}

// Exists reports whether slot has a snapshot.
func (j *Journal) Exists(s Slot) bool {
	info, err := os.Stat(j.slotDir(s))
	return err == nil && info.IsDir()
}

// Snapshot copies every file in files (paths relative to ProjectRoot) into
// slot, overwriting any prior snapshot in that slot.
func (j *Journal) Snapshot(s Slot, files []string) error {
	dir := j.slotDir(s)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "clearing slot %s", s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating slot %s", s)
	}
	for _, rel := range files {
		src := filepath.Join(j.ProjectRoot, rel)
		dst := filepath.Join(dir, rel)
		if err := copyFile(src, dst); err != nil {
			return errors.Wrapf(err, "snapshotting %s", rel)
		}
	}
	return nil
}

// Restore copies every file from slot back into ProjectRoot.
func (j *Journal) Restore(s Slot) error {
	dir := j.slotDir(s)
	if !j.Exists(s) {
		return errors.Wrapf(ErrNoSnapshot, "slot %s", s)
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return copyFile(path, filepath.Join(j.ProjectRoot, rel))
	})
}

// Discard deletes slot entirely. Discarding an empty slot is not an error.
func (j *Journal) Discard(s Slot) error {
	return os.RemoveAll(j.slotDir(s))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
