// Package store implements the content-addressed on-disk binary cache:
// lookup, atomic import, the flat "+latest" pointer registry, usage
// accounting, and oldest-first reclamation with hysteresis.
package store

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// Clock abstracts wall-clock time so tests can control CreatedAt and
// reclamation ordering.
type Clock interface {
	Now() time.Time
}

// Filesystem reports the capacity of the volume hosting a path. Kept as a
// narrow collaborator interface so pkg/store never issues a raw syscall
// directly; the real implementation lives in pkg/collab.
type Filesystem interface {
	UsageAt(path string) (usedBytes, totalBytes uint64, err error)
}

// Metadata is the metadata.json sidecar written alongside every cache
// entry's artifacts.
type Metadata struct {
	Fingerprint string    `json:"fingerprint"`
	Product     string    `json:"product"`
	Config      string    `json:"config"`
	SDK         string    `json:"sdk"`
	Arch        string    `json:"arch"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CacheEntry is a located, populated cache directory.
type CacheEntry struct {
	Path     string
	Metadata Metadata
}

// leafNamePattern is the invariant scans rely on: a fingerprint directory
// name is always lowercase hex.
var leafNamePattern = regexp.MustCompile(`^[a-f0-9]+$`)

// Store is the BinaryStore. Root is the rugby cache root (the directory
// containing "bin" and "+latest").
type Store struct {
	Root  string
	Clock Clock
	FS    Filesystem
}

func New(root string, clock Clock, fs Filesystem) *Store {
	return &Store{Root: root, Clock: clock, FS: fs}
}

func (s *Store) binDir() string { return filepath.Join(s.Root, "bin") }

func (s *Store) entryDir(product string, g target.Group, fingerprint string) string {
	return filepath.Join(s.binDir(), product, g.DirName(), fingerprint)
}

// Lookup returns the cache entry for t's fingerprint under the given
// BuildFlags, or (nil, nil) if none exists.
func (s *Store) Lookup(t *target.Target, flags target.BuildFlags) (*CacheEntry, error) {
	if t.Fingerprint == "" {
		return nil, errors.New("target has no fingerprint")
	}
	product := productName(t)
	g := groupOf(t, flags)
	dir := s.entryDir(product, g, t.Fingerprint)
	meta, err := readMetadata(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading metadata for %s", dir)
	}
	return &CacheEntry{Path: dir, Metadata: *meta}, nil
}

// Import moves the contents of source (a directory of produced artifacts)
// into the store under the canonical key for (t, flags), writing the
// metadata.json sidecar. It stages in a temp directory alongside the final
// location and renames into place, so concurrent readers never observe a
// partially written entry.
func (s *Store) Import(t *target.Target, flags target.BuildFlags, source string) (*CacheEntry, error) {
	if t.Fingerprint == "" {
		return nil, errors.New("target has no fingerprint")
	}
	product := productName(t)
	g := groupOf(t, flags)
	finalDir := s.entryDir(product, g, t.Fingerprint)
	parent := filepath.Dir(finalDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache group directory")
	}
	stagingDir := finalDir + ".staging-" + randomSuffix()
	if err := copyTree(source, stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return nil, errors.Wrap(err, "staging artifacts")
	}
	meta := Metadata{
		Fingerprint: t.Fingerprint,
		Product:     product,
		Config:      g.Config,
		SDK:         string(g.SDK),
		Arch:        string(g.Arch),
		CreatedAt:   s.Clock.Now(),
	}
	if err := writeMetadata(stagingDir, meta); err != nil {
		os.RemoveAll(stagingDir)
		return nil, errors.Wrap(err, "writing metadata")
	}
	os.RemoveAll(finalDir)
	if err := os.Rename(stagingDir, finalDir); err != nil {
		os.RemoveAll(stagingDir)
		return nil, errors.Wrap(err, "renaming staged entry into place")
	}
	return &CacheEntry{Path: finalDir, Metadata: meta}, nil
}

// RefreshLatest walks the store, groups entries by (product, config-sdk-arch),
// and writes the path of the most recently created entry per group, one per
// line, to the "+latest" pointer file at the store root. It returns the
// number of groups recorded. Any existing "+latest" is preserved as a
// timestamped backup before being overwritten.
func (s *Store) RefreshLatest() (int, error) {
	entries, err := s.scan()
	if err != nil {
		return 0, errors.Wrap(err, "scanning store")
	}
	type key struct{ product, dir string }
	latest := map[key]CacheEntry{}
	for _, e := range entries {
		k := key{e.Metadata.Product, filepath.Base(filepath.Dir(e.Path))}
		if cur, ok := latest[k]; !ok || e.Metadata.CreatedAt.After(cur.Metadata.CreatedAt) {
			latest[k] = e
		}
	}
	keys := make([]key, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].product != keys[j].product {
			return keys[i].product < keys[j].product
		}
		return keys[i].dir < keys[j].dir
	})

	pointerPath := filepath.Join(s.Root, "+latest")
	if _, err := os.Stat(pointerPath); err == nil {
		backupPath := filepath.Join(s.Root, "+latest.backup."+s.Clock.Now().Format("20060102150405.000000"))
		if err := os.Rename(pointerPath, backupPath); err != nil {
			alt := backupPath + "-" + randomSuffix()
			if err2 := os.Rename(pointerPath, alt); err2 != nil {
				// Backing up is best-effort; proceed with the rewrite regardless.
			}
		}
	}

	var buf []byte
	for _, k := range keys {
		buf = append(buf, latest[k].Path...)
		buf = append(buf, '\n')
	}
	tmpPath := pointerPath + ".tmp-" + randomSuffix()
	if err := os.WriteFile(tmpPath, buf, 0o644); err != nil {
		return 0, errors.Wrap(err, "writing temp pointer file")
	}
	if err := os.Rename(tmpPath, pointerPath); err != nil {
		os.Remove(tmpPath)
		return 0, errors.Wrap(err, "renaming pointer file into place")
	}
	return len(keys), nil
}

// Entries returns every cache entry currently in the store, for callers
// (remote sync, `rugby upload`/`rugby download`) that need to enumerate the
// whole cache rather than look up a single target.
func (s *Store) Entries() ([]CacheEntry, error) {
	return s.scan()
}

// RelPath returns e's path relative to the store's bin/ directory: the
// stable, store-root-independent key a RemoteTransport object is addressed
// by.
func (s *Store) RelPath(e CacheEntry) (string, error) {
	return filepath.Rel(s.binDir(), e.Path)
}

// ImportPath returns the local directory an entry with relPath (as returned
// by RelPath, or downloaded under that same key) should be extracted into.
func (s *Store) ImportPath(relPath string) string {
	return filepath.Join(s.binDir(), relPath)
}

// Usage reports the store's footprint and the containing volume's capacity.
func (s *Store) Usage() (usedBytes, totalBytes uint64, fractionUsed float64, err error) {
	usedBytes, err = dirSize(s.binDir())
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "computing store size")
	}
	_, totalBytes, err = s.FS.UsageAt(s.Root)
	if err != nil {
		return usedBytes, 0, 0, errors.Wrap(err, "querying filesystem usage")
	}
	if totalBytes > 0 {
		fractionUsed = float64(usedBytes) / float64(totalBytes)
	}
	return usedBytes, totalBytes, fractionUsed, nil
}

// reclaimHysteresis is the suggested margin below limit that Reclaim
// targets, so a store hovering at exactly the limit isn't thrashed by
// back-to-back reclaim calls.
const reclaimHysteresis = 0.1

// Reclaim deletes cache entries oldest first, by entry directory
// modification time (see lastAccess), until the store's fraction of volume
// usage falls strictly below
// limit-reclaimHysteresis, skipping any entry whose path is in keep. It
// returns the number of bytes freed.
func (s *Store) Reclaim(limit float64, keep map[string]bool) (uint64, error) {
	_, _, fraction, err := s.Usage()
	if err != nil {
		return 0, err
	}
	if fraction < limit {
		return 0, nil
	}
	entries, err := s.scan()
	if err != nil {
		return 0, errors.Wrap(err, "scanning store")
	}
	sort.Slice(entries, func(i, j int) bool {
		ti, tj := lastAccess(entries[i].Path), lastAccess(entries[j].Path)
		return ti.Before(tj)
	})
	floor := limit - reclaimHysteresis
	var freed uint64
	for _, e := range entries {
		_, _, fraction, err := s.Usage()
		if err != nil {
			return freed, err
		}
		if fraction < floor {
			break
		}
		if keep[e.Path] {
			continue
		}
		size, err := dirSize(e.Path)
		if err != nil {
			return freed, errors.Wrapf(err, "sizing %s", e.Path)
		}
		if err := os.RemoveAll(e.Path); err != nil {
			return freed, errors.Wrapf(err, "removing %s", e.Path)
		}
		freed += size
	}
	return freed, nil
}

// scan walks bin/ for directories three levels deep whose leaf name matches
// leafNamePattern and that carry a readable metadata.json.
func (s *Store) scan() ([]CacheEntry, error) {
	var out []CacheEntry
	root := s.binDir()
	productDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, pd := range productDirs {
		if !pd.IsDir() {
			continue
		}
		groupDirs, err := os.ReadDir(filepath.Join(root, pd.Name()))
		if err != nil {
			return nil, err
		}
		for _, gd := range groupDirs {
			if !gd.IsDir() {
				continue
			}
			fpDirs, err := os.ReadDir(filepath.Join(root, pd.Name(), gd.Name()))
			if err != nil {
				return nil, err
			}
			for _, fd := range fpDirs {
				if !fd.IsDir() || !leafNamePattern.MatchString(fd.Name()) {
					continue
				}
				dir := filepath.Join(root, pd.Name(), gd.Name(), fd.Name())
				meta, err := readMetadata(dir)
				if err != nil {
					continue
				}
				out = append(out, CacheEntry{Path: dir, Metadata: *meta})
			}
		}
	}
	return out, nil
}

func productName(t *target.Target) string {
	if t.Product != nil && t.Product.Name != "" {
		return t.Product.Name
	}
	return string(t.Id)
}

func groupOf(t *target.Target, flags target.BuildFlags) target.Group {
	return target.Group{Product: productName(t), Config: flags.Config, SDK: flags.SDK, Arch: flags.Arch}
}

func readMetadata(dir string) (*Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "parsing metadata.json")
	}
	return &m, nil
}

func writeMetadata(dir string, m Metadata) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.json"), b, 0o644)
}

func randomSuffix() string {
	return uuid.NewString()
}

func dirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}

// lastAccess returns the entry directory's modification time, which tracks
// CreatedAt since entries are never edited in place after Import. Access
// times are not read, so reads of an entry do not affect its order.
func lastAccess(dir string) time.Time {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(dstPath, 0o755)
		}
		return copyFile(path, dstPath, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
