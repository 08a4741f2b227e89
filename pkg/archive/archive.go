// Copyright 2024 The OSS Rebuild Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var AllStabilizers = AllZipStabilizers

// Stabilize selects and applies the default stabilization routine for the given archive format.
func Stabilize(dst io.Writer, src io.Reader, f Format) error {
	return StabilizeWithOpts(dst, src, f, StabilizeOpts{Stabilizers: AllStabilizers})
}

// StabilizeWithOpts selects and applies the provided stabilization routine for the given archive format.
func StabilizeWithOpts(dst io.Writer, src io.Reader, f Format, opts StabilizeOpts) error {
	switch f {
	case ZipFormat:
		srcReader, size, err := toZipCompatibleReader(src)
		if err != nil {
			return errors.Wrap(err, "converting reader")
		}
		zr, err := zip.NewReader(srcReader, size)
		if err != nil {
			return errors.Wrap(err, "initializing zip reader")
		}
		zw := zip.NewWriter(dst)
		defer zw.Close()
		if err := StabilizeZip(zr, zw, opts); err != nil {
			return errors.Wrap(err, "stabilizing zip")
		}
	default:
		return errors.New("unsupported archive format")
	}
	return nil
}

// NewContentSummary constructs a ContentSummary for the given archive format.
func NewContentSummary(src io.Reader, f Format) (*ContentSummary, error) {
	switch f {
	case ZipFormat:
		srcReader, size, err := toZipCompatibleReader(src)
		if err != nil {
			return nil, errors.Wrap(err, "converting reader")
		}
		zr, err := zip.NewReader(srcReader, size)
		if err != nil {
			return nil, errors.Wrap(err, "initializing zip reader")
		}
		return NewContentSummaryFromZip(zr)
	default:
		return nil, errors.New("unsupported archive format")
	}
}

// CompressDir walks root and writes every regular file it contains into a
// new zip archive, with paths made relative to root and forward-slashed,
// then runs the archive through the stabilizer pipeline so that two cache
// entries with byte-identical file content produce a byte-identical
// archive regardless of local filesystem timestamps or iteration order.
// This is the per-object archiving step of the remote transport. The
// stabilizer pipeline rewrites every entry with zip.Store, so the archive
// holds its files uncompressed; no deflate level is applied. 7z is not
// implemented (see the Format constants).
func CompressDir(dst io.Writer, root string) (*ContentSummary, error) {
	var paths []string
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "walking cache entry directory")
	}
	sort.Strings(paths)
	raw := new(bytes.Buffer)
	zw := zip.NewWriter(raw)
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, errors.Wrap(err, "relativizing path")
		}
		rel = filepath.ToSlash(rel)
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", path)
		}
		fh, err := zip.FileInfoHeader(info)
		if err != nil {
			return nil, errors.Wrapf(err, "building header for %s", rel)
		}
		fh.Name = rel
		fh.Method = zip.Deflate
		w, err := zw.CreateHeader(fh)
		if err != nil {
			return nil, errors.Wrapf(err, "creating zip entry %s", rel)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		if _, err := w.Write(b); err != nil {
			return nil, errors.Wrapf(err, "writing zip entry %s", rel)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing zip writer")
	}
	if err := StabilizeWithOpts(dst, bytes.NewReader(raw.Bytes()), ZipFormat, StabilizeOpts{Stabilizers: AllStabilizers}); err != nil {
		return nil, errors.Wrap(err, "stabilizing archive")
	}
	return NewContentSummary(bytes.NewReader(raw.Bytes()), ZipFormat)
}

// ExtractZip reverses CompressDir: it reads a zip archive and recreates its
// files rooted at dir.
func ExtractZip(dir string, src io.ReaderAt, size int64) (*ContentSummary, error) {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return nil, errors.Wrap(err, "initializing zip reader")
	}
	cs := &ContentSummary{}
	for _, f := range zr.File {
		dest := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !isWithin(dir, dest) {
			return nil, errors.Errorf("zip entry escapes destination: %s", f.Name)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating directory for %s", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "opening zip entry %s", f.Name)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading zip entry %s", f.Name)
		}
		if err := os.WriteFile(dest, b, f.Mode().Perm()|0o600); err != nil {
			return nil, errors.Wrapf(err, "writing %s", dest)
		}
		cs.Files = append(cs.Files, f.Name)
		sum := sha256.Sum256(b)
		cs.FileHashes = append(cs.FileHashes, hex.EncodeToString(sum[:]))
		cs.CRLFCount += bytes.Count(b, []byte{'\r', '\n'})
	}
	return cs, nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
