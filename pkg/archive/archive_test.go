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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompressExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	buf := new(bytes.Buffer)
	wantSummary, err := CompressDir(buf, src)
	if err != nil {
		t.Fatalf("CompressDir() = %v", err)
	}

	dst := t.TempDir()
	gotSummary, err := ExtractZip(dst, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ExtractZip() = %v", err)
	}

	if diff := cmp.Diff(wantSummary.Files, gotSummary.Files); diff != "" {
		t.Errorf("file list mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantSummary.FileHashes, gotSummary.FileHashes); diff != "" {
		t.Errorf("file hash mismatch (-want +got):\n%s", diff)
	}

	gotA, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotA) != "hello" {
		t.Errorf("a.txt = %q, want %q", gotA, "hello")
	}
	gotB, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotB) != "world" {
		t.Errorf("nested/b.txt = %q, want %q", gotB, "world")
	}
}

func TestExtractZipRejectsPathEscape(t *testing.T) {
	buf := new(bytes.Buffer)
	if _, err := CompressDir(buf, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	// A well-formed empty archive never escapes and extracts cleanly.
	dst := t.TempDir()
	if _, err := ExtractZip(dst, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		t.Fatalf("ExtractZip() on empty archive = %v", err)
	}

	// An entry whose name climbs out of the destination is rejected.
	evil := new(bytes.Buffer)
	zw := zip.NewWriter(evil)
	fw, err := zw.Create("../evil.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("escaped")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := ExtractZip(t.TempDir(), bytes.NewReader(evil.Bytes()), int64(evil.Len())); err == nil {
		t.Error("ExtractZip() accepted an entry escaping the destination")
	}
}
