package remote

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/thorprogramador/rugby-ios/pkg/archive"
)

func testTransport(t *testing.T, srv *httptest.Server) *Transport {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server url: %v", err)
	}
	tr := New(Endpoint{Host: u.Host, Bucket: "rugby-cache"}, Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"})
	tr.Client = srv.Client()
	tr.Region = "us-east-1"
	return tr
}

func TestPreflightAcceptsOkAndNotFound(t *testing.T) {
	for _, status := range []int{200, 404} {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodHead {
				t.Errorf("expected HEAD, got %s", r.Method)
			}
			if r.Header.Get("Authorization") == "" {
				t.Error("expected signed request with Authorization header")
			}
			w.WriteHeader(status)
		}))
		tr := testTransport(t, srv)
		if err := tr.Preflight(t.Context()); err != nil {
			t.Errorf("Preflight() with status %d = %v, want nil", status, err)
		}
		srv.Close()
	}
}

func TestPreflightRejectsForbidden(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	tr := testTransport(t, srv)
	if err := tr.Preflight(t.Context()); err == nil {
		t.Error("expected Preflight() to fail on 403")
	}
}

func TestUploadAllIndependentFailures(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		mu.Lock()
		seen[r.URL.Path] = true
		mu.Unlock()
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	tr := testTransport(t, srv)

	dirGood := t.TempDir()
	if err := os.WriteFile(filepath.Join(dirGood, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	dirBad := t.TempDir()
	if err := os.WriteFile(filepath.Join(dirBad, "b.txt"), []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	results := tr.UploadAll(t.Context(), []UploadObject{
		{Key: "good/entry.zip", LocalDir: dirGood},
		{Key: "bad/entry.zip", LocalDir: dirBad},
	}, ".zip", 2)

	byKey := map[string]Result{}
	for _, r := range results {
		byKey[r.Key] = r
	}
	if byKey["good/entry.zip"].Err != nil {
		t.Errorf("expected good upload to succeed, got %v", byKey["good/entry.zip"].Err)
	}
	if byKey["bad/entry.zip"].Err == nil {
		t.Error("expected bad upload to fail independently")
	}
	if !seen["/rugby-cache/good/entry.zip"] || !seen["/rugby-cache/bad/entry.zip"] {
		t.Errorf("expected both objects to reach the server, got %v", seen)
	}
}

func TestDownloadAllExtractsArchive(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		src := t.TempDir()
		if err := os.WriteFile(filepath.Join(src, "payload.txt"), []byte("cached output"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := archive.CompressDir(w, src); err != nil {
			t.Fatal(err)
		}
	}))
	defer srv.Close()
	tr := testTransport(t, srv)

	dest := t.TempDir()
	results := tr.DownloadAll(t.Context(), []DownloadObject{
		{Key: "entry.zip", DestDir: dest},
	}, 1)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("DownloadAll() = %+v", results)
	}
	if _, err := os.Stat(filepath.Join(dest, "payload.txt")); err != nil {
		t.Errorf("expected extracted file, got %v", err)
	}
}
