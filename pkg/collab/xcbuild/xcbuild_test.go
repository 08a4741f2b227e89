package xcbuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thorprogramador/rugby-ios/pkg/target"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProductsSubdir(t *testing.T) {
	cases := []struct {
		sdk  target.SDK
		want string
	}{
		{target.SDKSimulator, "Debug-iphonesimulator"},
		{target.SDKDevice, "Debug-iphoneos"},
		{"", "Debug"},
	}
	for _, c := range cases {
		flags := target.BuildFlags{Config: "Debug", SDK: c.sdk}
		if got := productsSubdir(flags); got != c.want {
			t.Errorf("productsSubdir(%v) = %q, want %q", c.sdk, got, c.want)
		}
	}
}

func TestCollectProductGroupsByNamePrefix(t *testing.T) {
	productsDir := t.TempDir()
	writeFile(t, filepath.Join(productsDir, "libPods-App.a"), "lib-a")
	writeFile(t, filepath.Join(productsDir, "Other.a"), "lib-b")

	dest := filepath.Join(t.TempDir(), "out")
	if err := collectProduct(productsDir, "libPods-App.a", dest); err != nil {
		t.Fatalf("collectProduct() = %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dest, "libPods-App.a"))
	if err != nil || string(b) != "lib-a" {
		t.Errorf("collected artifact missing or wrong: %v %q", err, b)
	}
	if _, err := os.Stat(filepath.Join(dest, "Other.a")); !os.IsNotExist(err) {
		t.Errorf("collectProduct copied an unrelated product: %v", err)
	}
}

func TestCollectProductCopiesDirectories(t *testing.T) {
	productsDir := t.TempDir()
	writeFile(t, filepath.Join(productsDir, "Framework.framework", "Framework"), "binary")
	writeFile(t, filepath.Join(productsDir, "Framework.framework", "Info.plist"), "plist")

	dest := filepath.Join(t.TempDir(), "out")
	if err := collectProduct(productsDir, "Framework", dest); err != nil {
		t.Fatalf("collectProduct() = %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dest, "Framework.framework", "Framework"))
	if err != nil || string(b) != "binary" {
		t.Errorf("nested file missing or wrong: %v %q", err, b)
	}
}

func TestCopyTreeCopiesFileContents(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.a")
	writeFile(t, src, "contents")
	dst := filepath.Join(t.TempDir(), "nested", "b.a")

	if err := copyTree(src, dst); err != nil {
		t.Fatalf("copyTree() = %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "contents" {
		t.Errorf("copyTree() result = %v %q", err, b)
	}
}

func TestParseXcodebuildVersion(t *testing.T) {
	out := "Xcode 15.0\nBuild version 15A240d\n"
	base, build := parseXcodebuildVersion(out)
	if base != "15.0" || build != "15A240d" {
		t.Errorf("parseXcodebuildVersion() = (%q, %q), want (15.0, 15A240d)", base, build)
	}
}

func TestParseSwiftVersion(t *testing.T) {
	out := "Apple Swift version 5.9 (swiftlang-5.9.0.128.108 clang-1500.0.40.1)\nTarget: arm64-apple-macosx14.0\n"
	if got := parseSwiftVersion(out); got != "5.9" {
		t.Errorf("parseSwiftVersion() = %q, want 5.9", got)
	}
}

func TestParseSwiftVersionEmptyInput(t *testing.T) {
	if got := parseSwiftVersion(""); got != "" {
		t.Errorf("parseSwiftVersion(\"\") = %q, want empty", got)
	}
}

func TestProductName(t *testing.T) {
	withProduct := &target.Target{Id: "A", Product: &target.Product{Name: "libA.a"}}
	if got := productName(withProduct); got != "libA.a" {
		t.Errorf("productName() = %q, want libA.a", got)
	}
	withoutProduct := &target.Target{Id: "B"}
	if got := productName(withoutProduct); got != "B" {
		t.Errorf("productName() = %q, want B", got)
	}
}
