// Package xcbuild implements pkg/collab.NativeBuilder by shelling out to
// xcodebuild. It is the one place in Rugby that spawns a subprocess to
// compile code; everything upstream treats the native toolchain as opaque.
package xcbuild

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/thorprogramador/rugby-ios/internal/bufiox"
	"github.com/thorprogramador/rugby-ios/pkg/collab"
	"github.com/thorprogramador/rugby-ios/pkg/fingerprint"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// outputBufferSize bounds how much of xcodebuild's combined stdout/stderr
// Build retains; a verbose CocoaPods build can emit megabytes of clang
// diagnostics, and only the tail is ever useful for a failure report.
const outputBufferSize = 1 << 20

// Builder invokes xcodebuild for one aggregate target at a time. A mutex
// enforces a single in-flight build per Builder instance, mirroring the
// simplest possible scheduling policy a real Xcode toolchain tolerates.
type Builder struct {
	// Binary overrides the xcodebuild executable path; empty means PATH
	// lookup.
	Binary string
	// DerivedDataPath is where xcodebuild stages build products;
	// ArtifactDirs returned from Build point inside it.
	DerivedDataPath string
	// Reader resolves the aggregate's explicit dependencies back to their
	// product names, so Build can report one products directory per
	// dependency instead of only the aggregate itself.
	Reader collab.ProjectReader

	mutex sync.Mutex
}

func New(derivedDataPath string, reader collab.ProjectReader) *Builder {
	return &Builder{DerivedDataPath: derivedDataPath, Reader: reader}
}

func (b *Builder) binary() string {
	if b.Binary != "" {
		return b.Binary
	}
	return "xcodebuild"
}

// Build runs xcodebuild against the given aggregate target and reports,
// for every target it depends on, the derived-data directory that should
// hold its build products.
func (b *Builder) Build(ctx context.Context, projectRoot string, aggregate target.Id, flags target.BuildFlags) (*collab.BuildResult, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	args := []string{
		"-target", string(aggregate),
		"-configuration", flags.Config,
		"-derivedDataPath", b.DerivedDataPath,
	}
	if flags.SDK == target.SDKSimulator {
		args = append(args, "-sdk", "iphonesimulator")
	} else if flags.SDK == target.SDKDevice {
		args = append(args, "-sdk", "iphoneos")
	}
	if flags.Arch != "" && flags.Arch != target.ArchAuto {
		args = append(args, "ARCHS="+string(flags.Arch), "ONLY_ACTIVE_ARCH=NO")
	}
	args = append(args, flags.XCArgs...)

	cmd := exec.CommandContext(ctx, b.binary(), args...)
	cmd.Dir = projectRoot
	out := bufiox.NewLineBuffer(outputBufferSize)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "xcodebuild failed: %s", drainOutput(out))
	}

	productsDir := filepath.Join(b.DerivedDataPath, "Build", "Products", productsSubdir(flags))
	g, err := b.Reader.Read(ctx, projectRoot)
	if err != nil {
		return nil, errors.Wrap(err, "reading project for artifact layout")
	}
	agg, err := g.Get(aggregate)
	if err != nil {
		return nil, errors.Wrap(err, "resolving aggregate target")
	}
	dirs := map[target.Id]string{}
	for _, dep := range agg.ExplicitDependencies {
		dep := dep
		t, err := g.Get(dep)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving dependency %s", dep)
		}
		name := productName(t)
		dest := filepath.Join(b.DerivedDataPath, "rugby-artifacts", string(dep))
		if err := collectProduct(productsDir, name, dest); err != nil {
			return nil, errors.Wrapf(err, "collecting artifacts for %s", dep)
		}
		dirs[dep] = dest
	}
	return &collab.BuildResult{Output: drainOutput(out), ArtifactDirs: dirs}, nil
}

// drainOutput reads everything currently buffered in lb. LineBuffer.Read
// returns (0, nil) rather than io.EOF on an empty buffer, so a zero-length
// read is the drain signal.
func drainOutput(lb *bufiox.LineBuffer) string {
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, _ := lb.Read(chunk)
		if n == 0 {
			break
		}
		buf.Write(chunk[:n])
	}
	return buf.String()
}

// productsSubdir mirrors xcodebuild's "<Configuration>-<platform>" products
// directory naming.
func productsSubdir(flags target.BuildFlags) string {
	switch flags.SDK {
	case target.SDKSimulator:
		return flags.Config + "-iphonesimulator"
	case target.SDKDevice:
		return flags.Config + "-iphoneos"
	default:
		return flags.Config
	}
}

func productName(t *target.Target) string {
	if t.Product != nil && t.Product.Name != "" {
		return t.Product.Name
	}
	return string(t.Id)
}

// collectProduct copies every entry in productsDir whose name starts with
// product (xcodebuild emits a static library, its Swift module, and any
// resource bundle as siblings sharing that prefix) into a fresh directory at
// dest, since BinaryStore.Import treats an artifact directory as wholly
// belonging to a single target.
func collectProduct(productsDir, product, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(productsDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, product) {
			continue
		}
		if err := copyTree(filepath.Join(productsDir, name), filepath.Join(dest, name)); err != nil {
			return err
		}
	}
	return nil
}

// Toolchain implements fingerprint.ToolchainProvider by shelling out to
// `xcodebuild -version` and `swift --version` once per process and caching
// the result, matching the interface doc's documented strategy.
type Toolchain struct {
	Binary      string
	SwiftBinary string

	once sync.Once
	info fingerprint.ToolchainInfo
	err  error
}

func (t *Toolchain) binary() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "xcodebuild"
}

func (t *Toolchain) swiftBinary() string {
	if t.SwiftBinary != "" {
		return t.SwiftBinary
	}
	return "swift"
}

func (t *Toolchain) Toolchain(ctx context.Context) (fingerprint.ToolchainInfo, error) {
	t.once.Do(func() {
		t.info, t.err = t.probe(ctx)
	})
	return t.info, t.err
}

func (t *Toolchain) probe(ctx context.Context) (fingerprint.ToolchainInfo, error) {
	var info fingerprint.ToolchainInfo

	xcOut, err := exec.CommandContext(ctx, t.binary(), "-version").Output()
	if err != nil {
		return info, errors.Wrap(err, "running xcodebuild -version")
	}
	info.XcodeBase, info.XcodeBuild = parseXcodebuildVersion(string(xcOut))

	swiftOut, err := exec.CommandContext(ctx, t.swiftBinary(), "--version").Output()
	if err != nil {
		return info, errors.Wrap(err, "running swift --version")
	}
	info.SwiftVersion = parseSwiftVersion(string(swiftOut))

	return info, nil
}

// parseXcodebuildVersion extracts the two lines xcodebuild -version prints,
// e.g. "Xcode 15.0\nBuild version 15A240d".
func parseXcodebuildVersion(out string) (base, build string) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Xcode "):
			base = strings.TrimPrefix(line, "Xcode ")
		case strings.HasPrefix(line, "Build version "):
			build = strings.TrimPrefix(line, "Build version ")
		}
	}
	return base, build
}

// parseSwiftVersion extracts the version token from swift --version's first
// line, e.g. "Apple Swift version 5.9 (swiftlang-...)".
func parseSwiftVersion(out string) string {
	lines := strings.Split(out, "\n")
	if len(lines) == 0 {
		return ""
	}
	fields := strings.Fields(lines[0])
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
