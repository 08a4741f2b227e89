package fingerprint

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// ToolchainInfo captures the compiler/toolchain versions that participate in
// every target's fingerprint context, since the same source can produce a
// different binary under a different Swift or Xcode toolchain.
type ToolchainInfo struct {
	SwiftVersion string
	XcodeBase    string
	XcodeBuild   string
}

// ToolchainProvider reports the active toolchain versions for the current
// run. Implementations typically shell out to `xcodebuild -version` and
// `swift --version` once per run and cache the result.
type ToolchainProvider interface {
	Toolchain(ctx context.Context) (ToolchainInfo, error)
}

// ordered holds a document's top-level sections in a fixed sequence:
// buildOptions, buildPhases, buildRules, scriptPhases, configurations,
// dependencies, name, product, swift_version, xcode_version.
// This is not lexicographic; it is a fixed canonical order, and deviating
// from it would still be internally consistent but would break fingerprint
// stability across an engine version change, so it is hardcoded rather than
// derived from a sorted key list.
type ordered struct {
	buf strings.Builder
}

func (o *ordered) section(key string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshaling %s", key)
	}
	s := strings.TrimRight(string(b), "\n")
	o.buf.WriteString(key)
	o.buf.WriteString(":\n")
	for _, line := range strings.Split(s, "\n") {
		o.buf.WriteString("  ")
		o.buf.WriteString(line)
		o.buf.WriteByte('\n')
	}
	return nil
}

// canonicalContext builds the deterministic textual serialization described
// in the fingerprinting algorithm: every ingredient of a target's identity,
// in a fixed key order, with nested mappings ordered by key.
func canonicalContext(t *target.Target, flags target.BuildFlags, tc ToolchainInfo, depFingerprints map[target.Id]string, hashers hasherSet) (string, error) {
	o := &ordered{}

	xcargs := append([]string(nil), flags.XCArgs...)
	sort.Strings(xcargs)
	if err := o.section("buildOptions", map[string]any{"xcargs": xcargs}); err != nil {
		return "", err
	}

	var phaseHashes []string
	for _, p := range t.BuildPhases {
		h, err := hashers.buildPhases.Hash(p)
		if err != nil {
			return "", errors.Wrap(err, "hashing build phase")
		}
		phaseHashes = append(phaseHashes, h)
	}
	if err := o.section("buildPhases", phaseHashes); err != nil {
		return "", err
	}

	var ruleHashes []string
	for _, r := range t.BuildRules {
		h, err := hashers.buildRules.Hash(r)
		if err != nil {
			return "", errors.Wrap(err, "hashing build rule")
		}
		ruleHashes = append(ruleHashes, h)
	}
	if err := o.section("buildRules", ruleHashes); err != nil {
		return "", err
	}

	var scriptHashes []string
	for _, s := range t.ScriptPhases {
		h, err := hashers.scripts.Hash(s)
		if err != nil {
			return "", errors.Wrap(err, "hashing script phase")
		}
		scriptHashes = append(scriptHashes, h)
	}
	if err := o.section("scriptPhases", scriptHashes); err != nil {
		return "", err
	}

	cfgNames := make([]string, 0, len(t.Configurations))
	for name := range t.Configurations {
		cfgNames = append(cfgNames, name)
	}
	sort.Strings(cfgNames)
	var cfgHashes []map[string]string
	for _, name := range cfgNames {
		h, err := hashers.configurations.Hash(name, t.Configurations[name])
		if err != nil {
			return "", errors.Wrapf(err, "hashing configuration %s", name)
		}
		cfgHashes = append(cfgHashes, map[string]string{"name": name, "hash": h})
	}
	if err := o.section("configurations", cfgHashes); err != nil {
		return "", err
	}

	depNames := make([]string, 0, len(t.ExplicitDependencies))
	for _, d := range t.ExplicitDependencies {
		depNames = append(depNames, string(d))
	}
	sort.Strings(depNames)
	deps := make(map[string]string, len(depNames))
	for _, name := range depNames {
		deps[name] = depFingerprints[target.Id(name)]
	}
	if err := o.section("dependencies", deps); err != nil {
		return "", err
	}

	if err := o.section("name", t.Name); err != nil {
		return "", err
	}

	product := map[string]string{"name": "", "moduleName": "", "type": "", "parentFolder": ""}
	if t.Product != nil {
		product["name"] = t.Product.Name
		product["moduleName"] = t.Product.ModuleName
		product["type"] = t.Product.Type
		product["parentFolder"] = t.Product.ParentFolder
	}
	if err := o.section("product", product); err != nil {
		return "", err
	}

	if err := o.section("swift_version", tc.SwiftVersion); err != nil {
		return "", err
	}

	if err := o.section("xcode_version", map[string]string{"base": tc.XcodeBase, "build": tc.XcodeBuild}); err != nil {
		return "", err
	}

	return o.buf.String(), nil
}
