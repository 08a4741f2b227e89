package fingerprint

import (
	"crypto"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/thorprogramador/rugby-ios/internal/hashext"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// BuildPhaseHasher reduces a single build phase to an opaque hash string.
type BuildPhaseHasher interface {
	Hash(p target.BuildPhase) (string, error)
}

// BuildRulesHasher reduces a single custom build rule to an opaque hash
// string.
type BuildRulesHasher interface {
	Hash(r target.BuildRule) (string, error)
}

// ScriptsHasher reduces a single run-script build phase to an opaque hash
// string.
type ScriptsHasher interface {
	Hash(s target.ScriptPhase) (string, error)
}

// ConfigurationsHasher reduces one named build configuration to an opaque
// hash string, after excluding path-valued settings so that the result is
// stable across machines and CI workers with different checkout roots.
type ConfigurationsHasher interface {
	Hash(name string, c target.Configuration) (string, error)
}

// pathValuedKeys lists the well-known Xcode build settings whose values are
// absolute or relative filesystem paths and therefore vary by checkout
// location without representing a real change to the target.
// ConfigurationsHasher excludes these before hashing, so the same target
// fingerprints identically across checkouts at different paths.
var pathValuedKeys = map[string]bool{
	"HEADER_SEARCH_PATHS":     true,
	"FRAMEWORK_SEARCH_PATHS":  true,
	"LIBRARY_SEARCH_PATHS":    true,
	"SRCROOT":                 true,
	"PROJECT_DIR":             true,
	"BUILD_DIR":               true,
	"BUILD_ROOT":              true,
	"OBJROOT":                 true,
	"SYMROOT":                 true,
	"DSTROOT":                 true,
	"CONFIGURATION_BUILD_DIR": true,
	"DERIVED_FILE_DIR":        true,
	"TARGET_BUILD_DIR":        true,
	"PODS_ROOT":               true,
	"PODS_CONFIGURATION_BUILD_DIR": true,
}

func newHashWriter() hashext.TypedHash {
	return hashext.NewTypedHash(crypto.SHA256)
}

func sumHex(h hashext.TypedHash) string {
	return hex.EncodeToString(h.Sum(nil))
}

func writeFields(h hashext.TypedHash, fields ...string) {
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
}

// DefaultBuildPhaseHasher hashes a build phase's name and ordered file list.
type DefaultBuildPhaseHasher struct{}

func (DefaultBuildPhaseHasher) Hash(p target.BuildPhase) (string, error) {
	h := newHashWriter()
	writeFields(h, p.Name)
	for _, f := range p.Files {
		writeFields(h, f)
	}
	return sumHex(h), nil
}

// DefaultBuildRulesHasher hashes a custom build rule's name, file pattern,
// and script body.
type DefaultBuildRulesHasher struct{}

func (DefaultBuildRulesHasher) Hash(r target.BuildRule) (string, error) {
	h := newHashWriter()
	writeFields(h, r.Name, r.Pattern, r.Script)
	return sumHex(h), nil
}

// DefaultScriptsHasher hashes a run-script phase's name, shell, and body.
type DefaultScriptsHasher struct{}

func (DefaultScriptsHasher) Hash(s target.ScriptPhase) (string, error) {
	h := newHashWriter()
	writeFields(h, s.Name, s.Shell, s.Script)
	return sumHex(h), nil
}

// DefaultConfigurationsHasher hashes a named configuration's settings after
// dropping path-valued keys.
type DefaultConfigurationsHasher struct{}

func (DefaultConfigurationsHasher) Hash(name string, c target.Configuration) (string, error) {
	h := newHashWriter()
	writeFields(h, name)
	keys := make([]string, 0, len(c.Settings))
	for k := range c.Settings {
		if pathValuedKeys[strings.ToUpper(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeFields(h, k, c.Settings[k])
	}
	return sumHex(h), nil
}
