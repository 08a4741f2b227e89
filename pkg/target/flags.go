package target

// SDK is the recognized SDK selector for a build.
type SDK string

const (
	SDKSimulator SDK = "sim"
	SDKDevice    SDK = "device"
)

// Arch is the recognized architecture selector for a build.
type Arch string

const (
	ArchAuto  Arch = "auto"
	ArchX8664 Arch = "x86_64"
	ArchArm64 Arch = "arm64"
)

// BuildFlags is the immutable, per-invocation build configuration. XCArgs
// is a direct ingredient of the fingerprint; ResultBundlePath is
// explicitly excluded. IgnoreCache forces every selected target to miss
// without consulting the store.
type BuildFlags struct {
	SDK              SDK
	Arch             Arch
	Config           string
	XCArgs           []string
	ResultBundlePath string
	IgnoreCache      bool
}

// WithDefaults returns a copy of f with the documented default applied
// (Config defaults to "Debug").
func (f BuildFlags) WithDefaults() BuildFlags {
	if f.Config == "" {
		f.Config = "Debug"
	}
	if f.Arch == "" {
		f.Arch = ArchAuto
	}
	return f
}

// Group identifies the (product, buildConfig, sdk, arch) tuple that a
// LatestPointer and a BinaryStore directory layer key on.
type Group struct {
	Product string
	Config  string
	SDK     SDK
	Arch    Arch
}

// DirName renders the group's on-disk directory component, e.g.
// "Debug-sim-arm64".
func (g Group) DirName() string {
	return g.Config + "-" + string(g.SDK) + "-" + string(g.Arch)
}
