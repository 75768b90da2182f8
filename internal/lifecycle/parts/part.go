package parts

import "path/filepath"

// Part is an addressable unit of build work: it fetches source, builds
// artifacts, stages them into the shared stage directory, and primes a
// subset of the stage directory plus its resolved runtime library closure
// into the shared prime directory.
type Part struct {
	// Name uniquely identifies the part within its PartGraph.
	Name string

	// After lists the names of this part's direct predecessors, in
	// declaration order.
	After []string

	// Plugin is the declared plugin name (e.g. "make", "cmake", "dump").
	Plugin string

	// Source is the declared source location (URL, path, or VCS spec); the
	// out-of-scope source-handler resolves its scheme and fetches it.
	Source string

	// Properties holds the part's plugin-specific configuration, already
	// decoded from the input document but not yet schema-validated (schema
	// validation is performed by the external validator, out of scope here).
	Properties map[string]interface{}

	// BuildEnvironment is the part's declared build-environment, as a
	// sequence of "KEY=value" shell-assignment strings, applied in order.
	BuildEnvironment []string

	// BuildPackages and StagePackages are the part's declared package-
	// manager prerequisites.
	BuildPackages []string
	StagePackages []string

	// BuildAttributes are opaque plugin/builder hints (e.g. "no-patchelf").
	BuildAttributes []string

	// Stage and Prime are the include/exclude fileset patterns for this
	// part's Stage and Prime steps, respectively.
	Stage Fileset
	Prime Fileset

	// Organize maps a source-relative path (as produced by build) to a
	// destination-relative path (as staged), applied between Build and
	// Stage.
	Organize map[string]string

	// workDir is the lifecycle's root working directory; part directories
	// are deterministic functions of it and Name.
	workDir string
}

// Fileset is an ordered pair of include/exclude shell-glob pattern lists.
type Fileset struct {
	Include []string
	Exclude []string
}

// SetWorkDir binds the part to a lifecycle working directory, enabling the
// PartSourceDir/PartBuildDir/PartInstallDir/PartStateDir accessors. Called by
// PartGraph construction; parts are otherwise workDir-agnostic so they can be
// unit tested without a filesystem layout.
func (p *Part) SetWorkDir(workDir string) { p.workDir = workDir }

func (p *Part) partDir(leaf string) string {
	return filepath.Join(p.workDir, "parts", p.Name, leaf)
}

// PartSourceDir is where pull() fetches sources to.
func (p *Part) PartSourceDir() string { return p.partDir("src") }

// PartBuildDir is where build() compiles.
func (p *Part) PartBuildDir() string { return p.partDir("build") }

// PartInstallDir is where build() installs its output tree (sometimes called
// destdir).
func (p *Part) PartInstallDir() string { return p.partDir("install") }

// PartStateDir holds this part's per-step persisted state records.
func (p *Part) PartStateDir() string { return p.partDir("state") }

// PartData is the read-only handle passed to pre/post-step callbacks and to
// plugin step bodies. It intentionally holds no back-reference to the
// PartGraph or LifecycleManager: callers must not be able to mutate shared
// scheduler state from inside a callback.
type PartData struct {
	ArchTriplet        string
	DebArch            string
	ParallelBuildCount int
	IsCrossCompiling   bool

	WorkDir   string
	PartsDir  string
	StageDir  string
	PrimeDir  string

	Part string
	Step Step

	PartBuildDir   string
	PartInstallDir string

	// Extra carries arbitrary user-supplied values set by callers of
	// RegisterPreStepCallback/RegisterPostStepCallback.
	Extra map[string]interface{}
}
