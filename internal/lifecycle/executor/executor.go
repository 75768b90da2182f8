// Package executor implements the StepExecutor: the core state
// machine that, for a given part and step, resolves prerequisites, composes
// the environment, invokes callbacks and the plugin body, persists state,
// and implements the clean/re-run cascade driven by DirtyDetector and
// OutdatedDetector.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/distr1/distri-parts/internal/lifecycle/arch"
	"github.com/distr1/distri-parts/internal/lifecycle/collision"
	"github.com/distr1/distri-parts/internal/lifecycle/dirty"
	"github.com/distr1/distri-parts/internal/lifecycle/elfscan"
	envassembly "github.com/distr1/distri-parts/internal/lifecycle/env"
	"github.com/distr1/distri-parts/internal/lifecycle/fileset"
	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
	"github.com/distr1/distri-parts/internal/lifecycle/outdated"
	"github.com/distr1/distri-parts/internal/lifecycle/parts"
	"github.com/distr1/distri-parts/internal/lifecycle/plugin"
	"github.com/distr1/distri-parts/internal/lifecycle/state"
	"github.com/distr1/distri-parts/internal/trace"
)

// Policy is the dirty/outdated handling policy.
type Policy int

const (
	PolicyClean Policy = iota // default: clean and re-run
	PolicyError               // surface StepOutdated instead
)

// SourceFetcher fetches a part's declared source into part_source_dir.
// Source fetching per URL scheme is an out-of-scope external collaborator
// external collaborator; Executor depends only on this narrow interface.
// ctx cancellation must abort an in-flight fetch.
type SourceFetcher interface {
	Fetch(ctx context.Context, p *parts.Part) error
}

// NoopFetcher is the default SourceFetcher: it only ensures the source
// directory exists, for parts whose source is local or already present.
type NoopFetcher struct{}

func (NoopFetcher) Fetch(_ context.Context, p *parts.Part) error {
	return os.MkdirAll(p.PartSourceDir(), 0755)
}

// Executor drives the four-step lifecycle state machine over a PartGraph.
type Executor struct {
	Graph       *parts.PartGraph
	Registry    *plugin.Registry
	Global      *state.GlobalState
	Arch        arch.Info
	WorkDir     string
	PartsDir    string
	StageDir    string
	PrimeDir    string
	ParallelBuildCount int
	Policy      Policy
	Fetcher     SourceFetcher
	SonameCache *elfscan.SonameCache
	BaseDir     string // optional trusted base excluded from the prime ELF closure

	stores  map[string]*state.Store
	cleaned map[string]map[parts.Step]bool // part -> step -> cleaned-since-last-dirty-check
}

// New returns an Executor ready to run against graph.
func New(graph *parts.PartGraph, registry *plugin.Registry, global *state.GlobalState, archInfo arch.Info, workDir, partsDir, stageDir, primeDir string) *Executor {
	return &Executor{
		Graph:       graph,
		Registry:    registry,
		Global:      global,
		Arch:        archInfo,
		WorkDir:     workDir,
		PartsDir:    partsDir,
		StageDir:    stageDir,
		PrimeDir:    primeDir,
		ParallelBuildCount: 1,
		Fetcher:     NoopFetcher{},
		SonameCache: elfscan.NewSonameCache(),
		stores:      make(map[string]*state.Store),
		cleaned:     make(map[string]map[parts.Step]bool),
	}
}

func (e *Executor) store(p *parts.Part) *state.Store {
	if s, ok := e.stores[p.Name]; ok {
		return s
	}
	s := state.NewStore(p)
	e.stores[p.Name] = s
	return s
}

func (e *Executor) markCleaned(name string, step parts.Step) {
	if e.cleaned[name] == nil {
		e.cleaned[name] = make(map[parts.Step]bool)
	}
	e.cleaned[name][step] = true
}

// Run executes every step up to and including target for the requested
// parts (nil/empty means all parts), returning whether any step actually
// ran.
func (e *Executor) Run(ctx context.Context, target parts.Step, names []string) (stepsWereRun bool, err error) {
	requested := e.selectParts(names)

	for _, current := range append(target.PreviousSteps(), target) {
		if err := ctx.Err(); err != nil {
			return stepsWereRun, err
		}
		if current == parts.Stage {
			if err := e.checkCollisions(); err != nil {
				return stepsWereRun, err
			}
		}

		order := e.Graph.ExecutionOrder()
		for _, p := range order {
			if !requested[p.Name] {
				continue
			}
			ran, err := e.runOne(ctx, p, current, current == target && len(names) > 0, requested)
			if err != nil {
				return stepsWereRun, err
			}
			stepsWereRun = stepsWereRun || ran
		}
	}
	return stepsWereRun, nil
}

func (e *Executor) selectParts(names []string) map[string]bool {
	set := make(map[string]bool)
	if len(names) == 0 {
		for _, p := range e.Graph.Parts() {
			set[p.Name] = true
		}
		return set
	}
	for _, n := range names {
		set[n] = true
	}
	return set
}

// runOne implements the six-case dispatch for one (part, step).
// isTarget reports whether step is the lifecycle's originally requested
// step S (as opposed to one of its mandatory previous_steps) in a run that
// named its parts explicitly; a run over all parts never forces a re-run.
func (e *Executor) runOne(ctx context.Context, p *parts.Part, step parts.Step, isTarget bool, requested map[string]bool) (ran bool, err error) {
	st := e.store(p)

	_, exists := st.ModTime(step)

	switch {
	case !exists:
		return true, e.runCacheMiss(ctx, p, step)

	case isTarget && requested[p.Name]:
		// explicit re-run: this part was named and this is the requested step.
		if err := e.rerunStep(ctx, p, step, "explicit re-run requested"); err != nil {
			return false, err
		}
		return true, nil

	default:
		// Bring dependencies' prerequisite step up to date before judging
		// this one dirty: a dependency that needs re-running (and hasn't
		// been cleaned yet) would otherwise hide the "dependency cleaned"
		// signal dirty.Check relies on, one step too late to catch it.
		if err := e.ensurePrerequisites(ctx, p, step); err != nil {
			return false, err
		}

		deps, err := e.dependencyStates(p)
		if err != nil {
			return false, err
		}
		report, err := dirty.New().Check(p, step, st, deps)
		if err != nil {
			return false, err
		}
		if report != nil {
			if e.Policy == PolicyError {
				return false, &lcerrors.StepOutdated{Part: p.Name, Step: step, Summary: report.String()}
			}
			if err := e.rerunStep(ctx, p, step, report.String()); err != nil {
				return false, err
			}
			return true, nil
		}

		modTime, _ := st.ModTime(step)
		outReport, err := outdated.New().Check(p, step, time.Unix(0, modTime), true)
		if err != nil {
			return false, err
		}
		if outReport != nil {
			if updater := e.updater(p, step); updater != nil {
				if err := updater(); err != nil {
					return false, err
				}
				return true, nil
			}
			if err := e.rerunStep(ctx, p, step, fmt.Sprintf("outdated: %s newer than state", outReport.NewestInput)); err != nil {
				return false, err
			}
			return true, nil
		}

		log.Printf("Skipping %s %s (already ran)", p.Name, step)
		return false, nil
	}
}

// updater returns an in-place updater function if the part's plugin exposes
// update_<step>, or nil.
func (e *Executor) updater(p *parts.Part, step parts.Step) func() error {
	// No built-in plugin currently declares an updater; the hook exists so
	// plugins implementing an Updater-shaped interface can be wired in
	// without changing the executor's dispatch.
	type updaterPlugin interface {
		Update(step parts.Step, ctx *parts.PartData) error
	}
	pl, err := e.Registry.Load(p.Plugin)
	if err != nil {
		return nil
	}
	var impl interface{}
	if pl.IsV2() {
		impl = pl.V2Impl
	} else {
		impl = pl.V1Impl
	}
	up, ok := impl.(updaterPlugin)
	if !ok {
		return nil
	}
	return func() error {
		data := e.partData(p, step)
		return up.Update(step, data)
	}
}

// dependencyStates gathers the dirty.Dependency view of p's declared deps.
func (e *Executor) dependencyStates(p *parts.Part) ([]dirty.Dependency, error) {
	var out []dirty.Dependency
	for _, depName := range p.After {
		dep, ok := e.Graph.Part(depName)
		if !ok {
			continue
		}
		out = append(out, dirty.Dependency{
			Name:    depName,
			Store:   e.store(dep),
			Cleaned: e.cleaned[depName][parts.Stage],
		})
	}
	return out, nil
}

// runCacheMiss runs a part+step that has never recorded state.
func (e *Executor) runCacheMiss(ctx context.Context, p *parts.Part, step parts.Step) error {
	ev := trace.Event(p.Name+" "+step.String(), int(step))
	defer ev.Done()

	if err := e.ensurePrerequisites(ctx, p, step); err != nil {
		return err
	}

	data := e.partData(p, step)
	if err := e.Registry.RunPreStep(data); err != nil {
		return err
	}

	if err := e.runStepBody(ctx, p, step, data); err != nil {
		return err
	}

	if err := e.Registry.RunPostStep(data); err != nil {
		return err
	}

	return e.writeState(p, step)
}

// ensurePrerequisites recursively runs the prerequisite step of any
// dependency that has not yet reached it, or whose existing record is dirty
// or outdated, so transitive dirtiness propagates through dependencies that
// are not themselves among the requested parts. Called both when a step is
// a cache miss and when re-checking an already-run step, so a dependency
// that needs rerunning gets the chance before this part's own dirtiness is
// judged.
func (e *Executor) ensurePrerequisites(ctx context.Context, p *parts.Part, step parts.Step) error {
	prereq, ok := step.DependencyPrerequisiteStep()
	if !ok {
		return nil
	}
	for _, depName := range p.After {
		dep, ok := e.Graph.Part(depName)
		if !ok {
			return &lcerrors.MissingDependency{Part: p.Name, Missing: depName}
		}
		run, err := e.shouldStepRun(dep, prereq)
		if err != nil {
			return err
		}
		if !run {
			continue
		}
		if _, err := e.Run(ctx, prereq, []string{depName}); err != nil {
			return err
		}
	}
	return nil
}

// shouldStepRun reports whether (p, step) is absent, dirty, or outdated, the
// same three conditions runOne dispatches on, so that a dependency not among
// the requested parts still gets re-evaluated instead of being treated as
// permanently up to date once its state file exists. It also walks back
// through p's own earlier steps and across dependency edges: a part whose
// Build became dirty but whose Stage looks untouched must still be reported
// as needing to run, because running Build will clean Stage out from under
// it, and a dependent checking only its immediate neighbor's Stage record
// would otherwise never observe that the change happened.
func (e *Executor) shouldStepRun(p *parts.Part, step parts.Step) (bool, error) {
	return e.needsRerun(p, step, make(map[string]bool))
}

func (e *Executor) needsRerun(p *parts.Part, step parts.Step, memo map[string]bool) (bool, error) {
	key := p.Name + ":" + step.String()
	if v, ok := memo[key]; ok {
		return v, nil
	}
	memo[key] = false // break cycles defensively; the graph is a DAG

	st := e.store(p)
	modTime, exists := st.ModTime(step)
	if !exists {
		memo[key] = true
		return true, nil
	}

	deps, err := e.dependencyStates(p)
	if err != nil {
		return false, err
	}
	report, err := dirty.New().Check(p, step, st, deps)
	if err != nil {
		return false, err
	}
	if report != nil {
		memo[key] = true
		return true, nil
	}

	outReport, err := outdated.New().Check(p, step, time.Unix(0, modTime), true)
	if err != nil {
		return false, err
	}
	if outReport != nil {
		memo[key] = true
		return true, nil
	}

	if step > parts.Pull {
		run, err := e.needsRerun(p, step-1, memo)
		if err != nil {
			return false, err
		}
		if run {
			memo[key] = true
			return true, nil
		}
	}

	if prereq, ok := step.DependencyPrerequisiteStep(); ok {
		for _, depName := range p.After {
			dep, ok := e.Graph.Part(depName)
			if !ok {
				continue
			}
			run, err := e.needsRerun(dep, prereq, memo)
			if err != nil {
				return false, err
			}
			if run {
				memo[key] = true
				return true, nil
			}
		}
	}

	return false, nil
}

func (e *Executor) partData(p *parts.Part, step parts.Step) *parts.PartData {
	return &parts.PartData{
		ArchTriplet:        e.Arch.Triplet,
		DebArch:            e.Arch.Deb,
		ParallelBuildCount: e.ParallelBuildCount,
		IsCrossCompiling:   arch.CrossCompiling(e.Arch.UTSMachine),
		WorkDir:            e.WorkDir,
		PartsDir:           e.PartsDir,
		StageDir:           e.StageDir,
		PrimeDir:           e.PrimeDir,
		Part:               p.Name,
		Step:               step,
		PartBuildDir:       p.PartBuildDir(),
		PartInstallDir:     p.PartInstallDir(),
	}
}

// runStepBody invokes the step's actual work: plugin-driven for Pull/Build,
// fileset- and organize-driven for Stage, fileset- and ElfScanner-driven for
// Prime.
func (e *Executor) runStepBody(ctx context.Context, p *parts.Part, step parts.Step, data *parts.PartData) error {
	switch step {
	case parts.Pull:
		return e.runPull(ctx, p, data)
	case parts.Build:
		return e.runBuild(ctx, p, data)
	case parts.Stage:
		return e.runStage(p, data)
	case parts.Prime:
		return e.runPrime(p, data)
	}
	return nil
}

func (e *Executor) loadPlugin(p *parts.Part) (plugin.Plugin, error) {
	if p.Plugin == "" {
		return e.Registry.Load("dump")
	}
	pl, err := e.Registry.Load(p.Plugin)
	if err != nil {
		return plugin.Plugin{}, &lcerrors.PluginLoad{Part: p.Name, Plugin: p.Plugin, Err: err}
	}
	return pl, nil
}

func (e *Executor) runPull(ctx context.Context, p *parts.Part, data *parts.PartData) error {
	pl, err := e.loadPlugin(p)
	if err != nil {
		return err
	}
	if !pl.IsV2() {
		environment := e.composeEnvironment(p, nil)
		return pl.V1Impl.Pull(data, p.Properties, environment)
	}
	// v2: pull uses only declared sources.
	return e.Fetcher.Fetch(ctx, p)
}

func (e *Executor) runBuild(ctx context.Context, p *parts.Part, data *parts.PartData) error {
	e.Global.AppendBuildPackages(p.BuildPackages...)

	pl, err := e.loadPlugin(p)
	if err != nil {
		return err
	}

	deps := e.resolvedDeps(p)
	if !pl.IsV2() {
		environment := e.composeEnvironment(p, deps)
		return pl.V1Impl.Build(data, p.Properties, environment)
	}

	e.Global.AppendBuildPackages(pl.V2Impl.GetBuildPackages(p.Properties)...)
	e.Global.AppendBuildSnaps(pl.V2Impl.GetBuildSnaps(p.Properties)...)

	pluginEnv := pl.V2Impl.GetBuildEnvironment(data, p.Properties)
	environment := e.composeEnvironment(p, deps, pluginEnv)

	scriptDir := filepath.Join(p.PartStateDir(), "..", "scripts")
	if err := os.MkdirAll(p.PartBuildDir(), 0755); err != nil {
		return err
	}

	callFIFO, feedbackFIFO, stop, err := e.startCallChannel(p)
	if err != nil {
		return err
	}
	defer stop()
	environment = append(environment,
		"PARTSCTL_CALL_FIFO="+callFIFO,
		"PARTSCTL_FEEDBACK_FIFO="+feedbackFIFO,
	)

	for _, cmd := range pl.V2Impl.GetBuildCommands(data, p.Properties) {
		if err := envassembly.Run(ctx, scriptDir, p.PartBuildDir(), environment, cmd); err != nil {
			return err
		}
	}
	return nil
}

// startCallChannel opens a fresh CallChannel FIFO pair in a new temporary
// directory under p's part directory and starts serving it in the background for the duration of
// one part's build commands, so a command can shell out to `partsctl ctl
// <function>` to check in with the host mid-script. Declarative V2 plugins
// have no separate "default step body" distinct from their build commands,
// so the handler only validates the function name and acks; it exists to
// implement the scriptlet protocol's contract, not to re-enter the
// executor's own dispatch.
func (e *Executor) startCallChannel(p *parts.Part) (callFIFO, feedbackFIFO string, stop func(), err error) {
	dir, err := os.MkdirTemp(filepath.Join(p.PartStateDir(), ".."), "callchannel-*")
	if err != nil {
		return "", "", nil, err
	}
	callFIFO, feedbackFIFO, err = plugin.MakeFIFOPair(dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", nil, err
	}

	handler := func(function string, _ map[string]interface{}) (string, error) {
		switch function {
		case "pull", "build", "stage", "prime":
			return "", nil
		default:
			return fmt.Sprintf("unknown function %q", function), nil
		}
	}

	stopCh := make(chan struct{})
	go func() {
		if err := plugin.ServeFIFO(callFIFO, feedbackFIFO, handler, stopCh); err != nil {
			log.Printf("%s: call channel server: %v", p.Name, err)
		}
	}()

	return callFIFO, feedbackFIFO, func() {
		close(stopCh)
		if f, err := os.OpenFile(callFIFO, os.O_WRONLY, 0); err == nil {
			f.Close()
		}
		os.RemoveAll(dir)
	}, nil
}

// resolvedDeps returns p's direct and transitive dependencies, each once,
// in depth-first declaration order.
func (e *Executor) resolvedDeps(p *parts.Part) []*parts.Part {
	var out []*parts.Part
	seen := make(map[string]bool)
	var visit func(q *parts.Part)
	visit = func(q *parts.Part) {
		for _, name := range q.After {
			dep, ok := e.Graph.Part(name)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, dep)
			visit(dep)
		}
	}
	visit(p)
	return out
}

func (e *Executor) composeEnvironment(p *parts.Part, deps []*parts.Part, pluginEnvs ...map[string]string) []string {
	builder := &envassembly.Builder{ArchTriplet: e.Arch.Triplet}
	merged := make(map[string]string)
	for _, m := range pluginEnvs {
		for k, v := range m {
			merged[k] = v
		}
	}
	return builder.Assemble(p, e.StageDir, merged, deps)
}

// runStage resolves p's Stage fileset against part_install_dir, applies the
// part's organize rename map to get the as-staged relative paths, and
// records them (the actual file copy into stage_dir is the out-of-scope
// overlay materializer's job; collision checking and StageState bookkeeping
// are the lifecycle's).
func (e *Executor) runStage(p *parts.Part, data *parts.PartData) error {
	res, err := fileset.Resolve(p.Stage, p.PartInstallDir())
	if err != nil {
		return err
	}
	staged := fileset.ApplyOrganize(res.Files, p.Organize)
	sort.Strings(staged)

	st := e.store(p)
	return st.Write(parts.Stage, state.StageState{
		StagedPaths:   staged,
		IncludeGlobs:  p.Stage.Include,
		ExcludeGlobs:  p.Stage.Exclude,
		OverlayPolicy: "merge-directories",
	})
}

// runPrime resolves p's Prime fileset, scans the selected ELF files for
// their runtime dependency closure, and records PrimeState.
func (e *Executor) runPrime(p *parts.Part, data *parts.PartData) error {
	res, err := fileset.Resolve(p.Prime, p.PartInstallDir())
	if err != nil {
		return err
	}

	scanner := elfscan.New(e.Arch.Triplet, []string{e.StageDir}, e.BaseDir)
	scanner.Cache = e.SonameCache

	var absFiles []string
	for _, rel := range res.Files {
		absFiles = append(absFiles, filepath.Join(p.PartInstallDir(), rel))
	}
	scanResult, err := scanner.Scan(absFiles)
	if err != nil {
		return err
	}

	st := e.store(p)
	return st.Write(parts.Prime, state.PrimeState{
		PrimedPaths:     res.Files,
		DependencyPaths: scanResult.Closure,
		IncludeGlobs:    p.Prime.Include,
		ExcludeGlobs:    p.Prime.Exclude,
	})
}

func (e *Executor) writeState(p *parts.Part, step parts.Step) error {
	st := e.store(p)
	switch step {
	case parts.Pull:
		return st.Write(parts.Pull, state.PullState{
			SourceURL:     p.Source,
			StagePackages: p.StagePackages,
		})
	case parts.Build:
		return st.Write(parts.Build, state.BuildState{
			BuildPackages:   p.BuildPackages,
			CrossCompiling:  arch.CrossCompiling(e.Arch.UTSMachine),
			ArchTriplet:     e.Arch.Triplet,
			BuildAttributes: p.BuildAttributes,
		})
	case parts.Stage, parts.Prime:
		// already written by runStage/runPrime, which produce richer records
		// than writeState could reconstruct generically.
		return nil
	}
	return nil
}

// rerunStep implements the _re<step> helper: clean step and every
// later step of p, then execute the cache-miss path.
func (e *Executor) rerunStep(ctx context.Context, p *parts.Part, step parts.Step, hint string) error {
	log.Printf("%s: %s is dirty/outdated (%s), re-running", p.Name, step, hint)
	if err := e.cleanFrom(p, step); err != nil {
		return err
	}
	return e.runCacheMiss(ctx, p, step)
}

// cleanFrom removes state for step and every later step, and marks the
// part cleaned at those steps so dependents recompute dirtiness correctly.
func (e *Executor) cleanFrom(p *parts.Part, step parts.Step) error {
	st := e.store(p)
	for _, s := range append([]parts.Step{step}, step.NextSteps()...) {
		if err := st.Delete(s); err != nil {
			return err
		}
		e.markCleaned(p.Name, s)
	}
	return nil
}

// checkCollisions resolves every part's Stage fileset (against
// its install dir), applies its organize rename map to get the as-staged
// relative paths, and runs the CollisionChecker over the union before any
// part actually stages.
func (e *Executor) checkCollisions() error {
	byPart := make(map[string]map[string]string)
	for _, p := range e.Graph.Parts() {
		res, err := fileset.Resolve(p.Stage, p.PartInstallDir())
		if err != nil {
			return err
		}
		staged := fileset.ApplyOrganize(res.Files, p.Organize)
		files := make(map[string]string, len(res.Files))
		for i, rel := range staged {
			files[rel] = filepath.Join(p.PartInstallDir(), res.Files[i])
		}
		byPart[p.Name] = files
	}
	return collision.Check(e.StageDir, byPart)
}
