// Package distriparts is the public façade over the lifecycle core: given
// an input document and a working directory, it builds the part graph and
// drives the StepExecutor through pull/build/stage/prime/clean, the way
// distri's root "distri" package exposes Repo as the entry point over its
// package-build machinery.
package distriparts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/distr1/distri-parts/internal/lifecycle/arch"
	"github.com/distr1/distri-parts/internal/lifecycle/executor"
	"github.com/distr1/distri-parts/internal/lifecycle/parts"
	"github.com/distr1/distri-parts/internal/lifecycle/plugin"
	"github.com/distr1/distri-parts/internal/lifecycle/state"
)

// Manager is the LifecycleManager façade: accepts a parsed parts
// definition, provides pull/build/stage/prime/clean, and drives the
// executor over the dependency-ordered graph.
type Manager struct {
	WorkDir string

	graph    *parts.PartGraph
	global   *state.GlobalState
	registry *plugin.Registry
	exec     *executor.Executor
	lock     *flock.Flock
}

// Dirs are the fixed subdirectories under work_dir.
type Dirs struct {
	Parts string
	Stage string
	Prime string
}

func dirsFor(workDir string) Dirs {
	return Dirs{
		Parts: filepath.Join(workDir, "parts"),
		Stage: filepath.Join(workDir, "stage"),
		Prime: filepath.Join(workDir, "prime"),
	}
}

// New parses doc (raw YAML bytes of the input document), builds the
// PartGraph, and wires an Executor against workDir for targetArch (a UTS
// machine name; empty means the host architecture).
func New(doc []byte, workDir, targetArch string) (*Manager, error) {
	parsed, err := parts.ParseDocument(doc)
	if err != nil {
		return nil, err
	}

	dirs := dirsFor(workDir)

	graph, err := parts.NewPartGraph(parsed, workDir)
	if err != nil {
		return nil, err
	}

	if targetArch == "" {
		targetArch = arch.Host()
	}
	archInfo, ok := arch.Lookup(targetArch)
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q", targetArch)
	}

	global, err := state.LoadGlobalState(dirs.Parts)
	if err != nil {
		return nil, err
	}

	registry := plugin.NewRegistry()
	exec := executor.New(graph, registry, global, archInfo, workDir, dirs.Parts, dirs.Stage, dirs.Prime)

	return &Manager{
		WorkDir:  workDir,
		graph:    graph,
		global:   global,
		registry: registry,
		exec:     exec,
		lock:     flock.New(filepath.Join(workDir, ".lock")),
	}, nil
}

// Registry exposes the plugin registry so callers can register_plugins and
// register_pre_step_callback/register_post_step_callback before
// running any step.
func (m *Manager) Registry() *plugin.Registry { return m.registry }

// SetPolicy sets the dirty/outdated handling policy.
func (m *Manager) SetPolicy(p executor.Policy) { m.exec.Policy = p }

// Pull runs every step up to and including Pull for names (nil/empty = all
// parts). ctx cancellation (e.g. an interrupt signal) aborts the run after
// the step in progress returns, propagating as the step's child process
// being terminated.
func (m *Manager) Pull(ctx context.Context, names []string) (ranAnything bool, err error) {
	return m.run(ctx, parts.Pull, names)
}

// Build runs every step up to and including Build.
func (m *Manager) Build(ctx context.Context, names []string) (ranAnything bool, err error) {
	return m.run(ctx, parts.Build, names)
}

// Stage runs every step up to and including Stage.
func (m *Manager) Stage(ctx context.Context, names []string) (ranAnything bool, err error) {
	return m.run(ctx, parts.Stage, names)
}

// Prime runs every step up to and including Prime.
func (m *Manager) Prime(ctx context.Context, names []string) (ranAnything bool, err error) {
	return m.run(ctx, parts.Prime, names)
}

// Clean removes persisted state for the named parts (all parts if names is
// empty) from the given step onward, without re-running anything.
func (m *Manager) Clean(names []string, from parts.Step) error {
	var target []*parts.Part
	if len(names) == 0 {
		target = m.graph.Parts()
	} else {
		for _, n := range names {
			if p, ok := m.graph.Part(n); ok {
				target = append(target, p)
			}
		}
	}
	for _, p := range target {
		st := state.NewStore(p)
		for _, s := range append([]parts.Step{from}, from.NextSteps()...) {
			if err := st.Delete(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) run(ctx context.Context, target parts.Step, names []string) (ranAnything bool, err error) {
	locked, err := m.lock.TryLock()
	if err != nil {
		return false, err
	}
	if !locked {
		return false, fmt.Errorf("work_dir %s is locked by another lifecycle run", m.WorkDir)
	}
	defer m.lock.Unlock()

	ranAnything, err = m.exec.Run(ctx, target, names)
	if err != nil {
		return ranAnything, err
	}
	return ranAnything, m.global.Save()
}

// Graph exposes the built PartGraph for callers that need get_dependencies
// / get_reverse_dependencies queries outside of a run.
func (m *Manager) Graph() *parts.PartGraph { return m.graph }
