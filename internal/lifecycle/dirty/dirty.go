// Package dirty implements the DirtyDetector: it decides whether a
// part+step's persisted state is still valid against the part's current
// declared configuration and against its dependencies' state timestamps.
package dirty

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
	"github.com/distr1/distri-parts/internal/lifecycle/state"
)

// Report describes why a step is dirty: the configuration keys whose
// current value differs from the persisted value, plus an optional
// dependency reason.
type Report struct {
	DifferingKeys []string
	DependencyHint string // e.g. "dependency c was cleaned" or "dependency b stage is newer"
}

func (r *Report) String() string {
	if r == nil {
		return ""
	}
	if r.DependencyHint != "" {
		return r.DependencyHint
	}
	return fmt.Sprintf("config changed: %v", r.DifferingKeys)
}

// Dependency bundles what the detector needs to know about one of a part's
// dependencies: whether it was cleaned since the last time this part's step
// ran, and the state store to read its timestamps from.
type Dependency struct {
	Name    string
	Store   *state.Store
	Cleaned bool
}

// Detector checks a single part+step for dirtiness.
type Detector struct{}

// New returns a Detector. It carries no state of its own; all inputs are
// passed explicitly to Check, mirroring the borrowed-context design used
// throughout the lifecycle (no back-references into the scheduler).
func New() *Detector { return &Detector{} }

// Check compares the persisted record for (p, step) against p's current
// declared configuration, and against the prerequisite-step timestamps and
// clean status of deps. A nil, nil return means the step is clean.
func (d *Detector) Check(p *parts.Part, step parts.Step, store *state.Store, deps []Dependency) (*Report, error) {
	if report := checkDependencies(step, store, deps); report != nil {
		return report, nil
	}

	switch step {
	case parts.Pull:
		var persisted state.PullState
		ok, err := store.Read(parts.Pull, &persisted)
		if err != nil || !ok {
			return nil, err
		}
		current := pullConfig(p)
		return diff(current, pullConfigFromState(persisted)), nil

	case parts.Build:
		var persisted state.BuildState
		ok, err := store.Read(parts.Build, &persisted)
		if err != nil || !ok {
			return nil, err
		}
		current := buildConfig(p)
		return diff(current, buildConfigFromState(persisted)), nil

	case parts.Stage:
		var persisted state.StageState
		ok, err := store.Read(parts.Stage, &persisted)
		if err != nil || !ok {
			return nil, err
		}
		current := stageConfig(p)
		return diff(current, stageConfigFromState(persisted)), nil

	case parts.Prime:
		var persisted state.PrimeState
		ok, err := store.Read(parts.Prime, &persisted)
		if err != nil || !ok {
			return nil, err
		}
		current := primeConfig(p)
		return diff(current, primeConfigFromState(persisted)), nil
	}
	return nil, nil
}

// checkDependencies implements "also dirty if any prerequisite step of any
// dependency has a newer state timestamp than this part's step, OR if a
// dependency was cleaned".
func checkDependencies(step parts.Step, store *state.Store, deps []Dependency) *Report {
	ownModTime, haveOwn := store.ModTime(step)
	for _, dep := range deps {
		if dep.Cleaned {
			return &Report{DependencyHint: fmt.Sprintf("dependency %q was cleaned", dep.Name)}
		}
		prereq, ok := step.DependencyPrerequisiteStep()
		if !ok {
			continue
		}
		depModTime, depHas := dep.Store.ModTime(prereq)
		if !depHas {
			continue
		}
		if !haveOwn || depModTime > ownModTime {
			return &Report{DependencyHint: fmt.Sprintf("dependency %q %s is newer than %s", dep.Name, prereq, step)}
		}
	}
	return nil
}

// config is a canonical key->value snapshot of the declared configuration
// that determines a step's output; diff compares two of these.
type config map[string]interface{}

func diff(current, persisted config) *Report {
	var keys []string
	for k, cv := range current {
		pv, ok := persisted[k]
		if !ok || !reflect.DeepEqual(cv, pv) {
			keys = append(keys, k)
		}
	}
	for k := range persisted {
		if _, ok := current[k]; !ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return &Report{DifferingKeys: keys}
}

func pullConfig(p *parts.Part) config {
	return config{
		"source":         p.Source,
		"stage_packages": append([]string(nil), p.StagePackages...),
	}
}

func pullConfigFromState(s state.PullState) config {
	return config{
		"source":         s.SourceURL,
		"stage_packages": s.StagePackages,
	}
}

func buildConfig(p *parts.Part) config {
	return config{
		"build_packages":   append([]string(nil), p.BuildPackages...),
		"build_attributes": append([]string(nil), p.BuildAttributes...),
	}
}

func buildConfigFromState(s state.BuildState) config {
	return config{
		"build_packages":   s.BuildPackages,
		"build_attributes": s.BuildAttributes,
	}
}

func stageConfig(p *parts.Part) config {
	return config{
		"stage_include": append([]string(nil), p.Stage.Include...),
		"stage_exclude": append([]string(nil), p.Stage.Exclude...),
	}
}

func stageConfigFromState(s state.StageState) config {
	return config{
		"stage_include": s.IncludeGlobs,
		"stage_exclude": s.ExcludeGlobs,
	}
}

func primeConfig(p *parts.Part) config {
	return config{
		"prime_include": append([]string(nil), p.Prime.Include...),
		"prime_exclude": append([]string(nil), p.Prime.Exclude...),
	}
}

func primeConfigFromState(s state.PrimeState) config {
	return config{
		"prime_include": s.IncludeGlobs,
		"prime_exclude": s.ExcludeGlobs,
	}
}
