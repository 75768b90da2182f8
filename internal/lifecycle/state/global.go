package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
)

// Grade is the required build grade recorded in GlobalState.
type Grade string

const (
	GradeStable Grade = "stable"
	GradeDevel  Grade = "devel"
)

// GlobalState is the process-wide record at <parts_dir>/.global_state:
// installed build-packages and build-snaps (deduplicated, insertion order
// preserved) and a required_grade set once and then read-only.
type GlobalState struct {
	BuildPackages []string `json:"build_packages"`
	BuildSnaps    []string `json:"build_snaps"`
	RequiredGrade Grade    `json:"required_grade,omitempty"`

	path string
	seen map[string]bool // dedup index over both BuildPackages and BuildSnaps, namespaced by kind
}

func globalStatePath(partsDir string) string {
	return filepath.Join(partsDir, ".global_state")
}

// LoadGlobalState loads <parts_dir>/.global_state, or returns a fresh,
// empty GlobalState if it does not yet exist.
func LoadGlobalState(partsDir string) (*GlobalState, error) {
	p := globalStatePath(partsDir)
	gs := &GlobalState{path: p, seen: make(map[string]bool)}

	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return gs, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, gs); err != nil {
		return nil, &lcerrors.CorruptState{Path: p, Err: err}
	}
	gs.path = p
	gs.seen = make(map[string]bool)
	for _, pkg := range gs.BuildPackages {
		gs.seen["pkg:"+pkg] = true
	}
	for _, snap := range gs.BuildSnaps {
		gs.seen["snap:"+snap] = true
	}
	return gs, nil
}

// Save writes the GlobalState atomically to its backing path.
func (gs *GlobalState) Save() error {
	if err := os.MkdirAll(filepath.Dir(gs.path), 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(gs, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(gs.path, b, 0644)
}

// AppendBuildPackages merges names into BuildPackages as a set-union,
// preserving the order names not already present were first seen.
func (gs *GlobalState) AppendBuildPackages(names ...string) {
	for _, n := range names {
		key := "pkg:" + n
		if gs.seen[key] {
			continue
		}
		gs.seen[key] = true
		gs.BuildPackages = append(gs.BuildPackages, n)
	}
}

// AppendBuildSnaps merges names into BuildSnaps as a set-union, preserving
// first-seen order.
func (gs *GlobalState) AppendBuildSnaps(names ...string) {
	for _, n := range names {
		key := "snap:" + n
		if gs.seen[key] {
			continue
		}
		gs.seen[key] = true
		gs.BuildSnaps = append(gs.BuildSnaps, n)
	}
}

// SetRequiredGrade sets RequiredGrade if it has not already been set.
// Callers must check HasRequiredGrade first if they need to distinguish
// "already set to the same value" from "just set".
func (gs *GlobalState) SetRequiredGrade(g Grade) (changed bool) {
	if gs.RequiredGrade != "" {
		return false
	}
	gs.RequiredGrade = g
	return true
}

// HasRequiredGrade reports whether a grade has been recorded yet.
func (gs *GlobalState) HasRequiredGrade() bool {
	return gs.RequiredGrade != ""
}

// MarshalJSON excludes the unexported bookkeeping fields from encoding.
func (gs *GlobalState) MarshalJSON() ([]byte, error) {
	type alias struct {
		BuildPackages []string `json:"build_packages"`
		BuildSnaps    []string `json:"build_snaps"`
		RequiredGrade Grade    `json:"required_grade,omitempty"`
	}
	return json.Marshal(alias{
		BuildPackages: gs.BuildPackages,
		BuildSnaps:    gs.BuildSnaps,
		RequiredGrade: gs.RequiredGrade,
	})
}
