// Package state persists and loads per-(part,step) state records. Writes are
// atomic (write to a temp path, then rename), following the same
// renameio.WriteFile pattern distri uses for its build manifests and meta
// files (cmd/distri/build.go, cmd/distri/mirror.go).
package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

const schemaVersion = 1

// envelope wraps every persisted record with a schema version, so future
// format changes can be detected before decoding the payload.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Step          string          `json:"step"`
	Record        json.RawMessage `json:"record"`
}

// PullState is the persisted record for a Pull step.
type PullState struct {
	SourceURL       string            `json:"source_url"`
	SourceType      string            `json:"source_type"`
	Revision        string            `json:"revision,omitempty"`
	PullOptions     map[string]string `json:"pull_options,omitempty"`
	SourceOptions   map[string]string `json:"source_options,omitempty"`
	StagePackages   []string          `json:"stage_packages,omitempty"`
	ScriptletDigest string            `json:"scriptlet_digest,omitempty"`
}

// BuildState is the persisted record for a Build step.
type BuildState struct {
	BuildOptions    map[string]string `json:"build_options,omitempty"`
	BuildPackages   []string          `json:"build_packages,omitempty"`
	CrossCompiling  bool              `json:"cross_compiling"`
	ArchTriplet     string            `json:"arch_triplet"`
	BuildAttributes []string          `json:"build_attributes,omitempty"`
	ScriptletDigest string            `json:"scriptlet_digest,omitempty"`
}

// StageState is the persisted record for a Stage step.
type StageState struct {
	StagedPaths   []string `json:"staged_paths"` // sorted relative file paths after organize; directories are not recorded
	IncludeGlobs  []string `json:"include_globs,omitempty"`
	ExcludeGlobs  []string `json:"exclude_globs,omitempty"`
	OverlayPolicy string   `json:"overlay_policy"`
}

// PrimeState is the persisted record for a Prime step.
type PrimeState struct {
	PrimedPaths     []string `json:"primed_paths"`
	DependencyPaths []string `json:"dependency_paths,omitempty"` // resolved ELF closure
	IncludeGlobs    []string `json:"include_globs,omitempty"`
	ExcludeGlobs    []string `json:"exclude_globs,omitempty"`
	ScriptletDigest string   `json:"scriptlet_digest,omitempty"`
}

// Store reads and writes the persisted state of one part.
type Store struct {
	dir string // part_state_dir
}

// NewStore returns a Store bound to p's state directory.
func NewStore(p *parts.Part) *Store {
	return &Store{dir: p.PartStateDir()}
}

func (s *Store) path(step parts.Step) string {
	return filepath.Join(s.dir, step.String())
}

// Write serializes record using a canonical key-sorted JSON encoding and
// writes it atomically (temp file + rename) to <part_state_dir>/<step>.
func (s *Store) Write(step parts.Step, record interface{}) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	// Re-marshal through a map to force key-sorted output; json.Marshal
	// already sorts map keys, and encoding/json sorts struct fields in
	// declaration order, so round-tripping through map[string]interface{}
	// gives a canonical, diff-stable representation for structs with
	// nested maps too.
	var generic interface{}
	if err := json.Unmarshal(payload, &generic); err != nil {
		return err
	}
	canonical, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return err
	}
	env := envelope{
		SchemaVersion: schemaVersion,
		Step:          step.String(),
		Record:        canonical,
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path(step), b, 0644)
}

// Read returns the record for step, or ok=false if no state has been
// written yet. err is a *lcerrors.CorruptState when the file cannot be
// decoded, or the underlying error when it cannot be read.
func (s *Store) Read(step parts.Step, out interface{}) (ok bool, err error) {
	b, err := os.ReadFile(s.path(step))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return false, &lcerrors.CorruptState{Path: s.path(step), Err: err}
	}
	if env.SchemaVersion != schemaVersion {
		return false, &lcerrors.CorruptState{Path: s.path(step), Err: errUnsupportedSchema(env.SchemaVersion)}
	}
	if err := json.Unmarshal(env.Record, out); err != nil {
		return false, &lcerrors.CorruptState{Path: s.path(step), Err: err}
	}
	return true, nil
}

type errUnsupportedSchema int

func (e errUnsupportedSchema) Error() string {
	return "unsupported schema version"
}

// Delete removes the state file for step. A missing file is not an error.
func (s *Store) Delete(step parts.Step) error {
	err := os.Remove(s.path(step))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ModTime returns the modification time of step's state file, or the zero
// value if it has not been written.
func (s *Store) ModTime(step parts.Step) (modTime int64, ok bool) {
	fi, err := os.Stat(s.path(step))
	if err != nil {
		return 0, false
	}
	return fi.ModTime().UnixNano(), true
}

// Latest returns the highest step whose state exists, and ok=false if no
// step has run yet.
func (s *Store) Latest() (step parts.Step, ok bool) {
	for st := parts.Prime; st >= parts.Pull; st-- {
		if _, err := os.Stat(s.path(st)); err == nil {
			return st, true
		}
	}
	return 0, false
}
