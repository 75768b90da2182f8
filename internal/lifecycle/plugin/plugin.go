// Package plugin models the PluginHost: a tagged variant over the
// two plugin contract shapes (V1, V2), a process-wide registry of
// constructors, and the pre/post-step callback lists the StepExecutor
// drives. This generalizes distri's per-builder-kind dispatch in
// internal/build/build.go (which switched over a fixed set of "builder
// kinds" like cmake/meson/make) into an open, registerable plugin set.
package plugin

import (
	"fmt"
	"sync"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

// V1 is the older plugin contract: the host composes the environment and
// runs shell scripts the plugin does not see directly.
type V1 interface {
	Schema() map[string]interface{}
	GetBuildProperties() []string
	GetPullProperties() []string
	Pull(ctx *parts.PartData, options map[string]interface{}, environment []string) error
	Build(ctx *parts.PartData, options map[string]interface{}, environment []string) error
}

// V2 is the newer, declarative plugin contract: instead of executing code
// itself, the plugin returns data the host executes.
type V2 interface {
	GetSchema() map[string]interface{}
	GetBuildPackages(options map[string]interface{}) []string
	GetBuildSnaps(options map[string]interface{}) []string
	GetBuildEnvironment(ctx *parts.PartData, options map[string]interface{}) map[string]string
	GetBuildCommands(ctx *parts.PartData, options map[string]interface{}) []string
}

// Plugin is Plugin = V1(V1Impl) | V2(V2Impl): exactly one
// of V1Impl/V2Impl is set.
type Plugin struct {
	Name   string
	V1Impl V1
	V2Impl V2
}

func (p Plugin) IsV2() bool { return p.V2Impl != nil }

// Constructor builds a fresh Plugin instance for one part.
type Constructor func() Plugin

// Registry is the process-wide (but explicitly constructed and passed)
// mapping of plugin name to constructor, plus the ordered pre/post-step
// callback lists.
type Registry struct {
	mu           sync.Mutex
	constructors map[string]Constructor
	preStep      []Callback
	postStep     []Callback
}

// Callback is invoked with the PartData for the step about to run (pre) or
// that just ran (post). Callbacks must not mutate data.
type Callback func(data *parts.PartData) error

// NewRegistry returns a Registry seeded with the built-in plugins.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Load constructs the named plugin, or returns lcerrors.PluginLoad-shaped
// information via the returned error's dynamic type at the call site
// (callers wrap with lcerrors.PluginLoad including the part name).
func (r *Registry) Load(name string) (Plugin, error) {
	r.mu.Lock()
	ctor, ok := r.constructors[name]
	r.mu.Unlock()
	if !ok {
		return Plugin{}, fmt.Errorf("unknown plugin %q", name)
	}
	return ctor(), nil
}

// RegisterPreStepCallback appends to the ordered pre-step callback list.
func (r *Registry) RegisterPreStepCallback(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preStep = append(r.preStep, cb)
}

// RegisterPostStepCallback appends to the ordered post-step callback list.
func (r *Registry) RegisterPostStepCallback(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postStep = append(r.postStep, cb)
}

// RunPreStep invokes every registered pre-step callback in registration
// order, stopping at the first error.
func (r *Registry) RunPreStep(data *parts.PartData) error {
	r.mu.Lock()
	cbs := append([]Callback(nil), r.preStep...)
	r.mu.Unlock()
	for _, cb := range cbs {
		if err := cb(data); err != nil {
			return err
		}
	}
	return nil
}

// RunPostStep invokes every registered post-step callback in registration
// order, stopping at the first error.
func (r *Registry) RunPostStep(data *parts.PartData) error {
	r.mu.Lock()
	cbs := append([]Callback(nil), r.postStep...)
	r.mu.Unlock()
	for _, cb := range cbs {
		if err := cb(data); err != nil {
			return err
		}
	}
	return nil
}
