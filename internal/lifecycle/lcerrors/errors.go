// Package lcerrors declares the semantic error kinds raised by the
// lifecycle engine (distri's error handling style: small typed structs
// implementing error, not a generic error-code enum).
package lcerrors

import "fmt"

// MissingDependency is raised when a part's `after` list names a part that
// does not exist in the parts mapping.
type MissingDependency struct {
	Part    string
	Missing string
}

func (e *MissingDependency) Error() string {
	return fmt.Sprintf("part %q depends on undefined part %q", e.Part, e.Missing)
}

// CircularDependency is raised when the parts graph cannot be topologically
// ordered.
type CircularDependency struct {
	Remaining []string // names of parts still in the pool when sorting got stuck
}

func (e *CircularDependency) Error() string {
	return fmt.Sprintf("circular dependency among parts: %v", e.Remaining)
}

// PluginLoad is raised when a part names a plugin that is not registered, or
// whose constructor fails.
type PluginLoad struct {
	Part   string
	Plugin string
	Err    error
}

func (e *PluginLoad) Error() string {
	return fmt.Sprintf("part %q: loading plugin %q: %v", e.Part, e.Plugin, e.Err)
}

func (e *PluginLoad) Unwrap() error { return e.Err }

// StepCommand is raised when a step's generated shell script exits non-zero.
type StepCommand struct {
	Command  string
	ExitCode int
}

func (e *StepCommand) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
}

// StepOutdated is raised under the ERROR dirty/outdated policy instead of
// automatically cleaning and re-running.
type StepOutdated struct {
	Part    string
	Step    fmt.Stringer
	Summary string
}

func (e *StepOutdated) Error() string {
	return fmt.Sprintf("part %q: step %s is outdated: %s", e.Part, e.Step, e.Summary)
}

// Collision is raised by the CollisionChecker when two parts stage
// incompatible content at the same relative path.
type Collision struct {
	PartA, PartB string
	Path         string
	Reason       string
}

func (e *Collision) Error() string {
	return fmt.Sprintf("parts %q and %q collide at %q: %s", e.PartA, e.PartB, e.Path, e.Reason)
}

// CorruptState is raised when a persisted state file fails to decode.
type CorruptState struct {
	Path string
	Err  error
}

func (e *CorruptState) Error() string {
	return fmt.Sprintf("state file %q is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptState) Unwrap() error { return e.Err }

// Environment is raised when a scriptlet references an environment variable
// that was never populated.
type Environment struct {
	Variable string
	Hint     string
}

func (e *Environment) Error() string {
	return fmt.Sprintf("environment variable %q is required but unset: %s", e.Variable, e.Hint)
}
