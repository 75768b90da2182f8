// Package env assembles a part's build environment, generalizing
// distri's Ctx.env()/runtimeEnv() (internal/build/build.go): probe a fixed
// set of standard subdirectories under each relevant root and append the
// corresponding variable only when the directory exists, then run the
// composed environment through a generated shell script the way distri's
// builder execs its compiled commands.
package env

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

// probe is one "append VAR=dirs if any of dirs exists" rule.
type probe struct {
	variable string
	subdirs  []string // relative to the root being probed
}

var buildProbes = []probe{
	{"PATH", []string{"bin", "usr/bin", "sbin", "usr/sbin"}},
	{"LD_LIBRARY_PATH", []string{"lib", "usr/lib"}},
	{"PKG_CONFIG_PATH", []string{"lib/pkgconfig", "usr/lib/pkgconfig", "share/pkgconfig"}},
	{"CPPFLAGS", []string{"include", "usr/include"}},
	{"CFLAGS", []string{"include", "usr/include"}},
	{"CXXFLAGS", []string{"include", "usr/include"}},
	{"LDFLAGS", []string{"lib", "usr/lib"}},
}

// flagStyle reports whether variable's value should be formatted as a
// compiler-flag list (-I/-L) rather than a bare colon-joined path list.
func flagStyle(variable string) (prefix string, ok bool) {
	switch variable {
	case "CPPFLAGS", "CFLAGS", "CXXFLAGS":
		return "-I", true
	case "LDFLAGS":
		return "-L", true
	}
	return "", false
}

// Builder assembles and runs a part's composed environment.
type Builder struct {
	ArchTriplet string
}

// Assemble composes the ordered environment list for part p building
// against stageDir, adding part-directory variables and the declared
// build-environment of every part in deps (root_part=false mode: not
// re-probed against each dependency's own install dir; the executor passes
// direct and transitive dependencies), then deduplicating by variable name,
// keeping the first occurrence.
func (b *Builder) Assemble(p *parts.Part, stageDir string, pluginEnv map[string]string, deps []*parts.Part) []string {
	var ordered []string
	seen := make(map[string]bool)
	add := func(assignment string) {
		name := assignment
		if i := strings.IndexByte(assignment, '='); i >= 0 {
			name = assignment[:i]
		}
		if seen[name] {
			return
		}
		seen[name] = true
		ordered = append(ordered, assignment)
	}

	// 2. plugin-provided env for install_dir.
	for k, v := range pluginEnv {
		add(k + "=" + v)
	}

	// 3. runtime env for install_dir, stage_dir.
	for _, assignment := range probeEnv(p.PartInstallDir()) {
		add(assignment)
	}
	for _, assignment := range probeEnv(stageDir) {
		add(assignment)
	}

	// 4. build env for install_dir and stage env (declared build-environment).
	for _, assignment := range p.BuildEnvironment {
		add(assignment)
	}

	// 5. part-directory variables.
	add("PART_SRC=" + p.PartSourceDir())
	add("PART_BUILD=" + p.PartBuildDir())
	add("PART_INSTALL=" + p.PartInstallDir())
	add("PART_STATE=" + p.PartStateDir())
	add("ARCH_TRIPLET=" + b.ArchTriplet)

	// 6. append each dependency's env entries (root_part=false: the
	// dependency's own declared env, not re-probed against its install dir).
	for _, dep := range deps {
		for _, assignment := range dep.BuildEnvironment {
			add(assignment)
		}
	}

	return ordered
}

// probeEnv returns the standard-subdirectory environment assignments for
// root, skipping any variable whose subdirectories do not exist.
func probeEnv(root string) []string {
	var out []string
	for _, pr := range buildProbes {
		var existing []string
		for _, sub := range pr.subdirs {
			dir := filepath.Join(root, sub)
			if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
				existing = append(existing, dir)
			}
		}
		if len(existing) == 0 {
			continue
		}
		if prefix, ok := flagStyle(pr.variable); ok {
			var flags string
			for i, dir := range existing {
				if i > 0 {
					flags += " "
				}
				flags += prefix + dir
			}
			out = append(out, pr.variable+"="+flags)
			continue
		}
		out = append(out, pr.variable+"="+strings.Join(existing, ":"))
	}
	return out
}

// Run writes cmd, after a cd into workDir, to a generated shell script
// under dir and executes it with /bin/sh, passing environment as the
// shell's entire environment, returning lcerrors.StepCommand on non-zero
// exit. ctx cancellation kills the shell process; processes the shell has
// started are not signalled.
func Run(ctx context.Context, dir, workDir string, environment []string, cmd string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	script, err := os.CreateTemp(dir, "step-*.sh")
	if err != nil {
		return err
	}
	defer os.Remove(script.Name())

	fmt.Fprintf(script, "#!/bin/sh\nset -e\ncd %s\n%s\n", shellQuote(workDir), cmd)
	if err := script.Close(); err != nil {
		return err
	}
	if err := os.Chmod(script.Name(), 0755); err != nil {
		return err
	}

	c := exec.CommandContext(ctx, "/bin/sh", script.Name())
	c.Env = environment
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		exitCode := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &lcerrors.StepCommand{Command: cmd, ExitCode: exitCode}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + s + "'"
}
