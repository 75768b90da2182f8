// Command partsctl is the command-line front end over the lifecycle
// façade, generalizing distri's cmd/distri verb-dispatch main() (build,
// install, ... against a single flag.String verb map) to the four
// lifecycle steps plus clean.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"golang.org/x/xerrors"

	distriparts "github.com/distr1/distri-parts"
	"github.com/distr1/distri-parts/internal/env"
	"github.com/distr1/distri-parts/internal/lifecycle/executor"
	"github.com/distr1/distri-parts/internal/lifecycle/parts"
	"github.com/distr1/distri-parts/internal/lifecycle/plugin"
	"github.com/distr1/distri-parts/internal/trace"
)

var (
	debug      = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")
	workDir    = flag.String("work_dir", "", "lifecycle working directory (default: "+env.DefaultWorkDir+")")
	input      = flag.String("input", "parts.yaml", "path to the input document")
	archFlag   = flag.String("arch", "", "target UTS machine name (default: host architecture)")
	ctracefile = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
	errorOnDirty = flag.Bool("error_on_dirty", false, "surface StepOutdated instead of automatically cleaning and re-running dirty/outdated steps")
)

type verb func(ctx context.Context, m *distriparts.Manager, args []string) error

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run() error {
	flag.Parse()

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return err
		}
		trace.Sink(f)
	}

	args := flag.Args()
	name := "prime"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// ctl talks over the PARTSCTL_CALL_FIFO/PARTSCTL_FEEDBACK_FIFO pair a
	// part's build commands inherit; it never needs a Manager.
	if name == "ctl" {
		return cmdCtl(ctx, args)
	}

	wd := *workDir
	if wd == "" {
		wd = env.DefaultWorkDir
	}

	doc, err := os.ReadFile(*input)
	if err != nil {
		return xerrors.Errorf("reading input document: %w", err)
	}

	m, err := distriparts.New(doc, wd, *archFlag)
	if err != nil {
		return xerrors.Errorf("building part graph: %w", err)
	}
	if *errorOnDirty {
		m.SetPolicy(executor.PolicyError)
	}

	verbs := map[string]verb{
		"pull":  func(ctx context.Context, m *distriparts.Manager, args []string) error { _, err := m.Pull(ctx, args); return err },
		"build": func(ctx context.Context, m *distriparts.Manager, args []string) error { _, err := m.Build(ctx, args); return err },
		"stage": func(ctx context.Context, m *distriparts.Manager, args []string) error { _, err := m.Stage(ctx, args); return err },
		"prime": func(ctx context.Context, m *distriparts.Manager, args []string) error { _, err := m.Prime(ctx, args); return err },
		"clean": cmdClean,
	}

	v, ok := verbs[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try pull, build, stage, prime, clean, ctl)", name)
	}

	if err := v(ctx, m, args); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", name, err)
		}
		return fmt.Errorf("%s: %v", name, err)
	}
	return nil
}

// cmdCtl is the scriptlet-facing client side of the call channel: it reads
// the FIFO pair a build command inherits, sends args[0] as the function
// name, and fails if the host's feedback is non-empty, mirroring
// partcraftctl's "any feedback is fatal" contract.
func cmdCtl(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("ctl: missing function name (pull, build, stage, or prime)")
	}
	ch, err := plugin.NewFIFOCallChannel(os.LookupEnv)
	if err != nil {
		return err
	}
	feedback, err := ch.Call(args[0], nil)
	if err != nil {
		return err
	}
	if feedback != "" {
		return fmt.Errorf("ctl %s: %s", args[0], feedback)
	}
	return nil
}

func cmdClean(_ context.Context, m *distriparts.Manager, args []string) error {
	step := parts.Pull
	if len(args) > 0 {
		if s, ok := parts.ParseStep(args[0]); ok {
			step = s
			args = args[1:]
		}
	}
	return m.Clean(args, step)
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s [-flags] <pull|build|stage|prime|clean|ctl> [part names...]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
