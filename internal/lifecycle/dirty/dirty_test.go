package dirty

import (
	"testing"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
	"github.com/distr1/distri-parts/internal/lifecycle/state"
)

func testPart(t *testing.T, name string) *parts.Part {
	t.Helper()
	p := &parts.Part{Name: name, BuildPackages: []string{"gcc"}}
	p.SetWorkDir(t.TempDir())
	return p
}

func TestCheckBuildCleanWhenConfigMatches(t *testing.T) {
	p := testPart(t, "libfoo")
	store := state.NewStore(p)
	if err := store.Write(parts.Build, state.BuildState{BuildPackages: []string{"gcc"}}); err != nil {
		t.Fatal(err)
	}

	report, err := New().Check(p, parts.Build, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil (config unchanged)", report)
	}
}

func TestCheckBuildDirtyWhenPackagesChange(t *testing.T) {
	p := testPart(t, "libfoo")
	store := state.NewStore(p)
	if err := store.Write(parts.Build, state.BuildState{BuildPackages: []string{"gcc"}}); err != nil {
		t.Fatal(err)
	}

	p.BuildPackages = []string{"gcc", "cmake"} // declared config changed since state was written

	report, err := New().Check(p, parts.Build, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report == nil {
		t.Fatal("report = nil, want non-nil (build_packages changed)")
	}
	found := false
	for _, k := range report.DifferingKeys {
		if k == "build_packages" {
			found = true
		}
	}
	if !found {
		t.Fatalf("DifferingKeys = %v, want to include build_packages", report.DifferingKeys)
	}
}

func TestCheckNoStateIsNotDirty(t *testing.T) {
	p := testPart(t, "libfoo")
	store := state.NewStore(p)

	report, err := New().Check(p, parts.Build, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil (cache miss is not dirty)", report)
	}
}

func TestCheckDependencyCleanedMarksDirty(t *testing.T) {
	p := testPart(t, "app")
	store := state.NewStore(p)
	if err := store.Write(parts.Build, state.BuildState{}); err != nil {
		t.Fatal(err)
	}

	depPart := testPart(t, "libfoo")
	depStore := state.NewStore(depPart)

	report, err := New().Check(p, parts.Build, store, []Dependency{
		{Name: "libfoo", Store: depStore, Cleaned: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report == nil {
		t.Fatal("report = nil, want non-nil (dependency cleaned)")
	}
	if report.DependencyHint == "" {
		t.Fatal("DependencyHint empty, want explanation naming the cleaned dependency")
	}
}

func TestCheckDependencyNewerStageMarksDirty(t *testing.T) {
	p := testPart(t, "app")
	store := state.NewStore(p)
	if err := store.Write(parts.Build, state.BuildState{}); err != nil {
		t.Fatal(err)
	}

	depPart := testPart(t, "libfoo")
	depStore := state.NewStore(depPart)
	// dependency staged *after* app's build state was recorded
	if err := depStore.Write(parts.Stage, state.StageState{}); err != nil {
		t.Fatal(err)
	}

	report, err := New().Check(p, parts.Build, store, []Dependency{
		{Name: "libfoo", Store: depStore},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report == nil {
		t.Fatal("report = nil, want non-nil (dependency stage is newer)")
	}
}

func TestCheckPullDoesNotConsultDependencyPrerequisite(t *testing.T) {
	// Pull has no DependencyPrerequisiteStep, so a dependency's newer Stage
	// state must not mark Pull dirty.
	p := testPart(t, "app")
	store := state.NewStore(p)
	if err := store.Write(parts.Pull, state.PullState{SourceURL: p.Source}); err != nil {
		t.Fatal(err)
	}

	depPart := testPart(t, "libfoo")
	depStore := state.NewStore(depPart)
	if err := depStore.Write(parts.Stage, state.StageState{}); err != nil {
		t.Fatal(err)
	}

	report, err := New().Check(p, parts.Pull, store, []Dependency{
		{Name: "libfoo", Store: depStore},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil (pull ignores dependency prerequisites)", report)
	}
}
