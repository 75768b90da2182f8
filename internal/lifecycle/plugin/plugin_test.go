package plugin

import (
	"errors"
	"testing"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

func TestNewRegistryHasDumpBuiltin(t *testing.T) {
	r := NewRegistry()
	p, err := r.Load("dump")
	if err != nil {
		t.Fatalf("Load(dump): %v", err)
	}
	if !p.IsV2() {
		t.Fatal("dump plugin should be a V2 plugin")
	}
}

func TestLoadUnknownPlugin(t *testing.T) {
	r := NewRegistry()
	_, err := r.Load("nonexistent")
	if err == nil {
		t.Fatal("Load(nonexistent) should fail")
	}
}

func TestRegisterOverridesConstructor(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func() Plugin {
		return Plugin{Name: "custom", V1Impl: fakeV1{}}
	})
	p, err := r.Load("custom")
	if err != nil {
		t.Fatal(err)
	}
	if p.IsV2() {
		t.Fatal("custom plugin should be V1")
	}
}

func TestPreStepPostStepCallbackOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	r.RegisterPreStepCallback(func(*parts.PartData) error {
		order = append(order, "pre1")
		return nil
	})
	r.RegisterPreStepCallback(func(*parts.PartData) error {
		order = append(order, "pre2")
		return nil
	})
	r.RegisterPostStepCallback(func(*parts.PartData) error {
		order = append(order, "post1")
		return nil
	})

	data := &parts.PartData{Part: "libfoo"}
	if err := r.RunPreStep(data); err != nil {
		t.Fatal(err)
	}
	if err := r.RunPostStep(data); err != nil {
		t.Fatal(err)
	}

	want := []string{"pre1", "pre2", "post1"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunPreStepStopsAtFirstError(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("boom")
	var ran2 bool
	r.RegisterPreStepCallback(func(*parts.PartData) error { return wantErr })
	r.RegisterPreStepCallback(func(*parts.PartData) error { ran2 = true; return nil })

	err := r.RunPreStep(&parts.PartData{})
	if err != wantErr {
		t.Fatalf("RunPreStep err = %v, want %v", err, wantErr)
	}
	if ran2 {
		t.Fatal("second callback should not have run after the first errored")
	}
}

type fakeV1 struct{}

func (fakeV1) Schema() map[string]interface{}   { return nil }
func (fakeV1) GetBuildProperties() []string      { return nil }
func (fakeV1) GetPullProperties() []string       { return nil }
func (fakeV1) Pull(*parts.PartData, map[string]interface{}, []string) error  { return nil }
func (fakeV1) Build(*parts.PartData, map[string]interface{}, []string) error { return nil }
