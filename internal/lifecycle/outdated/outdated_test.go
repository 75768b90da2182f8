package outdated

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

func testPart(t *testing.T) *parts.Part {
	t.Helper()
	p := &parts.Part{Name: "libfoo"}
	p.SetWorkDir(t.TempDir())
	return p
}

func TestCheckNoStateIsNotOutdated(t *testing.T) {
	p := testPart(t)
	report, err := New().Check(p, parts.Build, time.Time{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil (no state yet = cache miss, not outdated)", report)
	}
}

func TestCheckUpToDate(t *testing.T) {
	p := testPart(t)
	if err := os.MkdirAll(p.PartSourceDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.PartSourceDir(), "main.c"), []byte("int main(){}"), 0644); err != nil {
		t.Fatal(err)
	}

	// state recorded well after the source file's mtime
	stateTime := time.Now().Add(1 * time.Hour)

	report, err := New().Check(p, parts.Build, stateTime, true)
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil (state newer than source)", report)
	}
}

func TestCheckOutdatedWhenSourceNewerThanState(t *testing.T) {
	p := testPart(t)
	if err := os.MkdirAll(p.PartSourceDir(), 0755); err != nil {
		t.Fatal(err)
	}
	srcFile := filepath.Join(p.PartSourceDir(), "main.c")
	if err := os.WriteFile(srcFile, []byte("int main(){}"), 0644); err != nil {
		t.Fatal(err)
	}

	// state recorded well before the source file's current mtime
	stateTime := time.Now().Add(-1 * time.Hour)

	report, err := New().Check(p, parts.Build, stateTime, true)
	if err != nil {
		t.Fatal(err)
	}
	if report == nil {
		t.Fatal("report = nil, want non-nil (source newer than recorded state)")
	}
	if report.NewestInput != srcFile {
		t.Fatalf("NewestInput = %q, want %q", report.NewestInput, srcFile)
	}
}

func TestCheckMissingRootIsNotOutdated(t *testing.T) {
	p := testPart(t) // PartSourceDir never created
	report, err := New().Check(p, parts.Build, time.Now(), true)
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil (missing root directory)", report)
	}
}
