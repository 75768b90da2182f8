package fileset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolveEmptyIncludeMeansEverything(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "bin/foo", "usr/lib/libfoo.so", "etc/foo.conf")

	res, err := Resolve(parts.Fileset{}, root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bin/foo", "etc/foo.conf", "usr/lib/libfoo.so"}
	if !reflect.DeepEqual(res.Files, want) {
		t.Fatalf("Files = %v, want %v", res.Files, want)
	}
}

func TestResolveIncludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "bin/foo", "bin/bar.so", "usr/lib/libfoo.so")

	res, err := Resolve(parts.Fileset{Include: []string{"bin/*"}}, root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bin/bar.so", "bin/foo"}
	if !reflect.DeepEqual(res.Files, want) {
		t.Fatalf("Files = %v, want %v", res.Files, want)
	}
}

func TestResolveExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "usr/lib/libfoo.so", "usr/lib/libfoo.la", "usr/lib/libbar.so")

	res, err := Resolve(parts.Fileset{
		Include: []string{"usr/lib/*"},
		Exclude: []string{"usr/lib/*.la"},
	}, root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"usr/lib/libbar.so", "usr/lib/libfoo.so"}
	if !reflect.DeepEqual(res.Files, want) {
		t.Fatalf("Files = %v, want %v", res.Files, want)
	}
}

func TestResolveStarIncludeMatchesEverything(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a/b/c", "d")

	res, err := Resolve(parts.Fileset{Include: []string{"*"}}, root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a/b/c", "d"}
	if !reflect.DeepEqual(res.Files, want) {
		t.Fatalf("Files = %v, want %v", res.Files, want)
	}
}

func TestResolveImpliedDirectories(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "usr/lib/libfoo.so", "usr/share/doc/readme")

	res, err := Resolve(parts.Fileset{Include: []string{"usr/lib/*"}}, root)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range res.Directories {
		if d == "usr/share" || d == "usr/share/doc" {
			t.Fatalf("Directories unexpectedly includes excluded-branch dir %q: %v", d, res.Directories)
		}
	}
	found := false
	for _, d := range res.Directories {
		if d == "usr" || d == "usr/lib" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Directories missing implied parent dirs: %v", res.Directories)
	}
}

func TestApplyOrganizeExactMatch(t *testing.T) {
	got := ApplyOrganize([]string{"usr/bin/foo", "etc/foo.conf"}, map[string]string{
		"usr/bin/foo": "bin/foo",
	})
	want := []string{"bin/foo", "etc/foo.conf"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ApplyOrganize = %v, want %v", got, want)
	}
}

func TestApplyOrganizeDirectoryPrefix(t *testing.T) {
	got := ApplyOrganize(
		[]string{"build-output/lib/libfoo.so", "build-output/lib/libfoo.so.1", "etc/foo.conf"},
		map[string]string{"build-output/lib": "usr/lib"},
	)
	want := []string{"usr/lib/libfoo.so", "usr/lib/libfoo.so.1", "etc/foo.conf"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ApplyOrganize = %v, want %v", got, want)
	}
}

func TestApplyOrganizeLongestPrefixWins(t *testing.T) {
	got := ApplyOrganize(
		[]string{"a/b/c/file"},
		map[string]string{"a": "A", "a/b/c": "ABC"},
	)
	want := []string{"ABC/file"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ApplyOrganize = %v, want %v", got, want)
	}
}

func TestApplyOrganizeNoMapping(t *testing.T) {
	files := []string{"etc/foo.conf"}
	got := ApplyOrganize(files, nil)
	if !reflect.DeepEqual(got, files) {
		t.Fatalf("ApplyOrganize = %v, want unchanged %v", got, files)
	}
}

func TestApplyOrganizeUnmatchedPathUnchanged(t *testing.T) {
	got := ApplyOrganize([]string{"etc/foo.conf"}, map[string]string{"usr/bin/foo": "bin/foo"})
	want := []string{"etc/foo.conf"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ApplyOrganize = %v, want %v", got, want)
	}
}
