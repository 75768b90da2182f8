package collision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCheckNoCollisionIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	aFile := filepath.Join(dir, "a", "etc", "foo")
	bFile := filepath.Join(dir, "b", "etc", "foo")
	writeFile(t, aFile, "same content")
	writeFile(t, bFile, "same content")

	err := Check(dir, map[string]map[string]string{
		"parta": {"etc/foo": aFile},
		"partb": {"etc/foo": bFile},
	})
	if err != nil {
		t.Fatalf("Check: %v, want nil (identical content)", err)
	}
}

func TestCheckCollisionDifferingContent(t *testing.T) {
	dir := t.TempDir()
	aFile := filepath.Join(dir, "a", "etc", "foo")
	bFile := filepath.Join(dir, "b", "etc", "foo")
	writeFile(t, aFile, "content one")
	writeFile(t, bFile, "content two, different length")

	err := Check(dir, map[string]map[string]string{
		"parta": {"etc/foo": aFile},
		"partb": {"etc/foo": bFile},
	})
	if err == nil {
		t.Fatal("Check: expected collision error, got nil")
	}
	if _, ok := err.(*lcerrors.Collision); !ok {
		t.Fatalf("err type = %T, want *lcerrors.Collision", err)
	}
}

func TestCheckDirectoriesMerge(t *testing.T) {
	dir := t.TempDir()
	aDir := filepath.Join(dir, "a", "usr", "lib")
	bDir := filepath.Join(dir, "b", "usr", "lib")
	if err := os.MkdirAll(aDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(bDir, 0755); err != nil {
		t.Fatal(err)
	}

	err := Check(dir, map[string]map[string]string{
		"parta": {"usr/lib": aDir},
		"partb": {"usr/lib": bDir},
	})
	if err != nil {
		t.Fatalf("Check: %v, want nil (directories merge)", err)
	}
}

func TestCheckSymlinkCollision(t *testing.T) {
	dir := t.TempDir()
	aTarget := filepath.Join(dir, "a-target")
	bTarget := filepath.Join(dir, "b-target")
	writeFile(t, aTarget, "x")
	writeFile(t, bTarget, "y")

	aLink := filepath.Join(dir, "a", "bin", "foo")
	bLink := filepath.Join(dir, "b", "bin", "foo")
	if err := os.MkdirAll(filepath.Dir(aLink), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(bLink), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(aTarget, aLink); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(bTarget, bLink); err != nil {
		t.Fatal(err)
	}

	err := Check(dir, map[string]map[string]string{
		"parta": {"bin/foo": aLink},
		"partb": {"bin/foo": bLink},
	})
	if err == nil {
		t.Fatal("expected collision for differing symlink targets")
	}
}

func TestCheckMixedTypeCollision(t *testing.T) {
	dir := t.TempDir()
	aFile := filepath.Join(dir, "a", "x")
	bDir := filepath.Join(dir, "b", "x")
	writeFile(t, aFile, "content")
	if err := os.MkdirAll(bDir, 0755); err != nil {
		t.Fatal(err)
	}

	err := Check(dir, map[string]map[string]string{
		"parta": {"x": aFile},
		"partb": {"x": bDir},
	})
	if err == nil {
		t.Fatal("expected collision for file-vs-directory at same path")
	}
}
