// Package collision implements the CollisionChecker: before Stage
// runs, it verifies that no two parts write incompatible content to the
// same relative path in the shared stage directory.
package collision

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
)

// Entry is one part's contribution to the stage directory at a relative
// path.
type Entry struct {
	Part string
	Path string // absolute path on disk
}

// Check takes the set of parts about to stage, each with its resolved file
// list (relative paths), and the stage directory root, and reports the
// first collision found, or nil if none.
//
// byPart maps part name -> (relative path -> absolute source path) for
// every file that part intends to stage.
func Check(stageDir string, byPart map[string]map[string]string) error {
	// owner maps relative path -> (part name, absolute source path).
	owner := make(map[string]Entry)

	for part, files := range byPart {
		for rel, abs := range files {
			prev, exists := owner[rel]
			if !exists {
				owner[rel] = Entry{Part: part, Path: abs}
				continue
			}
			if err := reconcile(prev, Entry{Part: part, Path: abs}, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

func reconcile(a, b Entry, rel string) error {
	aInfo, aErr := os.Lstat(a.Path)
	bInfo, bErr := os.Lstat(b.Path)
	if aErr != nil || bErr != nil {
		return nil // missing files are a different failure class; not our concern here
	}

	aIsDir := aInfo.IsDir()
	bIsDir := bInfo.IsDir()
	aIsLink := aInfo.Mode()&os.ModeSymlink != 0
	bIsLink := bInfo.Mode()&os.ModeSymlink != 0

	switch {
	case aIsDir && bIsDir:
		return nil // directories merge

	case aIsLink && bIsLink:
		aTarget, err := os.Readlink(a.Path)
		if err != nil {
			return err
		}
		bTarget, err := os.Readlink(b.Path)
		if err != nil {
			return err
		}
		if aTarget == bTarget {
			return nil
		}
		return &lcerrors.Collision{PartA: a.Part, PartB: b.Part, Path: rel, Reason: "conflicting symlink targets"}

	case !aIsDir && !bIsDir && !aIsLink && !bIsLink:
		equal, err := contentEqual(a.Path, b.Path)
		if err != nil {
			return err
		}
		if equal {
			return nil
		}
		return &lcerrors.Collision{PartA: a.Part, PartB: b.Part, Path: rel, Reason: "differing file content"}

	default:
		return &lcerrors.Collision{PartA: a.Part, PartB: b.Part, Path: rel, Reason: "incompatible file types"}
	}
}

func contentEqual(a, b string) (bool, error) {
	fa, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if fa.Size() != fb.Size() {
		return false, nil
	}
	ab, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bb, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

// RelPath is a small helper shared with the executor: joins a stage-root
// relative path for diagnostics.
func RelPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	return rel
}
