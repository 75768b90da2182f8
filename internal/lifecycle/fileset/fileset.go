// Package fileset resolves a part's stage/prime include/exclude glob
// patterns against a root directory into a deterministic, sorted list of
// relative paths.
package fileset

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

// Result is a resolved fileset: the sorted relative file paths it selects,
// plus the set of directory paths implied by those files (tracked
// separately so cleanup can remove directories only once they are empty).
type Result struct {
	Files       []string
	Directories []string
}

// Resolve walks root and applies fs's include/exclude patterns:
//  1. empty includes or an include of "*" means "everything under root";
//  2. otherwise union the include-pattern matches;
//  3. remove exclude-pattern matches (Fileset.Exclude holds the declared
//     "-"-prefixed patterns); no pattern re-includes a removed path;
//  4. sort the result lexicographically.
func Resolve(fs parts.Fileset, root string) (Result, error) {
	all, dirs, err := walk(root)
	if err != nil {
		return Result{}, err
	}

	var selected []string
	if len(fs.Include) == 0 || containsStar(fs.Include) {
		selected = all
	} else {
		includes, err := compileAll(fs.Include)
		if err != nil {
			return Result{}, err
		}
		for _, rel := range all {
			if matchesAny(includes, rel) {
				selected = append(selected, rel)
			}
		}
	}

	if len(fs.Exclude) > 0 {
		excludes, err := compileAll(fs.Exclude)
		if err != nil {
			return Result{}, err
		}
		kept := selected[:0:0]
		for _, rel := range selected {
			if !matchesAny(excludes, rel) {
				kept = append(kept, rel)
			}
		}
		selected = kept
	}

	sort.Strings(selected)

	selectedSet := make(map[string]bool, len(selected))
	for _, rel := range selected {
		selectedSet[rel] = true
	}
	var impliedDirs []string
	for _, d := range dirs {
		if impliesDir(selectedSet, d) {
			impliedDirs = append(impliedDirs, d)
		}
	}
	sort.Strings(impliedDirs)

	return Result{Files: selected, Directories: impliedDirs}, nil
}

// ApplyOrganize renames each of files according to organize, a part's
// declared source-relative-path -> destination-relative-path mapping
// applied between Build and Stage. An exact match renames the whole path;
// otherwise the longest matching directory prefix is rewritten and the
// remainder of the path is kept. Paths with no matching entry are
// returned unchanged. The result is a parallel slice (same order, same
// length as files); callers that need a sorted StagedPaths list sort it
// themselves.
func ApplyOrganize(files []string, organize map[string]string) []string {
	if len(organize) == 0 {
		return files
	}
	out := make([]string, len(files))
	for i, rel := range files {
		out[i] = organizeOne(rel, organize)
	}
	return out
}

func organizeOne(rel string, organize map[string]string) string {
	if dst, ok := organize[rel]; ok {
		return dst
	}
	bestSrc := ""
	for src := range organize {
		prefix := src + "/"
		if len(rel) > len(prefix) && rel[:len(prefix)] == prefix && len(src) > len(bestSrc) {
			bestSrc = src
		}
	}
	if bestSrc == "" {
		return rel
	}
	return organize[bestSrc] + rel[len(bestSrc):]
}

func containsStar(patterns []string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func matchesAny(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func impliesDir(selectedFiles map[string]bool, dir string) bool {
	prefix := dir + "/"
	for f := range selectedFiles {
		if len(f) > len(prefix) && f[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// walk returns every regular file (relative to root) and every directory
// (relative to root) beneath it.
func walk(root string) (files, dirs []string, err error) {
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && path == root {
				return nil
			}
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if info.IsDir() {
			dirs = append(dirs, rel)
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	return files, dirs, err
}
