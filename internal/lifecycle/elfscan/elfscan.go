// Package elfscan implements the ElfScanner: during Prime, it parses
// every ELF file under the prime directory, resolves its dynamic library
// dependencies, and produces the runtime-library closure priming needs.
//
// Dependency resolution follows distri's internal/build/shlibdeps.go: shell
// out to ldd with a composed LD_LIBRARY_PATH and parse its output, falling
// back to a directory crawl when ldd fails. ELF parsing itself uses the
// standard library's debug/elf, as distri's internal/build/dwarf.go and
// cmd/distri/buildid.go do.
package elfscan

import (
	"bytes"
	"debug/elf"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Record is everything the scanner extracts from one ELF file.
type Record struct {
	Path            string
	Class           string // "32" or "64"
	Data            string // "le" or "be"
	Machine         string
	Interpreter     string
	SONAME          string
	Needed          []string
	GlibcVersion    string
	ExecutableStack bool
	BuildID         string
	HasDebugInfo    bool

	// Dependencies is the resolved closure for this file's DT_NEEDED
	// entries that are not classified in_base.
	Dependencies []string
}

// Result is the total, order-independent output of a scan.
type Result struct {
	Records      []Record
	Closure      []string // deduplicated, sorted union of all Dependencies
	GlibcVersion string   // max GLIBC_x.y seen across all records
}

// SonameCache maps (arch triplet, soname) to a resolved path. It is held
// per-lifecycle and written only by the crawl fallback.
type SonameCache struct {
	mu      sync.Mutex
	entries map[cacheKey]string
}

type cacheKey struct{ triplet, soname string }

func NewSonameCache() *SonameCache {
	return &SonameCache{entries: make(map[cacheKey]string)}
}

func (c *SonameCache) get(triplet, soname string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[cacheKey{triplet, soname}]
	return p, ok
}

func (c *SonameCache) put(triplet, soname, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{triplet, soname}] = path
}

// Trim removes every cache entry whose resolved path does not start with
// root, used when re-scanning a subtree.
func (c *SonameCache) Trim(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		if !strings.HasPrefix(v, root) {
			delete(c.entries, k)
		}
	}
}

// Scanner resolves ELF dependencies under a set of content roots.
type Scanner struct {
	Triplet    string
	ContentDirs []string // roots searched for libraries, e.g. stage_dir
	BaseDir    string   // optional; resolved libs under this prefix are in_base
	LDD        string   // defaults to "ldd"
	Cache      *SonameCache
	Concurrency int // defaults to 8
}

func New(triplet string, contentDirs []string, baseDir string) *Scanner {
	return &Scanner{
		Triplet:     triplet,
		ContentDirs: contentDirs,
		BaseDir:     baseDir,
		LDD:         "ldd",
		Cache:       NewSonameCache(),
		Concurrency: 8,
	}
}

// Scan parses and resolves every file in files concurrently. Errors on
// individual files (I/O or parse errors) are logged and that file is
// skipped; they do not make Scan fail.
func (s *Scanner) Scan(files []string) (Result, error) {
	records := make([]Record, len(files))
	keep := make([]bool, len(files))

	limit := s.Concurrency
	if limit <= 0 {
		limit = 8
	}
	var g errgroup.Group
	sem := make(chan struct{}, limit)

	for i, fn := range files {
		i, fn := i, fn
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			rec, isELF, err := s.scanOne(fn)
			if err != nil {
				log.Printf("elfscan: skipping %s: %v", fn, err)
				return nil
			}
			if isELF {
				records[i] = rec
				keep[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var out []Record
	closureSet := make(map[string]bool)
	maxGlibc := ""
	for i, k := range keep {
		if !k {
			continue
		}
		out = append(out, records[i])
		for _, d := range records[i].Dependencies {
			closureSet[d] = true
		}
		if glibcNewer(records[i].GlibcVersion, maxGlibc) {
			maxGlibc = records[i].GlibcVersion
		}
	}
	var closure []string
	for d := range closureSet {
		closure = append(closure, d)
	}
	sort.Strings(closure)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return Result{Records: out, Closure: closure, GlibcVersion: maxGlibc}, nil
}

// scanOne identifies, parses and resolves a single file. isELF is false
// (with a nil error) for files that are not regular ELF objects,
// point 1 (skip silently rather than treat as an error).
func (s *Scanner) scanOne(fn string) (rec Record, isELF bool, err error) {
	fi, err := os.Lstat(fn)
	if err != nil {
		return rec, false, err
	}
	if !fi.Mode().IsRegular() || strings.HasSuffix(fn, ".o") {
		return rec, false, nil
	}

	magic := make([]byte, 4)
	f, err := os.Open(fn)
	if err != nil {
		return rec, false, err
	}
	_, rerr := f.Read(magic)
	f.Close()
	if rerr != nil || !bytes.Equal(magic, []byte{0x7F, 'E', 'L', 'F'}) {
		return rec, false, nil
	}

	ef, err := elf.Open(fn)
	if err != nil {
		return rec, false, fmt.Errorf("parsing ELF: %w", err)
	}
	defer ef.Close()

	rec = Record{Path: fn}
	rec.Class = classString(ef.Class)
	rec.Data = dataString(ef.Data)
	rec.Machine = ef.Machine.String()

	for _, p := range ef.Progs {
		if p.Type == elf.PT_INTERP {
			data := make([]byte, p.Filesz)
			if _, err := p.ReadAt(data, 0); err == nil {
				rec.Interpreter = strings.TrimRight(string(data), "\x00")
			}
		}
		if p.Type == elf.PT_GNU_STACK {
			rec.ExecutableStack = p.Flags&elf.PF_X != 0
		}
	}

	if soname, err := ef.DynString(elf.DT_SONAME); err == nil && len(soname) > 0 {
		rec.SONAME = soname[0]
	}
	if needed, err := ef.ImportedLibraries(); err == nil {
		rec.Needed = needed
	}

	if syms, err := ef.DynamicSymbols(); err == nil {
		for _, sym := range syms {
			if v := glibcVersionTag(sym.Version); v != "" && glibcNewer(v, rec.GlibcVersion) {
				rec.GlibcVersion = v
			}
		}
	}

	if sect := ef.Section(".note.gnu.build-id"); sect != nil {
		if data, err := sect.Data(); err == nil {
			rec.BuildID = parseBuildIDNote(data)
		}
	}
	rec.HasDebugInfo = ef.Section(".debug_info") != nil

	deps, err := s.resolve(fn, rec.Needed)
	if err != nil {
		return rec, true, err
	}
	rec.Dependencies = deps

	return rec, true, nil
}

func classString(c elf.Class) string {
	if c == elf.ELFCLASS64 {
		return "64"
	}
	return "32"
}

func dataString(d elf.Data) string {
	if d == elf.ELFDATA2MSB {
		return "be"
	}
	return "le"
}

var glibcVersionRe = regexp.MustCompile(`^GLIBC_(\d+)\.(\d+)$`)

func glibcVersionTag(version string) string {
	if glibcVersionRe.MatchString(version) {
		return version
	}
	return ""
}

// glibcNewer reports whether a is a strictly newer GLIBC_x.y tag than b (b
// may be empty).
func glibcNewer(a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	am := glibcVersionRe.FindStringSubmatch(a)
	bm := glibcVersionRe.FindStringSubmatch(b)
	if am == nil || bm == nil {
		return a > b
	}
	aMaj, _ := strconv.Atoi(am[1])
	aMin, _ := strconv.Atoi(am[2])
	bMaj, _ := strconv.Atoi(bm[1])
	bMin, _ := strconv.Atoi(bm[2])
	if aMaj != bMaj {
		return aMaj > bMaj
	}
	return aMin > bMin
}

func parseBuildIDNote(data []byte) string {
	// ELF note: namesz(4) descsz(4) type(4) name(namesz, padded) desc(descsz, padded)
	if len(data) < 12 {
		return ""
	}
	namesz := le32(data[0:4])
	descsz := le32(data[4:8])
	nameEnd := 12 + align4(namesz)
	if int(nameEnd)+int(descsz) > len(data) {
		return ""
	}
	desc := data[nameEnd : nameEnd+descsz]
	return hex.EncodeToString(desc)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

var lddLine = regexp.MustCompile(`^\s*(\S+)\s*=>\s*(.+?)\s*\(0x[0-9a-fA-F]+\)\s*$`)
var lddNotFound = regexp.MustCompile(`^\s*(\S+)\s*=>\s*not found\s*$`)

// resolve computes the dependency closure for a needed-library list: the
// ldd-equivalent loader first, falling back to a directory crawl.
func (s *Scanner) resolve(fn string, needed []string) ([]string, error) {
	if len(needed) == 0 {
		return nil, nil
	}

	searchDirs := s.searchDirs()
	ldd := s.LDD
	if ldd == "" {
		ldd = "ldd"
	}

	resolvedBySoname, err := s.runLDD(ldd, fn, searchDirs)
	if err != nil {
		resolvedBySoname = nil // fall through to crawl
	}

	var deps []string
	for _, soname := range needed {
		path, ok := resolvedBySoname[soname]
		if !ok {
			path, ok = s.Cache.get(s.Triplet, soname)
		}
		if !ok {
			path, ok = s.crawl(soname, searchDirs)
			if ok {
				s.Cache.put(s.Triplet, soname, path)
			}
		}
		if !ok {
			continue // unresolved dependency; not fatal
		}
		if s.BaseDir != "" && strings.HasPrefix(path, s.BaseDir) {
			continue // in_base: excluded from the closure
		}
		deps = append(deps, path)
	}
	sort.Strings(deps)
	return deps, nil
}

// searchDirs enumerates {root}/lib, {root}/usr/lib, {root}/lib/<triplet>,
// {root}/usr/lib/<triplet> for every content root, keeping only directories
// that exist.
func (s *Scanner) searchDirs() []string {
	var roots []string
	roots = append(roots, s.ContentDirs...)
	if s.BaseDir != "" {
		roots = append(roots, s.BaseDir)
	}

	var dirs []string
	seen := make(map[string]bool)
	for _, root := range roots {
		candidates := []string{
			filepath.Join(root, "lib"),
			filepath.Join(root, "usr", "lib"),
			filepath.Join(root, "lib", s.Triplet),
			filepath.Join(root, "usr", "lib", s.Triplet),
		}
		for _, c := range candidates {
			if seen[c] {
				continue
			}
			if fi, err := os.Stat(c); err == nil && fi.IsDir() {
				seen[c] = true
				dirs = append(dirs, c)
			}
		}
	}
	return dirs
}

// runLDD invokes ldd with LD_LIBRARY_PATH set to the union of search dirs,
// grounded on distri's findShlibDeps (internal/build/shlibdeps.go), which
// does the same ldd-output regex scrape.
func (s *Scanner) runLDD(ldd, fn string, searchDirs []string) (map[string]string, error) {
	cmd := exec.Command(ldd, fn)
	cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH="+strings.Join(searchDirs, ":"))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ldd %s: %w", fn, err)
	}

	resolved := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if m := lddLine.FindStringSubmatch(line); m != nil {
			if real, err := filepath.EvalSymlinks(m[2]); err == nil {
				resolved[m[1]] = real
			} else {
				resolved[m[1]] = m[2]
			}
			continue
		}
		if m := lddNotFound.FindStringSubmatch(line); m != nil {
			continue // left unresolved; crawl fallback may still find it
		}
	}
	return resolved, nil
}

// archMachines maps a GNU target triplet's machine component to the
// debug/elf.Machine and word size a candidate library must report to be a
// real match rather than a same-named file for a different architecture.
var archMachines = map[string]struct {
	machine elf.Machine
	class   elf.Class
}{
	"x86_64-linux-gnu":      {elf.EM_X86_64, elf.ELFCLASS64},
	"aarch64-linux-gnu":     {elf.EM_AARCH64, elf.ELFCLASS64},
	"arm-linux-gnueabihf":   {elf.EM_ARM, elf.ELFCLASS32},
	"i686-linux-gnu":        {elf.EM_386, elf.ELFCLASS32},
	"powerpc-linux-gnu":     {elf.EM_PPC, elf.ELFCLASS32},
	"powerpc64le-linux-gnu": {elf.EM_PPC64, elf.ELFCLASS64},
	"riscv64-linux-gnu":     {elf.EM_RISCV, elf.ELFCLASS64},
	"s390x-linux-gnu":       {elf.EM_S390, elf.ELFCLASS64},
}

// matchesTriplet reports whether the ELF file at path was built for the
// given GNU target triplet's machine and word size. An unrecognized
// triplet matches everything, so a caller who passes a triplet this table
// doesn't know about still gets the pre-existing filename-only behavior.
func matchesTriplet(path, triplet string) bool {
	want, ok := archMachines[triplet]
	if !ok {
		return true
	}
	ef, err := elf.Open(path)
	if err != nil {
		return false
	}
	defer ef.Close()
	return ef.Machine == want.machine && ef.Class == want.class
}

// crawl walks each search directory looking for a file whose SONAME and
// architecture tuple match.
func (s *Scanner) crawl(soname string, searchDirs []string) (string, bool) {
	for _, dir := range searchDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || e.Name() != soname {
				continue
			}
			full := filepath.Join(dir, e.Name())
			real := full
			if r, err := filepath.EvalSymlinks(full); err == nil {
				real = r
			}
			if !matchesTriplet(real, s.Triplet) {
				continue
			}
			return real, true
		}
	}
	return "", false
}
