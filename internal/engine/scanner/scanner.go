// Package scanner finds legacy-namespace usage in project files and the
// references between project sources.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"nsmigrate/internal/engine/kb"
	"nsmigrate/internal/engine/manifest"
	"nsmigrate/internal/shared/observability"
	"nsmigrate/internal/shared/util"
)

type FileKind string

const (
	KindManifest FileKind = "manifest"
	KindSource   FileKind = "source"
	KindConfig   FileKind = "config"
	KindTest     FileKind = "test"
)

type Match struct {
	Symbol       string `json:"symbol" yaml:"symbol"`
	Line         int    `json:"line" yaml:"line"`
	Legacy       string `json:"legacy" yaml:"legacy"`
	Successor    string `json:"successor,omitempty" yaml:"successor,omitempty"`
	Dynamic      bool   `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	NoEquivalent bool   `json:"no_equivalent,omitempty" yaml:"no_equivalent,omitempty"`
	Artifact     string `json:"artifact,omitempty" yaml:"artifact,omitempty"`
}

// FileUsage lists the legacy matches of one file. Files without matches
// have no FileUsage.
type FileUsage struct {
	Path    string   `json:"path" yaml:"path"`
	Kind    FileKind `json:"kind" yaml:"kind"`
	Matches []Match  `json:"matches" yaml:"matches"`
}

func (u FileUsage) HasDynamic() bool {
	for _, m := range u.Matches {
		if m.Dynamic {
			return true
		}
	}
	return false
}

func (u FileUsage) NoEquivalentCount() int {
	n := 0
	for _, m := range u.Matches {
		if m.NoEquivalent {
			n++
		}
	}
	return n
}

type File struct {
	Path string   `json:"path" yaml:"path"`
	Kind FileKind `json:"kind" yaml:"kind"`
}

type Warning struct {
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
}

type Result struct {
	Root  string `json:"root" yaml:"root"`
	Files []File `json:"files" yaml:"files"`
	// Manifests are absolute paths of build manifests found in the walk.
	Manifests []string    `json:"-" yaml:"-"`
	Usages    []FileUsage `json:"usages" yaml:"usages"`
	// References maps a source file to the project files it depends on.
	References map[string][]string `json:"references" yaml:"references"`
	// Unresolved lists sources whose references are not parsed (Kotlin,
	// Groovy, Scala). They may depend on anything.
	Unresolved []string  `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Warnings   []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func (r *Result) Usage(path string) (FileUsage, bool) {
	i := sort.Search(len(r.Usages), func(i int) bool { return r.Usages[i].Path >= path })
	if i < len(r.Usages) && r.Usages[i].Path == path {
		return r.Usages[i], true
	}
	return FileUsage{}, false
}

type Options struct {
	ExcludeDirs  []string
	ExcludeFiles []string
	IncludeTests bool
	Workers      int
	MaxFileBytes int64
}

type Scanner struct {
	opts      Options
	dirGlobs  []glob.Glob
	fileGlobs []glob.Glob
}

func New(opts Options) (*Scanner, error) {
	s := &Scanner{opts: opts}
	for _, p := range opts.ExcludeDirs {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude dir pattern %q: %w", p, err)
		}
		s.dirGlobs = append(s.dirGlobs, g)
	}
	for _, p := range opts.ExcludeFiles {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude file pattern %q: %w", p, err)
		}
		s.fileGlobs = append(s.fileGlobs, g)
	}
	if s.opts.Workers <= 0 {
		s.opts.Workers = runtime.NumCPU()
	}
	return s, nil
}

var sourceExts = map[string]bool{".java": true, ".kt": true, ".kts": true, ".groovy": true, ".scala": true}

var configExts = map[string]bool{
	".xml": true, ".properties": true, ".yml": true, ".yaml": true,
	".jsp": true, ".jspx": true, ".tag": true, ".tld": true, ".xhtml": true, ".html": true, ".json": true,
}

var testSuffixes = []string{"Test.java", "Tests.java", "IT.java", "Test.kt", "Tests.kt"}

// KindOf classifies a project-relative, slash-separated path.
func KindOf(rel string) (FileKind, bool) {
	base := path.Base(rel)
	if manifest.IsManifest(rel) {
		return KindManifest, true
	}
	ext := strings.ToLower(path.Ext(base))
	isService := strings.Contains(rel, "META-INF/services/")
	if !sourceExts[ext] && !configExts[ext] && !isService {
		return "", false
	}
	if strings.HasPrefix(rel, "src/test/") || strings.Contains(rel, "/src/test/") {
		return KindTest, true
	}
	for _, suffix := range testSuffixes {
		if strings.HasSuffix(base, suffix) {
			return KindTest, true
		}
	}
	if sourceExts[ext] {
		return KindSource, true
	}
	return KindConfig, true
}

type fileResult struct {
	file    File
	matches []Match
	java    *javaFile
	warning string
}

// Scan walks root and scans every candidate file on a bounded worker pool.
func (s *Scanner) Scan(ctx context.Context, root string, k *kb.KnowledgeBase) (*Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}

	res := &Result{Root: absRoot, References: make(map[string][]string)}
	var files []File
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return err
			}
			res.Warnings = append(res.Warnings, Warning{Path: p, Message: err.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(p)
		if d.IsDir() {
			if p != absRoot && s.excluded(s.dirGlobs, base) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.excluded(s.fileGlobs, base) {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		kind, ok := KindOf(rel)
		if !ok {
			return nil
		}
		if kind == KindTest && !s.opts.IncludeTests {
			return nil
		}
		if kind == KindManifest {
			res.Manifests = append(res.Manifests, p)
		}
		files = append(files, File{Path: rel, Kind: kind})
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]fileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.scanFile(absRoot, f, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	javaFiles := make(map[string]*javaFile)
	for _, r := range results {
		res.Files = append(res.Files, r.file)
		if r.warning != "" {
			res.Warnings = append(res.Warnings, Warning{Path: r.file.Path, Message: r.warning})
		}
		if r.java != nil {
			javaFiles[r.file.Path] = r.java
		}
		if len(r.matches) > 0 {
			res.Usages = append(res.Usages, FileUsage{Path: r.file.Path, Kind: r.file.Kind, Matches: r.matches})
			if r.file.Kind == KindSource && r.java == nil {
				res.Unresolved = append(res.Unresolved, r.file.Path)
				res.Warnings = append(res.Warnings, Warning{Path: r.file.Path, Message: "references not resolved; planned after all other sources"})
			}
		}
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	sort.Slice(res.Usages, func(i, j int) bool { return res.Usages[i].Path < res.Usages[j].Path })
	sort.SliceStable(res.Warnings, func(i, j int) bool { return res.Warnings[i].Path < res.Warnings[j].Path })
	sort.Strings(res.Unresolved)
	res.References = resolveReferences(javaFiles)
	return res, nil
}

func (s *Scanner) excluded(globs []glob.Glob, base string) bool {
	for _, g := range globs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (s *Scanner) scanFile(root string, f File, k *kb.KnowledgeBase) fileResult {
	start := time.Now()
	defer func() {
		observability.ScanDuration.WithLabelValues(string(f.Kind)).Observe(time.Since(start).Seconds())
	}()

	out := fileResult{file: f}
	if f.Kind == KindManifest {
		// Coordinates are handled through the dependency graph.
		return out
	}

	abs := filepath.Join(root, filepath.FromSlash(f.Path))
	if s.opts.MaxFileBytes > 0 {
		if info, err := os.Stat(abs); err == nil && info.Size() > s.opts.MaxFileBytes {
			out.warning = fmt.Sprintf("skipped: %d bytes exceeds limit of %d", info.Size(), s.opts.MaxFileBytes)
			return out
		}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		out.warning = err.Error()
		return out
	}

	if strings.HasSuffix(f.Path, ".java") {
		jf, err := parseJava(data, k)
		if err != nil {
			slog.Warn("java parse failed; falling back to line scan", "path", f.Path, "error", err)
			out.warning = err.Error()
			out.matches = scanLines(f.Path, f.Kind, data, k)
			return out
		}
		if jf.HasError {
			out.warning = "syntax errors; results may be incomplete"
		}
		out.java = jf
		out.matches = jf.Matches
		return out
	}
	if isMarkup(f.Path) {
		ms, err := scanMarkup(f.Path, f.Kind, data, k)
		if err == nil {
			out.matches = ms
			return out
		}
		slog.Warn("markup parse failed; falling back to line scan", "path", f.Path, "error", err)
	}
	out.matches = scanLines(f.Path, f.Kind, data, k)
	return out
}

// resolveReferences links Java files through imports, qualified names and
// same-package type references.
func resolveReferences(files map[string]*javaFile) map[string][]string {
	byFQN := make(map[string]string)
	for p, jf := range files {
		for _, t := range jf.Types {
			byFQN[qualify(jf.Package, t)] = p
		}
	}

	refs := make(map[string][]string)
	for _, p := range util.SortedStringKeys(files) {
		jf := files[p]
		targets := make(map[string]bool)
		add := func(fqn string) bool {
			if target, ok := byFQN[fqn]; ok && target != p {
				targets[target] = true
				return true
			}
			return false
		}

		imported := make(map[string]bool)
		for _, imp := range jf.Imports {
			switch {
			case imp.Wildcard:
				for ref := range jf.TypeRefs {
					add(imp.Name + "." + ref)
				}
			case imp.Static:
				// import static a.b.C.member: the owner is a prefix.
				name := imp.Name
				for strings.Contains(name, ".") && !add(name) {
					name = name[:strings.LastIndex(name, ".")]
				}
			default:
				add(imp.Name)
				imported[imp.Name[strings.LastIndex(imp.Name, ".")+1:]] = true
			}
		}
		for ref := range jf.TypeRefs {
			if !imported[ref] {
				add(qualify(jf.Package, ref))
			}
		}
		for name := range jf.Qualified {
			for strings.Contains(name, ".") && !add(name) {
				name = name[:strings.LastIndex(name, ".")]
			}
		}

		if len(targets) > 0 {
			refs[p] = util.SortedStringKeys(targets)
		}
	}
	return refs
}

func qualify(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}
