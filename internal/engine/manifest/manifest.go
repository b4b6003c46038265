// Package manifest reads declared dependencies from build manifests.
// Nothing here resolves against a remote registry.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatMaven          Format = "maven"
	FormatGradle         Format = "gradle"
	FormatGradleSettings Format = "gradle-settings"
	FormatCatalog        Format = "gradle-catalog"
	FormatTree           Format = "dependency-tree"
)

const DefaultScope = "compile"

// Declaration is one declared artifact. Identity is (Group, Name, Version).
type Declaration struct {
	Group    string `json:"group" yaml:"group"`
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Scope    string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
}

func (d Declaration) Key() string {
	return d.Group + ":" + d.Name
}

func (d Declaration) Coordinate() string {
	if d.Version == "" {
		return d.Key()
	}
	return d.Group + ":" + d.Name + ":" + d.Version
}

func (d Declaration) IsZero() bool {
	return d.Group == "" && d.Name == ""
}

// TreeEdge is a declared parent -> child edge from resolution output. A zero
// From means the manifest's own module.
type TreeEdge struct {
	From Declaration `json:"from"`
	To   Declaration `json:"to"`
}

type Manifest struct {
	Path         string        `json:"path"`
	Format       Format        `json:"format"`
	Module       *Declaration  `json:"module,omitempty"`
	Parent       *Declaration  `json:"parent,omitempty"`
	Declarations []Declaration `json:"declarations"`
	Modules      []string      `json:"modules,omitempty"`
	Tree         []TreeEdge    `json:"tree,omitempty"`

	// Managed holds dependencyManagement versions keyed by group:name.
	Managed    map[string]Declaration `json:"-"`
	Properties map[string]string      `json:"-"`
}

type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Detect reports the manifest format for path, if any.
func Detect(path string) (Format, bool) {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case base == "pom.xml":
		return FormatMaven, true
	case base == "build.gradle" || base == "build.gradle.kts":
		return FormatGradle, true
	case base == "settings.gradle" || base == "settings.gradle.kts":
		return FormatGradleSettings, true
	case base == "libs.versions.toml" || strings.HasSuffix(base, ".versions.toml"):
		return FormatCatalog, true
	case base == "dependency-tree.txt" || strings.HasSuffix(base, ".deptree"):
		return FormatTree, true
	}
	return "", false
}

func IsManifest(path string) bool {
	_, ok := Detect(path)
	return ok
}

func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return Parse(path, data)
}

func Parse(path string, data []byte) (*Manifest, error) {
	format, ok := Detect(path)
	if !ok {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unsupported manifest format")}
	}
	switch format {
	case FormatMaven:
		return parsePOM(path, data)
	case FormatGradle:
		return parseGradle(path, data)
	case FormatGradleSettings:
		return parseGradleSettings(path, data), nil
	case FormatCatalog:
		return parseCatalog(path, data)
	default:
		return parseTree(path, data)
	}
}

// ResolveInheritance fills versions left open by a Maven module from its
// parent's properties and dependencyManagement, when the parent is among
// manifests.
func ResolveInheritance(manifests []*Manifest) {
	byCoord := make(map[string]*Manifest)
	for _, m := range manifests {
		if m.Format == FormatMaven && m.Module != nil {
			byCoord[m.Module.Key()] = m
		}
	}
	for _, m := range manifests {
		if m.Format != FormatMaven {
			continue
		}
		chain := parentChain(m, byCoord)
		if len(chain) == 0 {
			continue
		}
		for i := range m.Declarations {
			d := &m.Declarations[i]
			for _, p := range chain {
				if strings.Contains(d.Version, "${") {
					d.Version = interpolate(d.Version, p.Properties)
				}
				if d.Version != "" && !strings.Contains(d.Version, "${") {
					break
				}
				if managed, ok := p.Managed[d.Key()]; ok && d.Version == "" {
					d.Version = managed.Version
					if d.Scope == DefaultScope && managed.Scope != "" {
						d.Scope = managed.Scope
					}
				}
			}
		}
	}
}

func parentChain(m *Manifest, byCoord map[string]*Manifest) []*Manifest {
	var chain []*Manifest
	seen := map[*Manifest]bool{m: true}
	cur := m
	for cur.Parent != nil {
		p, ok := byCoord[cur.Parent.Key()]
		if !ok || seen[p] {
			break
		}
		seen[p] = true
		chain = append(chain, p)
		cur = p
	}
	return chain
}
