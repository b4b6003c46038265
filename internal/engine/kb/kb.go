// Package kb is the compatibility knowledge base: a versioned, human-editable
// table mapping legacy-namespace artifacts and packages to their successors.
package kb

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// SchemaVersion is the only table format this build understands.
const SchemaVersion = 1

type Level string

const (
	LevelDropIn        Level = "drop-in"
	LevelMinorChanges  Level = "minor-changes"
	LevelMajorRefactor Level = "major-refactor"
	LevelNone          Level = "none"
)

func (l Level) Valid() bool {
	switch l {
	case LevelDropIn, LevelMinorChanges, LevelMajorRefactor, LevelNone:
		return true
	}
	return false
}

// Entry maps one legacy group:name to its successor.
type Entry struct {
	Legacy           string            `toml:"legacy" yaml:"legacy" json:"legacy"`
	Successor        string            `toml:"successor" yaml:"successor" json:"successor,omitempty"`
	SuccessorVersion string            `toml:"successor_version" yaml:"successor_version" json:"successor_version,omitempty"`
	VersionMap       map[string]string `toml:"version_map" yaml:"version_map" json:"version_map,omitempty"`
	Level            Level             `toml:"level" yaml:"level" json:"level"`
	BreakingChanges  []string          `toml:"breaking_changes" yaml:"breaking_changes" json:"breaking_changes,omitempty"`
	Packages         []string          `toml:"packages" yaml:"packages" json:"packages,omitempty"`
}

// TargetVersion picks the successor version for a legacy version: an exact
// version_map hit, then the "*" wildcard, then successor_version.
func (e Entry) TargetVersion(legacyVersion string) string {
	if v, ok := e.VersionMap[legacyVersion]; ok {
		return v
	}
	if v, ok := e.VersionMap["*"]; ok {
		return v
	}
	return e.SuccessorVersion
}

// TargetCoordinate is the full successor coordinate for a legacy version.
func (e Entry) TargetCoordinate(legacyVersion string) string {
	if e.Successor == "" {
		return ""
	}
	if v := e.TargetVersion(legacyVersion); v != "" {
		return e.Successor + ":" + v
	}
	return e.Successor
}

// FamilyRule marks every group:name matching Family as already migrated
// from MinVersion onward, even though the coordinate itself never changed.
type FamilyRule struct {
	Family      string `toml:"family" yaml:"family" json:"family"`
	MinVersion  string `toml:"min_version" yaml:"min_version" json:"min_version"`
	Description string `toml:"description" yaml:"description" json:"description,omitempty"`

	matcher glob.Glob
}

func (f FamilyRule) Matches(group, name string) bool {
	if f.matcher == nil {
		return false
	}
	return f.matcher.Match(group + ":" + name)
}

// PackageMapping maps a legacy Java package to its successor. An empty
// Successor marks a package that keeps its name (owned by the JDK), unless
// NoEquivalent is set.
type PackageMapping struct {
	Legacy    string `toml:"legacy" yaml:"legacy" json:"legacy"`
	Successor string `toml:"successor" yaml:"successor" json:"successor,omitempty"`
	Artifact  string `toml:"artifact" yaml:"artifact" json:"artifact,omitempty"`

	// NoEquivalent is derived from entries with level "none".
	NoEquivalent bool `toml:"-" yaml:"-" json:"no_equivalent,omitempty"`
}

func (p PackageMapping) Retained() bool {
	return p.Successor == "" && !p.NoEquivalent
}

// Rewrite replaces the legacy package prefix of symbol.
func (p PackageMapping) Rewrite(symbol string) string {
	if p.Successor == "" {
		return symbol
	}
	return p.Successor + strings.TrimPrefix(symbol, p.Legacy)
}

type URIMapping struct {
	Legacy    string `toml:"legacy" yaml:"legacy" json:"legacy"`
	Successor string `toml:"successor" yaml:"successor" json:"successor"`
}

type KnowledgeBase struct {
	SchemaVersion   int              `toml:"schema_version" yaml:"schema_version" json:"schema_version"`
	LegacyPrefix    string           `toml:"legacy_prefix" yaml:"legacy_prefix" json:"legacy_prefix"`
	SuccessorPrefix string           `toml:"successor_prefix" yaml:"successor_prefix" json:"successor_prefix"`
	Entries         []Entry          `toml:"entries" yaml:"entries" json:"entries"`
	Families        []FamilyRule     `toml:"families" yaml:"families" json:"families"`
	Packages        []PackageMapping `toml:"packages" yaml:"packages" json:"packages"`
	URIs            []URIMapping     `toml:"uris" yaml:"uris" json:"uris"`

	source      string
	byLegacy    map[string]int
	bySuccessor map[string]int
	packages    []PackageMapping
}

// Source names where the table was loaded from ("embedded" for the default).
func (k *KnowledgeBase) Source() string {
	return k.source
}

func (k *KnowledgeBase) index() {
	k.byLegacy = make(map[string]int, len(k.Entries))
	k.bySuccessor = make(map[string]int, len(k.Entries))
	for i, e := range k.Entries {
		k.byLegacy[e.Legacy] = i
		// The first entry naming a successor is its canonical legacy form.
		if _, dup := k.bySuccessor[e.Successor]; e.Successor != "" && !dup {
			k.bySuccessor[e.Successor] = i
		}
	}

	// Explicit package rows win over packages listed on entries.
	seen := make(map[string]bool)
	for _, p := range k.Packages {
		seen[p.Legacy] = true
		k.packages = append(k.packages, p)
	}
	for _, e := range k.Entries {
		for _, pkg := range e.Packages {
			if seen[pkg] {
				continue
			}
			seen[pkg] = true
			if e.Level == LevelNone {
				k.packages = append(k.packages, PackageMapping{Legacy: pkg, Artifact: e.Legacy, NoEquivalent: true})
				continue
			}
			k.packages = append(k.packages, PackageMapping{
				Legacy:    pkg,
				Successor: k.rewritePrefix(pkg),
				Artifact:  e.Successor,
			})
		}
	}
	// Longest prefix first.
	sort.SliceStable(k.packages, func(i, j int) bool {
		return len(k.packages[i].Legacy) > len(k.packages[j].Legacy)
	})
}

func (k *KnowledgeBase) rewritePrefix(pkg string) string {
	if k.LegacyPrefix == "" || !hasDottedPrefix(pkg, k.LegacyPrefix) {
		return pkg
	}
	return k.SuccessorPrefix + strings.TrimPrefix(pkg, k.LegacyPrefix)
}

// Entry looks up a legacy coordinate exactly.
func (k *KnowledgeBase) Entry(group, name string) (Entry, bool) {
	i, ok := k.byLegacy[group+":"+name]
	if !ok {
		return Entry{}, false
	}
	return k.Entries[i], true
}

// EntryBySuccessor finds the entry whose successor is group:name.
func (k *KnowledgeBase) EntryBySuccessor(group, name string) (Entry, bool) {
	i, ok := k.bySuccessor[group+":"+name]
	if !ok {
		return Entry{}, false
	}
	return k.Entries[i], true
}

// Family returns the first family rule matching group:name.
func (k *KnowledgeBase) Family(group, name string) (FamilyRule, bool) {
	for _, f := range k.Families {
		if f.Matches(group, name) {
			return f, true
		}
	}
	return FamilyRule{}, false
}

// PackageFor returns the longest package mapping that is a dotted prefix of
// symbol.
func (k *KnowledgeBase) PackageFor(symbol string) (PackageMapping, bool) {
	for _, p := range k.packages {
		if hasDottedPrefix(symbol, p.Legacy) {
			return p, true
		}
	}
	return PackageMapping{}, false
}

// LegacyPackages returns all migrating package prefixes, longest first.
func (k *KnowledgeBase) LegacyPackages() []PackageMapping {
	out := make([]PackageMapping, 0, len(k.packages))
	for _, p := range k.packages {
		if !p.Retained() {
			out = append(out, p)
		}
	}
	return out
}

func (k *KnowledgeBase) URIFor(uri string) (URIMapping, bool) {
	uri = strings.TrimSpace(uri)
	for _, u := range k.URIs {
		if uri == u.Legacy || strings.HasPrefix(uri, u.Legacy+"/") {
			return u, true
		}
	}
	return URIMapping{}, false
}

// IsLegacyCoordinate is the generic prefix heuristic: the group literally
// uses the legacy namespace prefix.
func (k *KnowledgeBase) IsLegacyCoordinate(group string) bool {
	return k.LegacyPrefix != "" && hasDottedPrefix(group, k.LegacyPrefix)
}

func (k *KnowledgeBase) IsSuccessorCoordinate(group string) bool {
	return k.SuccessorPrefix != "" && hasDottedPrefix(group, k.SuccessorPrefix)
}

func hasDottedPrefix(s, prefix string) bool {
	return s == prefix || strings.HasPrefix(s, prefix+".")
}
