// Package planner turns an analysis into a four-phase migration plan with
// concrete per-file actions, batches and prerequisites.
package planner

import (
	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/scanner"
)

const (
	PhaseManifests     = 1
	PhaseLeafSources   = 2
	PhaseSources       = 3
	PhaseConfigAndTest = 4

	PhaseCount = 4
)

var phaseDescriptions = map[int]string{
	PhaseManifests:     "Update build manifests to successor coordinates",
	PhaseLeafSources:   "Migrate sources with no dependencies on other migrating sources",
	PhaseSources:       "Migrate remaining sources in dependency order",
	PhaseConfigAndTest: "Migrate configuration, markup and test files",
}

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

type ActionKind string

const (
	ActionCoordinate    ActionKind = "coordinate"
	ActionSymbol        ActionKind = "symbol"
	ActionAddCoordinate ActionKind = "add-coordinate" // Before is empty
)

// Action is one concrete before/after edit inside a file. An action with
// NoEquivalent set has no successor text and needs manual work.
type Action struct {
	Kind         ActionKind `json:"kind" yaml:"kind"`
	Symbol       string     `json:"symbol" yaml:"symbol"`
	Line         int        `json:"line,omitempty" yaml:"line,omitempty"`
	Before       string     `json:"before" yaml:"before"`
	After        string     `json:"after,omitempty" yaml:"after,omitempty"`
	Dynamic      bool       `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	NoEquivalent bool       `json:"no_equivalent,omitempty" yaml:"no_equivalent,omitempty"`
	Note         string     `json:"note,omitempty" yaml:"note,omitempty"`
}

type FileAction struct {
	Path    string           `json:"path" yaml:"path"`
	Kind    scanner.FileKind `json:"kind" yaml:"kind"`
	Actions []Action         `json:"actions" yaml:"actions"`
	// DependsOn lists migrating files this file references.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	InDegree  int      `json:"in_degree" yaml:"in_degree"`
	Tier      int      `json:"tier,omitempty" yaml:"tier,omitempty"`
	Cycle     bool     `json:"cycle,omitempty" yaml:"cycle,omitempty"`
	Dynamic   bool     `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	// Unresolved files were not parsed for references.
	Unresolved bool `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Blockers   int  `json:"blockers,omitempty" yaml:"blockers,omitempty"`
}

// Batch is a set of files applied together. Cycle batches are never split.
type Batch struct {
	Files []string `json:"files" yaml:"files"`
	Tier  int      `json:"tier,omitempty" yaml:"tier,omitempty"`
	Cycle bool     `json:"cycle,omitempty" yaml:"cycle,omitempty"`
}

type Phase struct {
	Number        int          `json:"number" yaml:"number"`
	Description   string       `json:"description" yaml:"description"`
	Files         []FileAction `json:"files" yaml:"files"`
	Batches       []Batch      `json:"batches" yaml:"batches"`
	Prerequisites []int        `json:"prerequisites" yaml:"prerequisites"`
	Risk          Risk         `json:"risk" yaml:"risk"`
	RiskReasons   []string     `json:"risk_reasons,omitempty" yaml:"risk_reasons,omitempty"`
	BatchSize     int          `json:"batch_size" yaml:"batch_size"`
}

func (p Phase) Paths() []string {
	out := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		out = append(out, f.Path)
	}
	return out
}

func (p Phase) File(path string) (FileAction, bool) {
	for _, f := range p.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileAction{}, false
}

type Plan struct {
	// ID is a digest of the phase contents; equal inputs give equal IDs.
	ID       string             `json:"id" yaml:"id"`
	Project  string             `json:"project" yaml:"project"`
	Phases   []Phase            `json:"phases" yaml:"phases"`
	Blockers []classify.Blocker `json:"blockers" yaml:"blockers"`
	Warnings []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func (p *Plan) Phase(number int) (Phase, bool) {
	for _, ph := range p.Phases {
		if ph.Number == number {
			return ph, true
		}
	}
	return Phase{}, false
}

// PhaseOf reports which phase schedules path, or 0.
func (p *Plan) PhaseOf(path string) int {
	for _, ph := range p.Phases {
		if _, ok := ph.File(path); ok {
			return ph.Number
		}
	}
	return 0
}

func (p *Plan) FileCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Files)
	}
	return n
}
