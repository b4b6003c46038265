// Package classify decides the namespace state of each artifact and flags
// migration blockers.
package classify

import (
	"fmt"
	"strings"

	"nsmigrate/internal/engine/graph"
	"nsmigrate/internal/engine/kb"
)

type State string

const (
	StateLegacy    State = "legacy"
	StateSuccessor State = "successor"
	StateMixed     State = "mixed"
	StateUnknown   State = "unknown"
)

// Tier is the precedence level that produced a classification.
type Tier int

const (
	TierFamily Tier = iota + 1
	TierEntry
	TierPrefix
	TierUnknown
)

func (t Tier) Confidence() float64 {
	switch t {
	case TierFamily, TierEntry:
		return 0.95
	case TierPrefix:
		return 0.6
	default:
		return 0.0
	}
}

func (t Tier) String() string {
	switch t {
	case TierFamily:
		return "family-rule"
	case TierEntry:
		return "exact-entry"
	case TierPrefix:
		return "prefix"
	default:
		return "unknown"
	}
}

type Artifact struct {
	Group   string `json:"group" yaml:"group"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Scope   string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

func FromNode(n graph.Node) Artifact {
	return Artifact{Group: n.Group, Name: n.Name, Version: n.Version, Scope: n.Scope}
}

func (a Artifact) Key() string {
	return a.Group + ":" + a.Name
}

func (a Artifact) ID() string {
	if a.Version == "" {
		return a.Key()
	}
	return a.Key() + ":" + a.Version
}

type BlockerKind string

const (
	BlockerNoEquivalent       BlockerKind = "no-equivalent"
	BlockerTransitiveConflict BlockerKind = "transitive-conflict"
	BlockerBinaryIncompatible BlockerKind = "binary-incompatible"
)

type Blocker struct {
	Artifact    string      `json:"artifact" yaml:"artifact"`
	Kind        BlockerKind `json:"kind" yaml:"kind"`
	Reason      string      `json:"reason" yaml:"reason"`
	Mitigations []string    `json:"mitigations,omitempty" yaml:"mitigations,omitempty"`
	Confidence  float64     `json:"confidence" yaml:"confidence"`
	// Target is the successor coordinate that resolves the blocker, if known.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// Finding is the runtime category of a blocker confirmed by verification.
	Finding string `json:"finding,omitempty" yaml:"finding,omitempty"`
}

type Recommendation struct {
	Artifact        string   `json:"artifact" yaml:"artifact"`
	Target          string   `json:"target" yaml:"target"`
	Level           kb.Level `json:"level,omitempty" yaml:"level,omitempty"`
	BreakingChanges []string `json:"breaking_changes,omitempty" yaml:"breaking_changes,omitempty"`
	Reason          string   `json:"reason" yaml:"reason"`
}

type Classification struct {
	Artifact       Artifact        `json:"artifact" yaml:"artifact"`
	State          State           `json:"state" yaml:"state"`
	Tier           Tier            `json:"tier" yaml:"tier"`
	Confidence     float64         `json:"confidence" yaml:"confidence"`
	Reason         string          `json:"reason" yaml:"reason"`
	Recommendation *Recommendation `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	Blocker        *Blocker        `json:"blocker,omitempty" yaml:"blocker,omitempty"`
}

// Classify is a pure function of the artifact and the table. Precedence:
// family rule, exact entry, prefix heuristic, unknown.
func Classify(a Artifact, k *kb.KnowledgeBase) Classification {
	c := Classification{Artifact: a}

	if rule, ok := k.Family(a.Group, a.Name); ok {
		c.Tier = TierFamily
		c.Confidence = TierFamily.Confidence()
		switch {
		case kb.NormalizeVersion(a.Version) == "":
			c.State = StateUnknown
			c.Confidence = TierUnknown.Confidence()
			c.Reason = fmt.Sprintf("covered by family %q but version %q cannot be compared", rule.Family, a.Version)
		case kb.AtLeast(a.Version, rule.MinVersion):
			c.State = StateSuccessor
			c.Reason = fmt.Sprintf("family rule %q: %s", rule.Family, rule.Description)
		default:
			c.State = StateLegacy
			c.Reason = fmt.Sprintf("family %q adopts the successor namespace from %s", rule.Family, rule.MinVersion)
			c.Recommendation = &Recommendation{
				Artifact: a.ID(),
				Target:   a.Key() + ":" + rule.MinVersion,
				Level:    kb.LevelMinorChanges,
				Reason:   fmt.Sprintf("upgrade to %s or later: %s", rule.MinVersion, rule.Description),
			}
		}
		return c
	}

	if entry, ok := k.Entry(a.Group, a.Name); ok {
		c.Tier = TierEntry
		c.Confidence = TierEntry.Confidence()
		c.State = StateLegacy
		if entry.Level == kb.LevelNone {
			c.Reason = "known legacy artifact without a successor"
			c.Blocker = &Blocker{
				Artifact:    a.ID(),
				Kind:        BlockerNoEquivalent,
				Reason:      fmt.Sprintf("%s has no successor-namespace equivalent", a.Key()),
				Mitigations: entry.BreakingChanges,
				Confidence:  c.Confidence,
			}
			return c
		}
		target := entry.TargetCoordinate(a.Version)
		c.Reason = fmt.Sprintf("known legacy artifact; successor is %s", entry.Successor)
		c.Recommendation = &Recommendation{
			Artifact:        a.ID(),
			Target:          target,
			Level:           entry.Level,
			BreakingChanges: entry.BreakingChanges,
			Reason:          fmt.Sprintf("replace %s with %s (%s)", a.ID(), target, entry.Level),
		}
		return c
	}
	if entry, ok := k.EntryBySuccessor(a.Group, a.Name); ok {
		c.Tier = TierEntry
		c.Confidence = TierEntry.Confidence()
		c.State = StateSuccessor
		c.Reason = fmt.Sprintf("known successor of %s", entry.Legacy)
		return c
	}

	if k.IsLegacyCoordinate(a.Group) {
		c.Tier = TierPrefix
		c.Confidence = TierPrefix.Confidence()
		c.State = StateLegacy
		c.Reason = fmt.Sprintf("group uses the legacy prefix %q", k.LegacyPrefix)
		c.Blocker = &Blocker{
			Artifact: a.ID(),
			Kind:     BlockerNoEquivalent,
			Reason:   fmt.Sprintf("no compatibility entry for legacy-prefixed %s", a.Key()),
			Mitigations: []string{
				"find a maintained successor-namespace replacement",
				"add an entry for " + a.Key() + " to the knowledge base",
			},
			Confidence: c.Confidence,
		}
		return c
	}
	if k.IsSuccessorCoordinate(a.Group) {
		c.Tier = TierPrefix
		c.Confidence = TierPrefix.Confidence()
		c.State = StateSuccessor
		c.Reason = fmt.Sprintf("group uses the successor prefix %q", k.SuccessorPrefix)
		return c
	}

	c.Tier = TierUnknown
	c.Confidence = TierUnknown.Confidence()
	c.State = StateUnknown
	c.Reason = "no knowledge base rule applies"
	return c
}

// RuntimeBlocker builds a blocker confirmed by runtime verification rather
// than inferred from the graph.
func RuntimeBlocker(kind BlockerKind, artifact, reason string, mitigations []string, confidence float64) Blocker {
	return Blocker{
		Artifact:    artifact,
		Kind:        kind,
		Reason:      strings.TrimSpace(reason),
		Mitigations: mitigations,
		Confidence:  confidence,
	}
}
