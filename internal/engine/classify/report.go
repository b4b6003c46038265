package classify

import (
	"fmt"
	"sort"
	"strings"

	"nsmigrate/internal/engine/graph"
	"nsmigrate/internal/engine/kb"
	"nsmigrate/internal/shared/observability"
	"nsmigrate/internal/shared/util"
)

type Summary struct {
	Total     int   `json:"total" yaml:"total"`
	Legacy    int   `json:"legacy" yaml:"legacy"`
	Successor int   `json:"successor" yaml:"successor"`
	Mixed     int   `json:"mixed" yaml:"mixed"`
	Unknown   int   `json:"unknown" yaml:"unknown"`
	State     State `json:"state" yaml:"state"`
}

type Report struct {
	Classifications []Classification `json:"classifications" yaml:"classifications"`
	Blockers        []Blocker        `json:"blockers" yaml:"blockers"`
	Recommendations []Recommendation `json:"recommendations" yaml:"recommendations"`
	Summary         Summary          `json:"summary" yaml:"summary"`
}

// Lookup returns the classification for an artifact ID.
func (r Report) Lookup(id string) (Classification, bool) {
	i := sort.Search(len(r.Classifications), func(i int) bool {
		return r.Classifications[i].Artifact.ID() >= id
	})
	if i < len(r.Classifications) && r.Classifications[i].Artifact.ID() == id {
		return r.Classifications[i], true
	}
	return Classification{}, false
}

// BlockerCount counts blockers attached to an artifact group:name.
func (r Report) BlockerCount(key string) int {
	n := 0
	for _, b := range r.Blockers {
		if b.Artifact == key || strings.HasPrefix(b.Artifact, key+":") {
			n++
		}
	}
	return n
}

// ClassifyGraph classifies every artifact in g and adds the cross-artifact
// findings: mixed artifacts and transitive version conflicts.
func ClassifyGraph(g *graph.Graph, k *kb.KnowledgeBase) Report {
	nodes := g.Artifacts()
	byID := make(map[string]*Classification, len(nodes))
	report := Report{Classifications: make([]Classification, 0, len(nodes))}
	for _, n := range nodes {
		report.Classifications = append(report.Classifications, Classify(FromNode(n), k))
	}
	for i := range report.Classifications {
		c := &report.Classifications[i]
		byID[c.Artifact.ID()] = c
	}

	// A successor artifact still pulling a legacy one is mixed.
	for _, n := range nodes {
		c := byID[n.ID]
		if c.State != StateSuccessor {
			continue
		}
		var legacyDeps []string
		for _, dep := range g.Dependencies(n.ID) {
			if dc, ok := byID[dep]; ok && dc.State == StateLegacy {
				legacyDeps = append(legacyDeps, dep)
			}
		}
		if len(legacyDeps) > 0 {
			c.State = StateMixed
			c.Reason = fmt.Sprintf("%s; depends on legacy %s", c.Reason, strings.Join(legacyDeps, ", "))
		}
	}

	report.Blockers = append(report.Blockers, transitiveConflicts(g, nodes, byID)...)

	for _, c := range report.Classifications {
		if c.Blocker != nil {
			report.Blockers = append(report.Blockers, *c.Blocker)
		}
		if c.Recommendation != nil {
			report.Recommendations = append(report.Recommendations, *c.Recommendation)
		}
		observability.ArtifactsClassifiedTotal.WithLabelValues(string(c.State)).Inc()
	}
	sort.SliceStable(report.Blockers, func(i, j int) bool {
		if report.Blockers[i].Artifact != report.Blockers[j].Artifact {
			return report.Blockers[i].Artifact < report.Blockers[j].Artifact
		}
		return report.Blockers[i].Kind < report.Blockers[j].Kind
	})
	for _, b := range report.Blockers {
		observability.BlockersTotal.WithLabelValues(string(b.Kind)).Inc()
	}

	report.Summary = summarize(report.Classifications)
	return report
}

func transitiveConflicts(g *graph.Graph, nodes []graph.Node, byID map[string]*Classification) []Blocker {
	byKey := make(map[string][]graph.Node)
	for _, n := range nodes {
		byKey[n.Key()] = append(byKey[n.Key()], n)
	}

	var out []Blocker
	for _, key := range util.SortedStringKeys(byKey) {
		versions := byKey[key]
		if len(versions) < 2 {
			continue
		}
		var successor []string
		var legacy []graph.Node
		for _, n := range versions {
			switch byID[n.ID].State {
			case StateSuccessor, StateMixed:
				successor = append(successor, n.Version)
			case StateLegacy:
				legacy = append(legacy, n)
			}
		}
		if len(successor) == 0 || len(legacy) == 0 {
			continue
		}
		for _, n := range legacy {
			c := byID[n.ID]
			reason := fmt.Sprintf("%s is pinned to legacy %s while other dependencies expect %s", key, n.Version, strings.Join(successor, ", "))
			if path, ok := g.PathFromRoot(n.ID); ok && len(path) > 2 {
				reason = fmt.Sprintf("%s is pinned to legacy %s via %s while other dependencies expect %s",
					key, n.Version, strings.Join(path[1:len(path)-1], " -> "), strings.Join(successor, ", "))
			}
			out = append(out, Blocker{
				Artifact: n.ID,
				Kind:     BlockerTransitiveConflict,
				Reason:   reason,
				Mitigations: []string{
					fmt.Sprintf("align %s on %s through dependency management or constraints", key, successor[len(successor)-1]),
					"exclude the legacy version from the dependency that pulls it in",
				},
				Confidence: c.Confidence,
			})
		}
	}
	return out
}

func summarize(cs []Classification) Summary {
	s := Summary{Total: len(cs)}
	for _, c := range cs {
		switch c.State {
		case StateLegacy:
			s.Legacy++
		case StateSuccessor:
			s.Successor++
		case StateMixed:
			s.Mixed++
		default:
			s.Unknown++
		}
	}
	switch {
	case s.Mixed > 0 || (s.Legacy > 0 && s.Successor > 0):
		s.State = StateMixed
	case s.Legacy > 0:
		s.State = StateLegacy
	case s.Successor > 0:
		s.State = StateSuccessor
	default:
		s.State = StateUnknown
	}
	return s
}
