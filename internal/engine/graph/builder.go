package graph

import (
	"errors"
	"log/slog"
	"sort"

	"nsmigrate/internal/engine/manifest"
	"nsmigrate/internal/shared/observability"
)

// Builder merges manifests into one Graph. Parse failures are recorded, never
// fatal.
type Builder struct {
	project   string
	manifests []*manifest.Manifest
	errors    []FileError
}

func NewBuilder(project string) *Builder {
	return &Builder{project: project}
}

func (b *Builder) AddManifest(m *manifest.Manifest) {
	if m != nil {
		b.manifests = append(b.manifests, m)
	}
}

func (b *Builder) AddError(path string, err error) {
	fe := FileError{Path: path, Message: err.Error()}
	var perr *manifest.ParseError
	if errors.As(err, &perr) {
		fe.Line = perr.Line
		fe.Message = perr.Err.Error()
	}
	b.errors = append(b.errors, fe)
}

// AddFiles parses each manifest path, recording failures as file errors.
func (b *Builder) AddFiles(paths []string) {
	for _, path := range paths {
		m, err := manifest.ParseFile(path)
		if err != nil {
			slog.Warn("skipping unparseable manifest", "path", path, "error", err)
			observability.ManifestsParsedTotal.WithLabelValues(formatLabel(path), "error").Inc()
			b.AddError(path, err)
			continue
		}
		observability.ManifestsParsedTotal.WithLabelValues(string(m.Format), "ok").Inc()
		b.AddManifest(m)
	}
}

func formatLabel(path string) string {
	if f, ok := manifest.Detect(path); ok {
		return string(f)
	}
	return "unknown"
}

func (b *Builder) Build() *Graph {
	g := newGraph()
	g.root = "root:" + b.project
	g.nodes[g.root] = Node{ID: g.root, Kind: KindRoot, Name: b.project}

	manifests := append([]*manifest.Manifest(nil), b.manifests...)
	sort.SliceStable(manifests, func(i, j int) bool { return manifests[i].Path < manifests[j].Path })
	manifest.ResolveInheritance(manifests)

	// Module nodes first so declarations can point at sibling modules.
	modules := make(map[string]string)
	for _, m := range manifests {
		if m.Module == nil || m.Format == manifest.FormatTree {
			continue
		}
		id := m.Module.Coordinate()
		if _, ok := g.nodes[id]; !ok {
			g.nodes[id] = Node{
				ID:       id,
				Kind:     KindModule,
				Group:    m.Module.Group,
				Name:     m.Module.Name,
				Version:  m.Module.Version,
				Manifest: m.Path,
			}
		}
		modules[m.Module.Key()] = id
		g.addEdge(Edge{From: g.root, To: id, Manifest: m.Path})
	}

	for _, m := range manifests {
		owner := g.root
		if m.Module != nil {
			if id, ok := modules[m.Module.Key()]; ok {
				owner = id
			}
		}
		for _, d := range m.Declarations {
			to := b.nodeFor(g, modules, d, m.Path)
			g.addEdge(Edge{From: owner, To: to, Scope: d.Scope, Manifest: m.Path})
		}
		for _, e := range m.Tree {
			from := owner
			transitive := false
			if !e.From.IsZero() && !(m.Module != nil && e.From.Key() == m.Module.Key()) {
				from = b.nodeFor(g, modules, e.From, m.Path)
				transitive = true
			}
			to := b.nodeFor(g, modules, e.To, m.Path)
			g.addEdge(Edge{From: from, To: to, Scope: e.To.Scope, Transitive: transitive, Manifest: m.Path})
		}
	}

	g.errors = append([]FileError(nil), b.errors...)
	sort.SliceStable(g.errors, func(i, j int) bool { return g.errors[i].Path < g.errors[j].Path })

	observability.GraphNodes.Set(float64(g.Len()))
	observability.GraphEdges.Set(float64(g.EdgeCount()))
	return g
}

func (b *Builder) nodeFor(g *Graph, modules map[string]string, d manifest.Declaration, path string) string {
	if id, ok := modules[d.Key()]; ok {
		return id
	}
	id := d.Coordinate()
	if _, ok := g.nodes[id]; !ok {
		g.nodes[id] = Node{
			ID:       id,
			Kind:     KindArtifact,
			Group:    d.Group,
			Name:     d.Name,
			Version:  d.Version,
			Scope:    d.Scope,
			Manifest: path,
			Line:     d.Line,
		}
	}
	return id
}
